package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"
)

// Command is one fintrack subcommand.
type Command struct {
	Name        string
	Description string
	Usage       string
	Examples    []string
	Run         func(args []string) error
}

func (c *Command) PrintUsage(w io.Writer) {
	fmt.Fprintf(w, "%s\n\n", c.Description)
	fmt.Fprintf(w, "USAGE:\n    %s\n\n", c.Usage)
	if len(c.Examples) > 0 {
		fmt.Fprintln(w, "EXAMPLES:")
		for _, example := range c.Examples {
			fmt.Fprintf(w, "    %s\n", example)
		}
		fmt.Fprintln(w)
	}
}

// VersionInfo is set through ldflags at build time.
type VersionInfo struct {
	Version string
	Commit  string
	Date    string
}

// CommandRegistry dispatches os.Args to registered commands and lists them
// in registration order.
type CommandRegistry struct {
	commands map[string]*Command
	order    []string
	version  VersionInfo
	out      io.Writer
}

func NewCommandRegistry(v VersionInfo, out io.Writer) *CommandRegistry {
	return &CommandRegistry{
		commands: make(map[string]*Command),
		version:  v,
		out:      out,
	}
}

func (r *CommandRegistry) Register(cmd *Command) {
	if _, exists := r.commands[cmd.Name]; !exists {
		r.order = append(r.order, cmd.Name)
	}
	r.commands[cmd.Name] = cmd
}

func (r *CommandRegistry) Execute(args []string) error {
	if len(args) < 1 {
		r.PrintHelp(r.out)
		return fmt.Errorf("no command specified")
	}

	name := args[0]
	switch name {
	case "help", "-h", "--help":
		if len(args) > 1 {
			if cmd, ok := r.commands[args[1]]; ok {
				cmd.PrintUsage(r.out)
				return nil
			}
		}
		r.PrintHelp(r.out)
		return nil
	case "version", "--version":
		fmt.Fprintf(r.out, "fintrack %s (commit %s, built %s)\n", r.version.Version, r.version.Commit, r.version.Date)
		return nil
	}

	cmd, ok := r.commands[name]
	if !ok {
		r.PrintHelp(os.Stderr)
		return fmt.Errorf("unknown command: %s", name)
	}
	// Commands parse with flag.ContinueOnError; -h has already printed
	// the flag defaults.
	if err := cmd.Run(args[1:]); err != nil && !errors.Is(err, flag.ErrHelp) {
		return err
	}
	return nil
}

func (r *CommandRegistry) PrintHelp(w io.Writer) {
	fmt.Fprintln(w, "fintrack - recurring obligations, budgets, forecasts and alerts")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "USAGE:")
	fmt.Fprintln(w, "    fintrack <command> [arguments]")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "COMMANDS:")
	for _, name := range r.order {
		fmt.Fprintf(w, "    %-10s %s\n", name, r.commands[name].Description)
	}
	fmt.Fprintf(w, "    %-10s %s\n", "version", "Print version information")
	fmt.Fprintf(w, "    %-10s %s\n", "help", "Show help for fintrack or a command")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Run 'fintrack help <command>' for more information on a command.")
}

// TableWriter renders rows as an aligned box table.
type TableWriter struct {
	headers []string
	rows    [][]string
	widths  []int
}

func NewTableWriter(headers ...string) *TableWriter {
	widths := make([]int, len(headers))
	for i, h := range headers {
		widths[i] = len([]rune(h))
	}
	return &TableWriter{headers: headers, widths: widths}
}

func (t *TableWriter) AddRow(row ...string) {
	t.rows = append(t.rows, row)
	for i, cell := range row {
		if n := len([]rune(cell)); i < len(t.widths) && n > t.widths[i] {
			t.widths[i] = n
		}
	}
}

func (t *TableWriter) Print(w io.Writer) {
	t.printSeparator(w, "┌", "┬", "┐")
	t.printRow(w, t.headers)
	t.printSeparator(w, "├", "┼", "┤")
	for _, row := range t.rows {
		t.printRow(w, row)
	}
	t.printSeparator(w, "└", "┴", "┘")
}

func (t *TableWriter) printSeparator(w io.Writer, left, mid, right string) {
	var b strings.Builder
	b.WriteString(left)
	for i, width := range t.widths {
		b.WriteString(strings.Repeat("─", width+2))
		if i < len(t.widths)-1 {
			b.WriteString(mid)
		}
	}
	b.WriteString(right)
	fmt.Fprintln(w, b.String())
}

func (t *TableWriter) printRow(w io.Writer, row []string) {
	var b strings.Builder
	b.WriteString("│")
	for i, width := range t.widths {
		cell := ""
		if i < len(row) {
			cell = row[i]
		}
		b.WriteString(" ")
		b.WriteString(cell)
		b.WriteString(strings.Repeat(" ", width-len([]rune(cell))))
		b.WriteString(" │")
	}
	fmt.Fprintln(w, b.String())
}

// dateFlag is a flag.Value holding a YYYY-MM-DD date in UTC.
type dateFlag struct {
	t time.Time
}

func (d *dateFlag) String() string {
	if d.t.IsZero() {
		return ""
	}
	return d.t.Format(dateLayout)
}

func (d *dateFlag) Set(s string) error {
	t, err := time.ParseInLocation(dateLayout, s, time.UTC)
	if err != nil {
		return fmt.Errorf("expected YYYY-MM-DD: %w", err)
	}
	d.t = t
	return nil
}

// orToday returns the date, or today's UTC date when unset.
func (d *dateFlag) orToday() time.Time {
	if d.t.IsZero() {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	}
	return d.t
}

const dateLayout = "2006-01-02"

func formatDate(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return t.Format(dateLayout)
}
