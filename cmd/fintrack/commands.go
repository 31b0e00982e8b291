package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"sort"
	"strconv"
	"time"

	"fintrack/internal/amqp"
	"fintrack/internal/cli"
	"fintrack/internal/config"
	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/services"
	"fintrack/internal/storage"
)

// app is the state a command works against.
type app struct {
	logger *log.Logger
	cfg    *config.Config
	repo   *storage.SQLiteRepository
	client *amqp.Client
	svc    *cli.Services
}

// openApp loads configuration and opens storage. withEvents connects the
// AMQP publisher when one is configured.
func openApp(withEvents bool) (*app, error) {
	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentCLI, os.Stderr)
	cfg := cli.LoadAndValidateConfig(logger)
	repo := cli.InitSQLite(logger, cfg.SQLiteDBPath)

	a := &app{logger: logger, cfg: cfg, repo: repo}
	if withEvents {
		a.client = cli.InitPublisher(logger, cfg)
	}
	svc, err := cli.BuildServices(cfg, repo, a.client, nil, logger)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.svc = svc
	return a, nil
}

func (a *app) Close() {
	if a.client != nil {
		a.client.Close()
	}
	if err := a.repo.Close(); err != nil {
		a.logger.Warn("Failed to close repository", log.FieldError, err)
	}
}

func loadCommand(args []string) error {
	fs := flag.NewFlagSet("load", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return fmt.Errorf("load takes exactly one file")
	}
	doc, err := ReadDocument(fs.Arg(0))
	if err != nil {
		return err
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	stats, err := doc.Apply(context.Background(), a.repo)
	if err != nil {
		return err
	}
	t := NewTableWriter("ENTITY", "COUNT")
	t.AddRow("accounts", strconv.Itoa(stats.Accounts))
	t.AddRow("obligations", strconv.Itoa(stats.Obligations))
	t.AddRow("bills", strconv.Itoa(stats.Bills))
	t.AddRow("debts", strconv.Itoa(stats.Debts))
	t.AddRow("budgets", strconv.Itoa(stats.Budgets))
	t.AddRow("goals", strconv.Itoa(stats.Goals))
	t.AddRow("transactions", strconv.Itoa(stats.Transactions))
	fmt.Printf("Loaded subject %s\n", doc.Subject)
	t.Print(os.Stdout)
	return nil
}

func processCommand(args []string) error {
	fs := flag.NewFlagSet("process", flag.ContinueOnError)
	subject := fs.String("subject", "", "only process this subject")
	var asOf dateFlag
	fs.Var(&asOf, "as-of", "evaluation date (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	if *subject != "" {
		res, err := a.svc.Recurring.ProcessSubject(ctx, *subject, asOf.orToday())
		if err != nil {
			return err
		}
		fmt.Printf("Inserted %d instance(s) for %s\n", res.Inserted, *subject)
		if len(res.Skipped) > 0 {
			t := NewTableWriter("OBLIGATION", "REASON")
			for _, s := range res.Skipped {
				t.AddRow(s.ObligationID, string(s.Reason))
			}
			t.Print(os.Stdout)
		}
		return nil
	}

	report, err := a.svc.Recurring.ProcessDue(ctx, asOf.orToday())
	if err != nil {
		return err
	}
	printReport("processed", report)
	return report.Err()
}

func rolloverCommand(args []string) error {
	fs := flag.NewFlagSet("rollover", flag.ContinueOnError)
	var asOf dateFlag
	fs.Var(&asOf, "as-of", "evaluation date (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.svc.Rollover.Rollover(context.Background(), asOf.orToday())
	if err != nil {
		return err
	}
	printReport("rolled over", report)
	return report.Err()
}

func evaluateCommand(args []string) error {
	fs := flag.NewFlagSet("evaluate", flag.ContinueOnError)
	subject := fs.String("subject", "", "only evaluate this subject")
	var asOf dateFlag
	fs.Var(&asOf, "as-of", "evaluation date (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	if *subject != "" {
		diff, err := a.svc.Alerts.Evaluate(ctx, *subject, asOf.orToday())
		if err != nil {
			return err
		}
		t := NewTableWriter("CHANGE", "COUNT")
		t.AddRow("created", strconv.Itoa(len(diff.ToCreate)))
		t.AddRow("updated", strconv.Itoa(len(diff.ToUpdate)))
		t.AddRow("resolved", strconv.Itoa(len(diff.ToResolve)))
		t.Print(os.Stdout)
		return nil
	}

	report, err := a.svc.Alerts.EvaluateAll(ctx, asOf.orToday())
	if err != nil {
		return err
	}
	printReport("changed", report)
	return report.Err()
}

func printReport(verb string, r services.Report) {
	fmt.Printf("%d subject(s), %d %s, %d failed\n", r.Subjects, r.Changed, verb, len(r.Failed))
	if len(r.Failed) == 0 {
		return
	}
	subjects := make([]string, 0, len(r.Failed))
	for s := range r.Failed {
		subjects = append(subjects, s)
	}
	sort.Strings(subjects)
	t := NewTableWriter("SUBJECT", "ERROR")
	for _, s := range subjects {
		t.AddRow(s, r.Failed[s].Error())
	}
	t.Print(os.Stdout)
}

func alertsCommand(args []string) error {
	fs := flag.NewFlagSet("alerts", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject ID (required)")
	archived := fs.Bool("archived", false, "include archived and resolved alerts")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	var list []core.Alert
	if *archived {
		list, err = a.repo.Alerts(ctx, *subject, true)
	} else {
		list, err = a.svc.Alerts.Active(ctx, *subject)
	}
	if err != nil {
		return err
	}
	unread, err := a.svc.Alerts.UnreadCount(ctx, *subject)
	if err != nil {
		return err
	}

	fmt.Printf("%d alert(s), %d unread\n", len(list), unread)
	if len(list) == 0 {
		return nil
	}
	t := NewTableWriter("ID", "SEVERITY", "TYPE", "TITLE", "STATE", "CREATED")
	for _, al := range list {
		t.AddRow(al.ID, string(al.Severity), string(al.Type), al.Title, alertState(al), formatDate(al.CreatedAt))
	}
	t.Print(os.Stdout)
	return nil
}

func alertState(a core.Alert) string {
	switch {
	case a.IsResolved():
		return "resolved"
	case a.IsArchived:
		return "archived"
	case a.IsRead:
		return "read"
	default:
		return "unread"
	}
}

func readCommand(args []string) error {
	fs := flag.NewFlagSet("read", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject ID (required)")
	all := fs.Bool("all", false, "mark every active alert read")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}
	if !*all && fs.NArg() == 0 {
		return fmt.Errorf("give alert IDs or --all")
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	if *all {
		n, err := a.svc.Alerts.MarkAllAsRead(ctx, *subject)
		if err != nil {
			return err
		}
		fmt.Printf("Marked %d alert(s) read\n", n)
		return nil
	}
	for _, id := range fs.Args() {
		if _, err := a.svc.Alerts.MarkAsRead(ctx, *subject, id); err != nil {
			return fmt.Errorf("alert %s: %w", id, err)
		}
	}
	fmt.Printf("Marked %d alert(s) read\n", fs.NArg())
	return nil
}

func archiveCommand(args []string) error {
	fs := flag.NewFlagSet("archive", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject ID (required)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" || fs.NArg() == 0 {
		return fmt.Errorf("--subject and at least one alert ID are required")
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	for _, id := range fs.Args() {
		if _, err := a.svc.Alerts.Archive(context.Background(), *subject, id); err != nil {
			return fmt.Errorf("alert %s: %w", id, err)
		}
	}
	fmt.Printf("Archived %d alert(s)\n", fs.NArg())
	return nil
}

func forecastCommand(args []string) error {
	fs := flag.NewFlagSet("forecast", flag.ContinueOnError)
	subject := fs.String("subject", "", "subject ID (required)")
	months := fs.Int("months", 0, "horizon in months (default FORECAST_HORIZON_MONTHS)")
	var asOf dateFlag
	fs.Var(&asOf, "as-of", "evaluation date (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *subject == "" {
		return fmt.Errorf("--subject is required")
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()

	horizon := *months
	if horizon == 0 {
		horizon = a.cfg.ForecastHorizonMonths
	}
	res, err := a.svc.Forecast.Forecast(context.Background(), *subject, asOf.orToday(), horizon)
	if err != nil {
		return err
	}

	t := NewTableWriter("MONTH", "INCOME", "EXPENSES", "BALANCE")
	for _, p := range res.Points {
		t.AddRow(p.Date.Format("2006-01"), p.Income.StringFixed(2), p.Expenses.StringFixed(2), p.ProjectedBalance.StringFixed(2))
	}
	t.Print(os.Stdout)

	s := res.Summary
	fmt.Printf("Starting balance %s, ending balance %s\n", s.StartingBalance.StringFixed(2), s.EndingBalance.StringFixed(2))
	fmt.Printf("Lowest balance %s in %s\n", s.LowestBalance.StringFixed(2), s.LowestBalanceDate.Format("2006-01"))
	if s.IncomeFromAverages || s.ExpensesFromAverages {
		fmt.Println("Some months use historical averages")
	}
	for _, in := range s.Insights {
		fmt.Printf("  * %s\n", in.Message)
	}
	return nil
}

func payoffCommand(args []string) error {
	fs := flag.NewFlagSet("payoff", flag.ContinueOnError)
	subject := fs.String("subject", "", "project every debt of this subject")
	var asOf dateFlag
	fs.Var(&asOf, "as-of", "evaluation date (default today)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if (*subject == "") == (fs.NArg() == 0) {
		return fmt.Errorf("give either --subject or one debt ID")
	}

	a, err := openApp(false)
	if err != nil {
		return err
	}
	defer a.Close()
	ctx := context.Background()

	var plan []services.DebtPayoff
	if *subject != "" {
		plan, err = a.svc.Payoff.Plan(ctx, *subject, asOf.orToday())
	} else {
		var p services.DebtPayoff
		p, err = a.svc.Payoff.ProjectByID(ctx, fs.Arg(0), asOf.orToday())
		plan = []services.DebtPayoff{p}
	}
	if err != nil {
		return err
	}

	t := NewTableWriter("DEBT", "BALANCE", "RATE %", "PAYMENT", "MONTHS", "INTEREST", "PAID OFF")
	for _, p := range plan {
		months := strconv.Itoa(p.Projection.Months)
		paidOff := formatDate(p.PayoffDate)
		if p.Projection.NonConvergent {
			months = "-"
			paidOff = string(p.Projection.Reason)
		}
		t.AddRow(p.Debt.Name,
			p.Debt.CurrentBalance.StringFixed(2),
			p.Debt.InterestRate.String(),
			p.Debt.MinimumPayment.StringFixed(2),
			months,
			p.Projection.TotalInterest.StringFixed(2),
			paidOff)
	}
	t.Print(os.Stdout)
	return nil
}

func eventsCommand(args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	a, err := openApp(true)
	if err != nil {
		return err
	}
	defer a.Close()
	if a.client == nil {
		return fmt.Errorf("AMQP is not configured or unreachable")
	}

	ctx, done := cli.GracefulShutdown(a.logger, 5*time.Second, nil)
	err = a.client.Consume(ctx, func(_ context.Context, ev *amqp.Event) error {
		data, err := ev.ToJSON()
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	})
	if ctx.Err() != nil {
		<-done
		return nil
	}
	return err
}

func migrateCommand(args []string) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	cli.LoadEnvFile()
	logger := cli.SetupLogger(log.ComponentCLI, os.Stderr)
	cfg := cli.LoadAndValidateConfig(logger)

	if err := storage.RunMigrations(cfg.SQLiteDBPath); err != nil {
		return err
	}
	v, dirty, err := storage.SchemaVersion(cfg.SQLiteDBPath)
	if err != nil {
		return err
	}
	fmt.Printf("Schema version %d (dirty: %t)\n", v, dirty)
	return nil
}
