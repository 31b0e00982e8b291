// Package period provides pure date arithmetic: calendar steps with
// month-end clamping and period boundaries. Nothing here reads the wall clock.
package period

import (
	"fmt"
	"math"
	"time"
)

const (
	Day Unit = iota
	Week
	Month
	Quarter
	Year
)

// Unit is a calendar step.
type Unit int

func (u Unit) String() string {
	switch u {
	case Day:
		return "day"
	case Week:
		return "week"
	case Month:
		return "month"
	case Quarter:
		return "quarter"
	case Year:
		return "year"
	default:
		return fmt.Sprintf("unit(%d)", int(u))
	}
}

// DaysIn returns the number of days in the given month.
func DaysIn(year int, month time.Month) int {
	return time.Date(year, month+1, 0, 0, 0, 0, 0, time.UTC).Day()
}

func AddDays(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, n)
}

func AddWeeks(t time.Time, n int) time.Time {
	return t.AddDate(0, 0, 7*n)
}

// AddMonths moves t by n calendar months keeping its day of month, clamped
// to the last day of the target month (Jan 31 + 1 month = Feb 28/29).
func AddMonths(t time.Time, n int) time.Time {
	return AddMonthsAnchored(t, n, t.Day())
}

// AddYears moves t by n calendar years; Feb 29 lands on Feb 28 in common years.
func AddYears(t time.Time, n int) time.Time {
	return AddMonths(t, 12*n)
}

// AddMonthsAnchored moves t by n calendar months and places the result on
// anchorDay, clamped to the target month. Repeated steps with the same anchor
// never drift: 31 -> Feb 28 -> Mar 31.
func AddMonthsAnchored(t time.Time, n int, anchorDay int) time.Time {
	y, m, _ := t.Date()
	// Normalize via the first of the month so time.Date does not overflow days.
	first := time.Date(y, m, 1, 0, 0, 0, 0, time.UTC).AddDate(0, n, 0)
	day := anchorDay
	if last := DaysIn(first.Year(), first.Month()); day > last {
		day = last
	}
	if day < 1 {
		day = 1
	}
	h, mi, s := t.Clock()
	return time.Date(first.Year(), first.Month(), day, h, mi, s, t.Nanosecond(), t.Location())
}

// Add steps t by n units.
func Add(t time.Time, u Unit, n int) time.Time {
	switch u {
	case Day:
		return AddDays(t, n)
	case Week:
		return AddWeeks(t, n)
	case Month:
		return AddMonths(t, n)
	case Quarter:
		return AddMonths(t, 3*n)
	case Year:
		return AddYears(t, n)
	default:
		panic(fmt.Sprintf("period: unknown unit %d", int(u)))
	}
}

// End returns the exclusive end of the period of length u starting at start.
func End(start time.Time, u Unit) time.Time {
	return Add(start, u, 1)
}

func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func StartOfMonth(t time.Time) time.Time {
	y, m, _ := t.Date()
	return time.Date(y, m, 1, 0, 0, 0, 0, t.Location())
}

// SameDay compares calendar dates in t's own location.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

// DaysUntil counts whole calendar days from a to b (negative when b is earlier).
func DaysUntil(a, b time.Time) int {
	a = StartOfDay(a)
	b = time.Date(b.Year(), b.Month(), b.Day(), 0, 0, 0, 0, a.Location())
	return int(math.Round(b.Sub(a).Hours() / 24))
}

// MonthsBetween counts calendar month boundaries from a to b.
func MonthsBetween(a, b time.Time) int {
	return (b.Year()-a.Year())*12 + int(b.Month()) - int(a.Month())
}

// Range is the half-open interval [Start, End).
type Range struct {
	Start time.Time
	End   time.Time
}

func (r Range) Contains(t time.Time) bool {
	return !t.Before(r.Start) && t.Before(r.End)
}

func (r Range) String() string {
	return r.Start.Format("2006-01-02") + "/" + r.End.Format("2006-01-02")
}

// MonthRange returns the calendar month containing t.
func MonthRange(t time.Time) Range {
	start := StartOfMonth(t)
	return Range{Start: start, End: start.AddDate(0, 1, 0)}
}

// Months returns n consecutive calendar months, the first one being the
// month after the one containing t.
func Months(t time.Time, n int) []Range {
	out := make([]Range, 0, n)
	start := StartOfMonth(t)
	for i := 1; i <= n; i++ {
		s := start.AddDate(0, i, 0)
		out = append(out, Range{Start: s, End: s.AddDate(0, 1, 0)})
	}
	return out
}
