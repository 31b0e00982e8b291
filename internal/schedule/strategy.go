// Package schedule advances recurrence rules and materializes due occurrences.
//
// This file implements the Strategy Pattern for stepping a rule forward.
// Each frequency (daily, weekly, monthly, quarterly, yearly) has its own
// stepper that encapsulates how the next occurrence is computed.
package schedule

import (
	"fmt"
	"sync"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/period"
)

// Stepper is the strategy interface for computing the next occurrence.
type Stepper interface {
	// Next returns the first occurrence after `after`. start is the rule's
	// StartDate, used as the day-of-month anchor by calendar steppers.
	Next(after, start time.Time) time.Time
}

// Seeker is implemented by steppers that can jump over a long run of
// occurrences. Seek returns `after` or an occurrence following it that is
// strictly before target; stepping on from there with Next reaches the first
// occurrence at or after target in a few steps.
type Seeker interface {
	Seek(after, start, target time.Time) time.Time
}

// DayStepper advances by a fixed number of days.
type DayStepper struct {
	Days int
}

func (s DayStepper) Next(after, _ time.Time) time.Time {
	return period.AddDays(after, s.Days)
}

func (s DayStepper) Seek(after, _, target time.Time) time.Time {
	days := period.DaysUntil(after, target)
	if days <= 1 || s.Days < 1 {
		return after
	}
	return period.AddDays(after, (days-1)/s.Days*s.Days)
}

// MonthStepper advances by calendar months, anchored on the start day so
// that a rule starting on the 31st lands on the last day of short months
// and returns to the 31st afterwards.
type MonthStepper struct {
	Months int
}

func (s MonthStepper) Next(after, start time.Time) time.Time {
	return period.AddMonthsAnchored(after, s.Months, start.Day())
}

// Seek lands in a month at least one step before target's month. Anchored
// steps only depend on the month they start from, so k steps of n months
// equal one step of k*n months.
func (s MonthStepper) Seek(after, start, target time.Time) time.Time {
	if s.Months < 1 {
		return after
	}
	steps := period.MonthsBetween(after, target)/s.Months - 1
	if steps < 1 {
		return after
	}
	return period.AddMonthsAnchored(after, steps*s.Months, start.Day())
}

var (
	steppersMu sync.RWMutex
	steppers   = map[core.Frequency]Stepper{
		core.Daily:     DayStepper{Days: 1},
		core.Weekly:    DayStepper{Days: 7},
		core.Monthly:   MonthStepper{Months: 1},
		core.Quarterly: MonthStepper{Months: 3},
		core.Yearly:    MonthStepper{Months: 12},
	}
)

// GetStepper returns the stepper registered for a frequency.
func GetStepper(frequency core.Frequency) (Stepper, error) {
	steppersMu.RLock()
	defer steppersMu.RUnlock()
	s, ok := steppers[frequency]
	if !ok {
		return nil, fmt.Errorf("%w: unknown frequency %q", core.ErrInvalidInput, frequency)
	}
	return s, nil
}

// RegisterStepper adds or replaces the stepper for a frequency.
func RegisterStepper(frequency core.Frequency, s Stepper) {
	steppersMu.Lock()
	defer steppersMu.Unlock()
	steppers[frequency] = s
}
