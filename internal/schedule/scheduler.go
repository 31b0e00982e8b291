package schedule

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

// MaxCatchUp bounds the occurrences materialized for one obligation in a
// single run. Anything left over is picked up by the next run.
const MaxCatchUp = 1000

// instanceNamespace seeds the UUIDv5 identities of materialized instances.
var instanceNamespace = uuid.MustParse("6f1c3c2e-8a4b-4c55-9a51-0d3c1f6f2b7e")

const (
	SkipInvalid   SkipReason = "invalid"
	SkipClockSkew SkipReason = "clock_skew"
)

type (
	SkipReason string

	// Materialized answers whether an occurrence was already turned into a
	// transaction. Implementations are read-only snapshots.
	Materialized interface {
		Has(key string) bool
	}

	// KeySet is an in-memory Materialized.
	KeySet map[string]struct{}

	// Advance is the new LastProcessed for one obligation.
	Advance struct {
		ObligationID  string
		LastProcessed time.Time
	}

	Skip struct {
		ObligationID string
		Reason       SkipReason
		Err          error
	}

	Result struct {
		Instances []core.TransactionInstance
		Advances  []Advance
		Skipped   []Skip
	}
)

func (k KeySet) Has(key string) bool {
	_, ok := k[key]
	return ok
}

func (k KeySet) Add(key string) {
	k[key] = struct{}{}
}

// InstanceKey is the idempotency key of one occurrence.
func InstanceKey(obligationID string, occurrence time.Time) string {
	return obligationID + "@" + occurrence.Format("2006-01-02")
}

// InstanceID derives a stable identifier from the idempotency key.
func InstanceID(key string) string {
	return uuid.NewSHA1(instanceNamespace, []byte(key)).String()
}

// NextOccurrence returns the first occurrence strictly after `after`.
// ok is false when the rule has an end date and the next occurrence falls past it.
func NextOccurrence(rule core.RecurrenceRule, after time.Time) (next time.Time, ok bool, err error) {
	if err := rule.Validate(); err != nil {
		return time.Time{}, false, err
	}
	return nextOccurrence(rule, after)
}

func nextOccurrence(rule core.RecurrenceRule, after time.Time) (time.Time, bool, error) {
	stepper, err := GetStepper(rule.Frequency)
	if err != nil {
		return time.Time{}, false, err
	}
	next := stepper.Next(after, rule.StartDate)
	if rule.HasEnd() && next.After(*rule.EndDate) {
		return time.Time{}, false, nil
	}
	return next, true, nil
}

// IsDue reports whether the occurrence following the rule's anchor is at or
// before asOf. A rule whose LastProcessed is later than asOf is never due.
func IsDue(rule core.RecurrenceRule, asOf time.Time) (bool, error) {
	if err := rule.Validate(); err != nil {
		return false, err
	}
	if rule.LastProcessed != nil && rule.LastProcessed.After(asOf) {
		return false, nil
	}
	next, ok, err := nextOccurrence(rule, rule.Anchor())
	if err != nil || !ok {
		return false, err
	}
	return !next.After(asOf), nil
}

// Occurrences lists the occurrences strictly after `after` that fall in
// [from, until). Steppers implementing Seeker skip straight to from, so the
// distance between `after` and the window does not matter.
func Occurrences(rule core.RecurrenceRule, after, from, until time.Time) ([]time.Time, error) {
	if err := rule.Validate(); err != nil {
		return nil, err
	}
	stepper, err := GetStepper(rule.Frequency)
	if err != nil {
		return nil, err
	}
	cur := after
	if seeker, ok := stepper.(Seeker); ok && from.After(after) {
		cur = seeker.Seek(after, rule.StartDate, from)
	}

	var out []time.Time
	for {
		next, ok, err := nextOccurrence(rule, cur)
		if err != nil {
			return nil, err
		}
		if !ok || !next.Before(until) {
			return out, nil
		}
		if !next.After(cur) {
			return nil, fmt.Errorf("%w: %s stepper does not advance", core.ErrInvalidInput, rule.Frequency)
		}
		if !next.Before(from) {
			out = append(out, next)
		}
		cur = next
	}
}

// ProcessDue materializes every due occurrence of the active obligations up
// to asOf, catching up after downtime. Occurrences already in `existing`, or
// produced earlier in the same run, are skipped but still advance the rule.
// The obligations are not modified; the new LastProcessed values are
// returned as Advances for the caller to persist.
func ProcessDue(obligations []core.RecurringObligation, asOf time.Time, existing Materialized) (Result, error) {
	if asOf.IsZero() {
		return Result{}, fmt.Errorf("%w: asOf is required", core.ErrInvalidInput)
	}
	if existing == nil {
		existing = KeySet{}
	}

	var res Result
	seen := KeySet{}
	for _, ob := range obligations {
		if !ob.IsActive {
			continue
		}
		if err := ob.Validate(); err != nil {
			res.Skipped = append(res.Skipped, Skip{ObligationID: ob.ID, Reason: SkipInvalid, Err: err})
			continue
		}
		if ob.Rule.LastProcessed != nil && ob.Rule.LastProcessed.After(asOf) {
			res.Skipped = append(res.Skipped, Skip{ObligationID: ob.ID, Reason: SkipClockSkew, Err: core.ErrClockSkew})
			continue
		}

		last, advanced, err := materialize(ob, asOf, existing, seen, &res)
		if err != nil {
			if errors.Is(err, core.ErrInvalidInput) {
				res.Skipped = append(res.Skipped, Skip{ObligationID: ob.ID, Reason: SkipInvalid, Err: err})
				continue
			}
			return Result{}, err
		}
		if advanced {
			res.Advances = append(res.Advances, Advance{ObligationID: ob.ID, LastProcessed: last})
		}
	}
	return res, nil
}

func materialize(ob core.RecurringObligation, asOf time.Time, existing Materialized, seen KeySet, res *Result) (time.Time, bool, error) {
	cur := ob.Rule.Anchor()
	advanced := false
	for i := 0; i < MaxCatchUp; i++ {
		next, ok, err := nextOccurrence(ob.Rule, cur)
		if err != nil {
			return cur, advanced, err
		}
		if !ok || next.After(asOf) {
			break
		}
		cur, advanced = next, true

		key := InstanceKey(ob.ID, next)
		if existing.Has(key) || seen.Has(key) {
			continue
		}
		seen.Add(key)
		res.Instances = append(res.Instances, core.TransactionInstance{
			ID:             InstanceID(key),
			ObligationID:   ob.ID,
			SubjectID:      ob.SubjectID,
			OccurrenceDate: next,
			Amount:         ob.Amount,
			Kind:           ob.Kind,
			Description:    ob.Description,
			Category:       ob.Category,
		})
	}
	return cur, advanced, nil
}
