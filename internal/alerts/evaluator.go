package alerts

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"fintrack/internal/core"
)

var alertNamespace = uuid.MustParse("0b8f6c4e-2d57-4f0e-9a3c-7e51d2a9c6b1")

// Diff is the change set one evaluation asks the caller to persist.
// ToResolve holds alerts whose condition cleared, already archived and
// stamped with ResolvedAt.
type Diff struct {
	ToCreate  []core.Alert
	ToUpdate  []core.Alert
	ToResolve []core.Alert
}

// Empty reports whether the diff carries no change.
func (d Diff) Empty() bool {
	return len(d.ToCreate) == 0 && len(d.ToUpdate) == 0 && len(d.ToResolve) == 0
}

// AlertID derives a stable identity for an alert raised at asOf.
func AlertID(subjectID, dedupKey string, asOf time.Time) string {
	return uuid.NewSHA1(alertNamespace, []byte(subjectID+"|"+dedupKey+"|"+asOf.UTC().Format(time.RFC3339Nano))).String()
}

func (s Snapshot) validate() error {
	if s.SubjectID == "" {
		return fmt.Errorf("%w: subject is required", core.ErrInvalidInput)
	}
	if s.AsOf.IsZero() {
		return fmt.Errorf("%w: asOf is required", core.ErrInvalidInput)
	}
	for _, b := range s.Budgets {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("budget %s: %w", b.ID, err)
		}
	}
	for _, b := range s.Bills {
		if err := b.Validate(); err != nil {
			return fmt.Errorf("bill %s: %w", b.ID, err)
		}
	}
	for _, a := range s.Accounts {
		if err := a.Validate(); err != nil {
			return fmt.Errorf("account %s: %w", a.ID, err)
		}
	}
	for _, g := range s.Goals {
		if err := g.Validate(); err != nil {
			return fmt.Errorf("goal %s: %w", g.ID, err)
		}
	}
	for _, d := range s.Debts {
		if err := d.Validate(); err != nil {
			return fmt.Errorf("debt %s: %w", d.ID, err)
		}
	}
	return nil
}

// Evaluate runs the default rules.
func Evaluate(s Snapshot, existing []core.Alert, t Thresholds) (Diff, error) {
	return EvaluateRules(DefaultRules(), s, existing, t)
}

// EvaluateRules runs rules against the snapshot and reconciles the result
// with the existing alerts of the subject.
//
// Per type and subject key:
//   - an open alert is updated in place when its content changed, and left
//     alone otherwise; a severity escalation also marks it unread again.
//   - an alert the user archived while the condition held keeps the
//     condition silent, unless the severity escalates.
//   - a condition with no alert on record creates one.
//   - an alert whose condition cleared is archived and stamped resolved.
//
// Existing alerts of types the rules do not manage, and alerts that were
// already resolved, are never touched.
func EvaluateRules(rules []Rule, s Snapshot, existing []core.Alert, t Thresholds) (Diff, error) {
	if err := s.validate(); err != nil {
		return Diff{}, err
	}
	if err := t.Validate(); err != nil {
		return Diff{}, err
	}

	managed := map[core.AlertType]bool{}
	var candidates []core.Alert
	for _, r := range rules {
		for _, typ := range r.Types {
			managed[typ] = true
		}
		candidates = append(candidates, r.Eval(s, t)...)
	}

	// The first unresolved alert per key wins; later duplicates are resolved.
	current := map[string]core.Alert{}
	var order []string
	var diff Diff
	for _, a := range existing {
		if a.SubjectID != s.SubjectID || !managed[a.Type] || a.IsResolved() {
			continue
		}
		key := a.DedupKey()
		if _, dup := current[key]; dup {
			diff.ToResolve = append(diff.ToResolve, resolve(a, s.AsOf))
			continue
		}
		current[key] = a
		order = append(order, key)
	}

	live := map[string]bool{}
	for _, c := range candidates {
		key := c.DedupKey()
		if live[key] {
			continue
		}
		live[key] = true

		prev, ok := current[key]
		switch {
		case !ok:
			diff.ToCreate = append(diff.ToCreate, create(c, s.AsOf))
		case prev.IsArchived:
			if c.Severity.Escalates(prev.Severity) {
				diff.ToResolve = append(diff.ToResolve, resolve(prev, s.AsOf))
				diff.ToCreate = append(diff.ToCreate, create(c, s.AsOf))
			}
		case !prev.SameContent(c):
			diff.ToUpdate = append(diff.ToUpdate, update(prev, c, s.AsOf))
		}
	}

	for _, key := range order {
		if !live[key] {
			diff.ToResolve = append(diff.ToResolve, resolve(current[key], s.AsOf))
		}
	}
	return diff, nil
}

func create(c core.Alert, asOf time.Time) core.Alert {
	c.ID = AlertID(c.SubjectID, c.DedupKey(), asOf)
	c.CreatedAt = asOf
	c.IsRead = false
	c.IsArchived = false
	c.ResolvedAt = nil
	return c
}

func update(prev, c core.Alert, asOf time.Time) core.Alert {
	next := prev
	if c.Severity.Escalates(prev.Severity) {
		next.IsRead = false
	}
	next.Severity = c.Severity
	next.Title = c.Title
	next.Message = c.Message
	next.ActionRef = c.ActionRef
	next.Amount = c.Amount
	next.CreatedAt = asOf
	return next
}

func resolve(a core.Alert, asOf time.Time) core.Alert {
	at := asOf
	a.IsArchived = true
	a.ResolvedAt = &at
	return a
}
