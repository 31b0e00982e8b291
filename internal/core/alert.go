package core

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	AlertBudgetLimit AlertType = "budget_limit"
	AlertBillDue     AlertType = "bill_due"
	AlertLowBalance  AlertType = "low_balance"
	AlertGoalBehind  AlertType = "goal_behind"
	AlertGoalReached AlertType = "goal_reached"
	AlertDebtDue     AlertType = "debt_due"
	AlertDebtBehind  AlertType = "debt_behind"
)

const (
	SeverityCritical Severity = "critical"
	SeverityWarning  Severity = "warning"
	SeveritySuccess  Severity = "success"
	SeverityInfo     Severity = "info"
)

type (
	AlertType string
	Severity  string

	// Alert is a notification about one condition on one subject.
	// SubjectKey identifies the thing the condition is about, e.g. "budget:42".
	// ResolvedAt is set once the condition cleared; an archived alert without
	// it was archived by the user while the condition still held.
	Alert struct {
		ID         string
		SubjectID  string
		Type       AlertType
		SubjectKey string
		Severity   Severity
		Title      string
		Message    string
		IsRead     bool
		IsArchived bool
		ActionRef  string
		Amount     decimal.NullDecimal
		CreatedAt  time.Time
		ResolvedAt *time.Time
	}
)

// DedupKey is the identity of the underlying condition.
func (a Alert) DedupKey() string {
	return string(a.Type) + "|" + a.SubjectKey
}

// IsOpen reports whether the alert still participates in dedup.
func (a Alert) IsOpen() bool {
	return !a.IsArchived
}

// IsResolved reports whether the evaluator closed the alert.
func (a Alert) IsResolved() bool {
	return a.ResolvedAt != nil
}

// MarkRead moves unread to read. Returns false when nothing changed.
func (a *Alert) MarkRead() bool {
	if a.IsRead {
		return false
	}
	a.IsRead = true
	return true
}

// Archive moves an alert to archived. Returns false when it already was.
func (a *Alert) Archive() bool {
	if a.IsArchived {
		return false
	}
	a.IsArchived = true
	return true
}

// SameContent reports whether b carries the same user-visible content as a.
func (a Alert) SameContent(b Alert) bool {
	if a.Type != b.Type || a.Severity != b.Severity || a.Title != b.Title || a.Message != b.Message || a.ActionRef != b.ActionRef {
		return false
	}
	if a.Amount.Valid != b.Amount.Valid {
		return false
	}
	return !a.Amount.Valid || a.Amount.Decimal.Equal(b.Amount.Decimal)
}

var severityRank = map[Severity]int{
	SeverityInfo:     1,
	SeveritySuccess:  1,
	SeverityWarning:  2,
	SeverityCritical: 3,
}

// Escalates reports whether s ranks above prev.
func (s Severity) Escalates(prev Severity) bool {
	return severityRank[s] > severityRank[prev]
}
