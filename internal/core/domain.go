package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/period"
)

const (
	Daily     Frequency = "daily"
	Weekly    Frequency = "weekly"
	Monthly   Frequency = "monthly"
	Quarterly Frequency = "quarterly"
	Yearly    Frequency = "yearly"
)

const (
	Income  Kind = "income"
	Expense Kind = "expense"
)

const (
	DebtActive    DebtStatus = "active"
	DebtPaidOff   DebtStatus = "paid_off"
	DebtDefaulted DebtStatus = "defaulted"
)

const (
	BudgetWeekly  BudgetPeriod = "weekly"
	BudgetMonthly BudgetPeriod = "monthly"
	BudgetYearly  BudgetPeriod = "yearly"
)

type (
	Frequency    string
	Kind         string
	DebtStatus   string
	BudgetPeriod string

	// RecurrenceRule describes when a recurring obligation or bill occurs.
	// LastProcessed is nil until the first occurrence is materialized.
	RecurrenceRule struct {
		Frequency     Frequency `validate:"required,oneof=daily weekly monthly quarterly yearly"`
		StartDate     time.Time `validate:"required"`
		EndDate       *time.Time
		LastProcessed *time.Time
	}

	RecurringObligation struct {
		ID          string `validate:"required"`
		SubjectID   string `validate:"required"`
		Description string `validate:"max=200"`
		Category    string
		Amount      decimal.Decimal
		Kind        Kind `validate:"required,oneof=income expense"`
		IsActive    bool
		Rule        RecurrenceRule
	}

	// TransactionInstance is one materialized occurrence of an obligation.
	TransactionInstance struct {
		ID             string
		ObligationID   string
		SubjectID      string
		OccurrenceDate time.Time
		Amount         decimal.Decimal
		Kind           Kind
		Description    string
		Category       string
	}

	// Bill is a payable with a due date. A nil Rule means a one-off bill;
	// otherwise DueDate is the current occurrence and Rule generates the next ones.
	Bill struct {
		ID           string `validate:"required"`
		SubjectID    string `validate:"required"`
		Name         string `validate:"required,max=200"`
		Amount       decimal.Decimal
		DueDate      time.Time `validate:"required"`
		IsPaid       bool
		ReminderDays int `validate:"min=0,max=365"`
		Rule         *RecurrenceRule
	}

	Debt struct {
		ID               string `validate:"required"`
		SubjectID        string `validate:"required"`
		Name             string `validate:"required,max=200"`
		OriginalAmount   decimal.Decimal
		CurrentBalance   decimal.Decimal
		InterestRate     decimal.Decimal // annual percentage
		MinimumPayment   decimal.Decimal
		DueDay           int        `validate:"min=1,max=31"`
		Status           DebtStatus `validate:"required,oneof=active paid_off defaulted"`
		TargetPayoffDate *time.Time
	}

	// Budget is one period of a category allowance. EndDate is always
	// derived from StartDate and Period.
	Budget struct {
		ID             string `validate:"required"`
		SubjectID      string `validate:"required"`
		CategoryID     string `validate:"required"`
		Limit          decimal.Decimal
		Period         BudgetPeriod `validate:"required,oneof=weekly monthly yearly"`
		StartDate      time.Time    `validate:"required"`
		EndDate        time.Time    `validate:"required"`
		RolloverAmount decimal.Decimal
		Spent          decimal.Decimal
	}

	Goal struct {
		ID                  string `validate:"required"`
		SubjectID           string `validate:"required"`
		Name                string `validate:"required,max=200"`
		TargetAmount        decimal.Decimal
		CurrentAmount       decimal.Decimal
		MonthlyContribution decimal.Decimal
		Deadline            time.Time `validate:"required"`
	}

	Account struct {
		ID        string `validate:"required"`
		SubjectID string `validate:"required"`
		Name      string `validate:"required,max=200"`
		Balance   decimal.Decimal
	}

	// HistoricalAverages are trailing monthly averages supplied by the caller.
	HistoricalAverages struct {
		Income   decimal.Decimal
		Expenses decimal.Decimal
	}
)

// Anchor returns the date the rule counts from: LastProcessed when set, StartDate otherwise.
func (r RecurrenceRule) Anchor() time.Time {
	if r.LastProcessed != nil && !r.LastProcessed.IsZero() {
		return *r.LastProcessed
	}
	return r.StartDate
}

// HasEnd reports whether the rule has an end date.
func (r RecurrenceRule) HasEnd() bool {
	return r.EndDate != nil && !r.EndDate.IsZero()
}

func (r RecurrenceRule) Validate() error {
	if err := validateStruct(r); err != nil {
		return err
	}
	if r.HasEnd() && r.EndDate.Before(r.StartDate) {
		return invalid("end_date", "must not be before start date")
	}
	return nil
}

func (o RecurringObligation) Validate() error {
	if err := validateStruct(o); err != nil {
		return err
	}
	if len(strings.TrimSpace(o.Description)) > 200 {
		return invalid("description", "too long (max 200 characters)")
	}
	if err := ValidatePositive("amount", o.Amount); err != nil {
		return err
	}
	if err := o.Rule.Validate(); err != nil {
		return err
	}
	return nil
}

func (b Bill) Validate() error {
	if err := validateStruct(b); err != nil {
		return err
	}
	if err := ValidatePositive("amount", b.Amount); err != nil {
		return err
	}
	if b.Rule != nil {
		if err := b.Rule.Validate(); err != nil {
			return err
		}
	}
	return nil
}

func (d Debt) Validate() error {
	if err := validateStruct(d); err != nil {
		return err
	}
	amounts := []struct {
		field string
		value decimal.Decimal
	}{
		{"original_amount", d.OriginalAmount},
		{"current_balance", d.CurrentBalance},
		{"interest_rate", d.InterestRate},
		{"minimum_payment", d.MinimumPayment},
	}
	for _, a := range amounts {
		if err := ValidateNonNegative(a.field, a.value); err != nil {
			return err
		}
	}
	// Defaulted debts suspend the balance ceiling.
	if d.Status != DebtDefaulted && d.CurrentBalance.GreaterThan(d.OriginalAmount) {
		return invalid("current_balance", "must not exceed original amount")
	}
	return nil
}

func (b Budget) Validate() error {
	if err := validateStruct(b); err != nil {
		return err
	}
	if err := ValidateNonNegative("limit", b.Limit); err != nil {
		return err
	}
	if err := ValidateNonNegative("spent", b.Spent); err != nil {
		return err
	}
	end, err := b.Period.End(b.StartDate)
	if err != nil {
		return err
	}
	if !b.EndDate.Equal(end) {
		return invalid("end_date", "must be one "+string(b.Period)+" period after start date")
	}
	return nil
}

// Unit maps a budget period to its calendar length.
func (p BudgetPeriod) Unit() (period.Unit, error) {
	switch p {
	case BudgetWeekly:
		return period.Week, nil
	case BudgetMonthly:
		return period.Month, nil
	case BudgetYearly:
		return period.Year, nil
	default:
		return 0, invalid("period", "unknown budget period "+string(p))
	}
}

// End derives the end of the period starting at start.
func (p BudgetPeriod) End(start time.Time) (time.Time, error) {
	unit, err := p.Unit()
	if err != nil {
		return time.Time{}, err
	}
	return period.End(start, unit), nil
}

func (g Goal) Validate() error {
	if err := validateStruct(g); err != nil {
		return err
	}
	if err := ValidatePositive("target_amount", g.TargetAmount); err != nil {
		return err
	}
	if err := ValidateNonNegative("current_amount", g.CurrentAmount); err != nil {
		return err
	}
	return ValidateNonNegative("monthly_contribution", g.MonthlyContribution)
}

func (a Account) Validate() error {
	return validateStruct(a)
}

func (h HistoricalAverages) Validate() error {
	if err := ValidateNonNegative("averages.income", h.Income); err != nil {
		return err
	}
	return ValidateNonNegative("averages.expenses", h.Expenses)
}

// Signed returns the amount with the sign implied by the kind: expenses are negative.
func (t TransactionInstance) Signed() decimal.Decimal {
	if t.Kind == Expense {
		return t.Amount.Neg()
	}
	return t.Amount
}

// IsOpen reports whether the debt still expects payments.
func (d Debt) IsOpen() bool {
	return d.Status == DebtActive && d.CurrentBalance.IsPositive()
}
