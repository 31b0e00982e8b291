package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"fintrack/internal/core"
	"fintrack/internal/rollover"
)

// Document is the YAML form of one subject's financial state. Amounts are
// decimal strings or plain numbers; dates are YYYY-MM-DD.
type Document struct {
	Subject      string           `yaml:"subject"`
	Accounts     []accountDoc     `yaml:"accounts"`
	Obligations  []obligationDoc  `yaml:"obligations"`
	Bills        []billDoc        `yaml:"bills"`
	Debts        []debtDoc        `yaml:"debts"`
	Budgets      []budgetDoc      `yaml:"budgets"`
	Goals        []goalDoc        `yaml:"goals"`
	Transactions []transactionDoc `yaml:"transactions"`
}

type (
	ruleDoc struct {
		Frequency core.Frequency `yaml:"frequency"`
		StartDate time.Time      `yaml:"start_date"`
		EndDate   *time.Time     `yaml:"end_date"`
	}

	accountDoc struct {
		ID      string          `yaml:"id"`
		Name    string          `yaml:"name"`
		Balance decimal.Decimal `yaml:"balance"`
	}

	obligationDoc struct {
		ID          string          `yaml:"id"`
		Description string          `yaml:"description"`
		Category    string          `yaml:"category"`
		Amount      decimal.Decimal `yaml:"amount"`
		Kind        core.Kind       `yaml:"kind"`
		Inactive    bool            `yaml:"inactive"`
		ruleDoc     `yaml:",inline"`
	}

	billDoc struct {
		ID           string          `yaml:"id"`
		Name         string          `yaml:"name"`
		Amount       decimal.Decimal `yaml:"amount"`
		DueDate      time.Time       `yaml:"due_date"`
		Paid         bool            `yaml:"paid"`
		ReminderDays int             `yaml:"reminder_days"`
		Repeat       *ruleDoc        `yaml:"repeat"`
	}

	debtDoc struct {
		ID               string          `yaml:"id"`
		Name             string          `yaml:"name"`
		OriginalAmount   decimal.Decimal `yaml:"original_amount"`
		CurrentBalance   decimal.Decimal `yaml:"current_balance"`
		InterestRate     decimal.Decimal `yaml:"interest_rate"`
		MinimumPayment   decimal.Decimal `yaml:"minimum_payment"`
		DueDay           int             `yaml:"due_day"`
		Status           core.DebtStatus `yaml:"status"`
		TargetPayoffDate *time.Time      `yaml:"target_payoff_date"`
	}

	budgetDoc struct {
		ID             string            `yaml:"id"`
		Category       string            `yaml:"category"`
		Limit          decimal.Decimal   `yaml:"limit"`
		Period         core.BudgetPeriod `yaml:"period"`
		StartDate      time.Time         `yaml:"start_date"`
		RolloverAmount decimal.Decimal   `yaml:"rollover_amount"`
	}

	goalDoc struct {
		ID                  string          `yaml:"id"`
		Name                string          `yaml:"name"`
		TargetAmount        decimal.Decimal `yaml:"target_amount"`
		CurrentAmount       decimal.Decimal `yaml:"current_amount"`
		MonthlyContribution decimal.Decimal `yaml:"monthly_contribution"`
		Deadline            time.Time       `yaml:"deadline"`
	}

	transactionDoc struct {
		ID          string          `yaml:"id"`
		Date        time.Time       `yaml:"date"`
		Amount      decimal.Decimal `yaml:"amount"`
		Kind        core.Kind       `yaml:"kind"`
		Description string          `yaml:"description"`
		Category    string          `yaml:"category"`
	}
)

// SnapshotWriter persists loaded entities.
type SnapshotWriter interface {
	UpsertAccount(ctx context.Context, a core.Account) error
	UpsertObligation(ctx context.Context, ob core.RecurringObligation) error
	UpsertBill(ctx context.Context, b core.Bill) error
	UpsertDebt(ctx context.Context, d core.Debt) error
	UpsertBudget(ctx context.Context, b core.Budget) error
	UpsertGoal(ctx context.Context, g core.Goal) error
	InsertTransaction(ctx context.Context, in core.TransactionInstance) error
}

// LoadStats counts what a document contributed.
type LoadStats struct {
	Accounts, Obligations, Bills, Debts, Budgets, Goals, Transactions int
}

func ReadDocument(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}
	return ParseDocument(data)
}

func ParseDocument(data []byte) (*Document, error) {
	var doc Document
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse document: %w", err)
	}
	if doc.Subject == "" {
		return nil, fmt.Errorf("%w: document has no subject", core.ErrInvalidInput)
	}
	return &doc, nil
}

func (r ruleDoc) rule() core.RecurrenceRule {
	rule := core.RecurrenceRule{Frequency: r.Frequency, StartDate: utcDate(r.StartDate)}
	if r.EndDate != nil {
		end := utcDate(*r.EndDate)
		rule.EndDate = &end
	}
	return rule
}

func utcDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// Apply validates each entity and writes it through w, stopping at the
// first invalid one. Re-applying a document updates entities in place.
func (d *Document) Apply(ctx context.Context, w SnapshotWriter) (LoadStats, error) {
	var stats LoadStats
	subject := d.Subject

	for _, a := range d.Accounts {
		acc := core.Account{ID: a.ID, SubjectID: subject, Name: a.Name, Balance: a.Balance}
		if err := acc.Validate(); err != nil {
			return stats, fmt.Errorf("account %q: %w", a.ID, err)
		}
		if err := w.UpsertAccount(ctx, acc); err != nil {
			return stats, err
		}
		stats.Accounts++
	}

	for _, o := range d.Obligations {
		ob := core.RecurringObligation{
			ID:          o.ID,
			SubjectID:   subject,
			Description: o.Description,
			Category:    o.Category,
			Amount:      o.Amount,
			Kind:        o.Kind,
			IsActive:    !o.Inactive,
			Rule:        o.ruleDoc.rule(),
		}
		if err := ob.Validate(); err != nil {
			return stats, fmt.Errorf("obligation %q: %w", o.ID, err)
		}
		if err := w.UpsertObligation(ctx, ob); err != nil {
			return stats, err
		}
		stats.Obligations++
	}

	for _, b := range d.Bills {
		bill := core.Bill{
			ID:           b.ID,
			SubjectID:    subject,
			Name:         b.Name,
			Amount:       b.Amount,
			DueDate:      utcDate(b.DueDate),
			IsPaid:       b.Paid,
			ReminderDays: b.ReminderDays,
		}
		if b.Repeat != nil {
			rule := b.Repeat.rule()
			bill.Rule = &rule
		}
		if err := bill.Validate(); err != nil {
			return stats, fmt.Errorf("bill %q: %w", b.ID, err)
		}
		if err := w.UpsertBill(ctx, bill); err != nil {
			return stats, err
		}
		stats.Bills++
	}

	for _, dd := range d.Debts {
		debt := core.Debt{
			ID:             dd.ID,
			SubjectID:      subject,
			Name:           dd.Name,
			OriginalAmount: dd.OriginalAmount,
			CurrentBalance: dd.CurrentBalance,
			InterestRate:   dd.InterestRate,
			MinimumPayment: dd.MinimumPayment,
			DueDay:         dd.DueDay,
			Status:         dd.Status,
		}
		if debt.Status == "" {
			debt.Status = core.DebtActive
		}
		if dd.TargetPayoffDate != nil {
			target := utcDate(*dd.TargetPayoffDate)
			debt.TargetPayoffDate = &target
		}
		if err := debt.Validate(); err != nil {
			return stats, fmt.Errorf("debt %q: %w", dd.ID, err)
		}
		if err := w.UpsertDebt(ctx, debt); err != nil {
			return stats, err
		}
		stats.Debts++
	}

	for _, b := range d.Budgets {
		start := utcDate(b.StartDate)
		end, err := rollover.EndDate(start, b.Period)
		if err != nil {
			return stats, fmt.Errorf("budget %q: %w", b.ID, err)
		}
		budget := core.Budget{
			ID:             b.ID,
			SubjectID:      subject,
			CategoryID:     b.Category,
			Limit:          b.Limit,
			Period:         b.Period,
			StartDate:      start,
			EndDate:        end,
			RolloverAmount: b.RolloverAmount,
		}
		if err := budget.Validate(); err != nil {
			return stats, fmt.Errorf("budget %q: %w", b.ID, err)
		}
		if err := w.UpsertBudget(ctx, budget); err != nil {
			return stats, err
		}
		stats.Budgets++
	}

	for _, g := range d.Goals {
		goal := core.Goal{
			ID:                  g.ID,
			SubjectID:           subject,
			Name:                g.Name,
			TargetAmount:        g.TargetAmount,
			CurrentAmount:       g.CurrentAmount,
			MonthlyContribution: g.MonthlyContribution,
			Deadline:            utcDate(g.Deadline),
		}
		if err := goal.Validate(); err != nil {
			return stats, fmt.Errorf("goal %q: %w", g.ID, err)
		}
		if err := w.UpsertGoal(ctx, goal); err != nil {
			return stats, err
		}
		stats.Goals++
	}

	for _, t := range d.Transactions {
		if t.ID == "" {
			return stats, fmt.Errorf("%w: transaction without id", core.ErrInvalidInput)
		}
		if t.Kind != core.Income && t.Kind != core.Expense {
			return stats, fmt.Errorf("%w: transaction %q: kind must be income or expense", core.ErrInvalidInput, t.ID)
		}
		if err := core.ValidatePositive("amount", t.Amount); err != nil {
			return stats, fmt.Errorf("transaction %q: %w", t.ID, err)
		}
		err := w.InsertTransaction(ctx, core.TransactionInstance{
			ID:             t.ID,
			SubjectID:      subject,
			OccurrenceDate: utcDate(t.Date),
			Amount:         t.Amount,
			Kind:           t.Kind,
			Description:    t.Description,
			Category:       t.Category,
		})
		if err != nil {
			return stats, err
		}
		stats.Transactions++
	}

	return stats, nil
}
