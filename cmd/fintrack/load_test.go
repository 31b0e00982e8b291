package main

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/storage"
)

const aliceDoc = `
subject: alice
accounts:
  - id: checking
    name: Checking
    balance: 1500.25
obligations:
  - id: salary
    description: Salary
    category: work
    amount: "3000"
    kind: income
    frequency: monthly
    start_date: 2026-01-31
  - id: rent
    description: Rent
    category: housing
    amount: 1200
    kind: expense
    frequency: monthly
    start_date: 2026-01-01
    end_date: 2026-12-31
bills:
  - id: power
    name: Power
    amount: 80
    due_date: 2026-03-15
    reminder_days: 5
    repeat:
      frequency: monthly
      start_date: 2026-01-15
debts:
  - id: card
    name: Card
    original_amount: 5000
    current_balance: 4200
    interest_rate: 19.99
    minimum_payment: 150
    due_day: 20
budgets:
  - id: food
    category: groceries
    limit: 400
    period: monthly
    start_date: 2026-03-01
goals:
  - id: trip
    name: Trip
    target_amount: 2000
    current_amount: 250
    monthly_contribution: 100
    deadline: 2026-12-01
transactions:
  - id: t1
    date: 2026-03-02
    amount: 42.10
    kind: expense
    category: groceries
`

func newRepo(t *testing.T) *storage.SQLiteRepository {
	t.Helper()
	repo, err := storage.NewSQLiteRepository(filepath.Join(t.TempDir(), "fintrack.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestDocumentApply(t *testing.T) {
	doc, err := ParseDocument([]byte(aliceDoc))
	if err != nil {
		t.Fatalf("ParseDocument() error = %v", err)
	}
	repo := newRepo(t)
	ctx := context.Background()

	stats, err := doc.Apply(ctx, repo)
	if err != nil {
		t.Fatalf("Apply() error = %v", err)
	}
	want := LoadStats{Accounts: 1, Obligations: 2, Bills: 1, Debts: 1, Budgets: 1, Goals: 1, Transactions: 1}
	if stats != want {
		t.Errorf("stats = %+v, want %+v", stats, want)
	}

	// Applying twice updates in place.
	if _, err := doc.Apply(ctx, repo); err != nil {
		t.Fatalf("second Apply() error = %v", err)
	}

	balance, err := repo.Balance(ctx, "alice")
	if err != nil {
		t.Fatalf("Balance() error = %v", err)
	}
	if !balance.Equal(decimal.RequireFromString("1500.25")) {
		t.Errorf("balance = %s, want 1500.25", balance)
	}

	obligations, err := repo.Obligations(ctx, "alice", false)
	if err != nil {
		t.Fatalf("Obligations() error = %v", err)
	}
	if len(obligations) != 2 {
		t.Fatalf("obligations = %d, want 2", len(obligations))
	}
	for _, ob := range obligations {
		if ob.ID == "rent" && (ob.Rule.EndDate == nil || !ob.Rule.EndDate.Equal(time.Date(2026, 12, 31, 0, 0, 0, 0, time.UTC))) {
			t.Errorf("rent end date = %v", ob.Rule.EndDate)
		}
	}

	bills, err := repo.Bills(ctx, "alice")
	if err != nil {
		t.Fatalf("Bills() error = %v", err)
	}
	if len(bills) != 1 || bills[0].Rule == nil || bills[0].Rule.Frequency != core.Monthly {
		t.Errorf("bills = %+v, want one monthly bill", bills)
	}

	debt, err := repo.Debt(ctx, "card")
	if err != nil {
		t.Fatalf("Debt() error = %v", err)
	}
	if debt.Status != core.DebtActive {
		t.Errorf("debt status = %s, want active", debt.Status)
	}

	budgets, err := repo.Budgets(ctx, "alice")
	if err != nil {
		t.Fatalf("Budgets() error = %v", err)
	}
	if len(budgets) != 1 {
		t.Fatalf("budgets = %d, want 1", len(budgets))
	}
	if end := time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC); !budgets[0].EndDate.Equal(end) {
		t.Errorf("budget end = %v, want %v", budgets[0].EndDate, end)
	}
	if !budgets[0].Spent.Equal(decimal.RequireFromString("42.10")) {
		t.Errorf("budget spent = %s, want 42.10", budgets[0].Spent)
	}
}

func TestDocumentRejects(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no subject", "accounts: []"},
		{"negative obligation", "subject: a\nobligations:\n  - {id: x, amount: -5, kind: expense, frequency: monthly, start_date: 2026-01-01}"},
		{"unknown frequency", "subject: a\nobligations:\n  - {id: x, amount: 5, kind: expense, frequency: hourly, start_date: 2026-01-01}"},
		{"unknown budget period", "subject: a\nbudgets:\n  - {id: b, category: c, limit: 5, period: daily, start_date: 2026-01-01}"},
		{"transaction without id", "subject: a\ntransactions:\n  - {date: 2026-01-01, amount: 5, kind: expense}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			doc, err := ParseDocument([]byte(tt.yaml))
			if err == nil {
				_, err = doc.Apply(context.Background(), newRepo(t))
			}
			if !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("error = %v, want ErrInvalidInput", err)
			}
		})
	}
}
