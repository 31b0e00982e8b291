package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/alerts"
	"fintrack/internal/core"
	"fintrack/internal/rollover"
	"fintrack/internal/schedule"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func newTestRepo(t *testing.T) *SQLiteRepository {
	t.Helper()
	repo, err := NewSQLiteRepository(filepath.Join(t.TempDir(), "data", "test.db"))
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	repo.now = func() time.Time { return time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC) }
	t.Cleanup(func() { repo.Close() })
	return repo
}

func TestMigrationsApplied(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "test.db")
	repo, err := NewSQLiteRepository(path)
	if err != nil {
		t.Fatalf("NewSQLiteRepository() error = %v", err)
	}
	defer repo.Close()

	version, dirty, err := SchemaVersion(path)
	if err != nil {
		t.Fatalf("SchemaVersion() error = %v", err)
	}
	if version != 1 || dirty {
		t.Errorf("SchemaVersion() = %d, %v; want 1, false", version, dirty)
	}
	if err := RunMigrations(path); err != nil {
		t.Errorf("RunMigrations() twice error = %v", err)
	}
}

func TestObligationRoundTripAndMaterialization(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	end := day(2025, 12, 31)
	ob := core.RecurringObligation{
		ID:          "rent",
		SubjectID:   "alice",
		Description: "Rent",
		Category:    "housing",
		Amount:      decimal.RequireFromString("1500.50"),
		Kind:        core.Expense,
		IsActive:    true,
		Rule:        core.RecurrenceRule{Frequency: core.Monthly, StartDate: day(2025, 1, 1), EndDate: &end},
	}
	if err := repo.UpsertObligation(ctx, ob); err != nil {
		t.Fatalf("UpsertObligation() error = %v", err)
	}
	paused := ob
	paused.ID, paused.IsActive = "gym", false
	if err := repo.UpsertObligation(ctx, paused); err != nil {
		t.Fatalf("UpsertObligation() error = %v", err)
	}

	active, err := repo.Obligations(ctx, "alice", true)
	if err != nil {
		t.Fatalf("Obligations() error = %v", err)
	}
	if len(active) != 1 || active[0].ID != "rent" {
		t.Fatalf("Obligations(active) = %+v", active)
	}
	got := active[0]
	if !got.Amount.Equal(ob.Amount) || got.Rule.EndDate == nil || !got.Rule.EndDate.Equal(end) || got.Rule.LastProcessed != nil {
		t.Errorf("round trip mismatch: %+v", got)
	}

	asOf := day(2025, 3, 15)
	res, err := schedule.ProcessDue(active, asOf, schedule.KeySet{})
	if err != nil {
		t.Fatalf("ProcessDue() error = %v", err)
	}
	n, err := repo.SaveMaterialization(ctx, res.Instances, res.Advances)
	if err != nil {
		t.Fatalf("SaveMaterialization() error = %v", err)
	}
	if n != len(res.Instances) || n == 0 {
		t.Fatalf("SaveMaterialization() inserted %d, want %d", n, len(res.Instances))
	}

	// Replaying the same result inserts nothing.
	if n, err = repo.SaveMaterialization(ctx, res.Instances, res.Advances); err != nil || n != 0 {
		t.Errorf("replay inserted %d, err %v", n, err)
	}

	keys, err := repo.MaterializedKeys(ctx, "alice", day(2024, 12, 31))
	if err != nil {
		t.Fatalf("MaterializedKeys() error = %v", err)
	}
	for _, in := range res.Instances {
		if !keys.Has(schedule.InstanceKey(in.ObligationID, in.OccurrenceDate)) {
			t.Errorf("missing key for %s", in.OccurrenceDate.Format("2006-01-02"))
		}
	}

	reloaded, _ := repo.Obligations(ctx, "alice", true)
	last := reloaded[0].Rule.LastProcessed
	if last == nil || !last.Equal(res.Advances[0].LastProcessed) {
		t.Errorf("LastProcessed = %v, want %v", last, res.Advances[0].LastProcessed)
	}

	// LastProcessed never moves backwards.
	back := []schedule.Advance{{ObligationID: "rent", LastProcessed: day(2025, 1, 1)}}
	if _, err := repo.SaveMaterialization(ctx, nil, back); err != nil {
		t.Fatalf("SaveMaterialization() error = %v", err)
	}
	reloaded, _ = repo.Obligations(ctx, "alice", true)
	if !reloaded[0].Rule.LastProcessed.Equal(*last) {
		t.Errorf("LastProcessed moved back to %v", reloaded[0].Rule.LastProcessed)
	}
}

func TestBudgetsSpentAndAverages(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	budget := core.Budget{
		ID: "food", SubjectID: "alice", CategoryID: "groceries",
		Limit: dec(500), Period: core.BudgetMonthly,
		StartDate: day(2025, 3, 1), EndDate: day(2025, 4, 1),
		RolloverAmount: dec(20),
	}
	if err := repo.UpsertBudget(ctx, budget); err != nil {
		t.Fatalf("UpsertBudget() error = %v", err)
	}

	txs := []core.TransactionInstance{
		{ID: "t1", SubjectID: "alice", OccurrenceDate: day(2025, 3, 3), Amount: dec(120), Kind: core.Expense, Category: "groceries"},
		{ID: "t2", SubjectID: "alice", OccurrenceDate: day(2025, 3, 20), Amount: dec(80), Kind: core.Expense, Category: "groceries"},
		{ID: "t3", SubjectID: "alice", OccurrenceDate: day(2025, 2, 20), Amount: dec(999), Kind: core.Expense, Category: "groceries"},
		{ID: "t4", SubjectID: "alice", OccurrenceDate: day(2025, 3, 5), Amount: dec(50), Kind: core.Expense, Category: "fun"},
		{ID: "t5", SubjectID: "alice", OccurrenceDate: day(2025, 1, 25), Amount: dec(3000), Kind: core.Income},
		{ID: "t6", SubjectID: "alice", OccurrenceDate: day(2025, 2, 25), Amount: dec(3000), Kind: core.Income},
	}
	for _, tx := range txs {
		if err := repo.InsertTransaction(ctx, tx); err != nil {
			t.Fatalf("InsertTransaction(%s) error = %v", tx.ID, err)
		}
	}

	budgets, err := repo.Budgets(ctx, "alice")
	if err != nil {
		t.Fatalf("Budgets() error = %v", err)
	}
	if len(budgets) != 1 || !budgets[0].Spent.Equal(dec(200)) || !budgets[0].RolloverAmount.Equal(dec(20)) {
		t.Fatalf("Budgets() = %+v", budgets)
	}

	avg, err := repo.Averages(ctx, "alice", day(2025, 3, 15), 2)
	if err != nil {
		t.Fatalf("Averages() error = %v", err)
	}
	if !avg.Income.Equal(dec(3000)) || !avg.Expenses.Equal(decimal.RequireFromString("499.5")) {
		t.Errorf("Averages() = %+v", avg)
	}
}

func TestRolloverLedger(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	b := core.Budget{
		ID: "food", SubjectID: "alice", CategoryID: "groceries",
		Limit: dec(100), Period: core.BudgetMonthly,
		StartDate: day(2025, 1, 1), EndDate: day(2025, 2, 1),
	}
	if err := repo.UpsertBudget(ctx, b); err != nil {
		t.Fatalf("UpsertBudget() error = %v", err)
	}

	due, err := repo.BudgetsEndingBy(ctx, day(2025, 2, 1))
	if err != nil || len(due) != 1 {
		t.Fatalf("BudgetsEndingBy() = %v, %v", due, err)
	}

	ledger, err := repo.RolloverLedger(ctx, day(2025, 2, 1))
	if err != nil {
		t.Fatalf("RolloverLedger() error = %v", err)
	}
	next, changed, err := rollover.Calculator{}.Transition(b, dec(30), day(2025, 2, 1), ledger)
	if err != nil || !changed {
		t.Fatalf("Transition() = %v, %v", changed, err)
	}

	rec := RolloverRecord{Previous: b, Next: next, PeriodSpend: dec(30), Policy: rollover.PolicyCarry}
	saved, err := repo.SaveRollover(ctx, rec)
	if err != nil || !saved {
		t.Fatalf("SaveRollover() = %v, %v", saved, err)
	}
	if saved, err = repo.SaveRollover(ctx, rec); err != nil || saved {
		t.Errorf("second SaveRollover() = %v, %v; want false, nil", saved, err)
	}

	ledger, _ = repo.RolloverLedger(ctx, day(2025, 2, 1))
	if !ledger.RolledOver("food", day(2025, 2, 1)) {
		t.Error("ledger should hold the closed period")
	}
	budgets, _ := repo.Budgets(ctx, "alice")
	got := budgets[0]
	if !got.StartDate.Equal(day(2025, 2, 1)) || !got.EndDate.Equal(day(2025, 3, 1)) || !got.RolloverAmount.Equal(dec(70)) {
		t.Errorf("budget after rollover = %+v", got)
	}
	if due, _ = repo.BudgetsEndingBy(ctx, day(2025, 2, 1)); len(due) != 0 {
		t.Errorf("BudgetsEndingBy() after rollover = %+v", due)
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	target := day(2026, 6, 1)
	bill := core.Bill{
		ID: "power", SubjectID: "bob", Name: "Power", Amount: dec(80), DueDate: day(2025, 3, 10), ReminderDays: 4,
		Rule: &core.RecurrenceRule{Frequency: core.Monthly, StartDate: day(2025, 1, 10)},
	}
	debt := core.Debt{
		ID: "card", SubjectID: "bob", Name: "Card", OriginalAmount: dec(1000), CurrentBalance: dec(400),
		InterestRate: decimal.RequireFromString("19.99"), MinimumPayment: dec(50), DueDay: 15,
		Status: core.DebtActive, TargetPayoffDate: &target,
	}
	goal := core.Goal{
		ID: "trip", SubjectID: "bob", Name: "Trip", TargetAmount: dec(2000), CurrentAmount: dec(500),
		MonthlyContribution: dec(100), Deadline: day(2025, 12, 1),
	}
	accounts := []core.Account{
		{ID: "checking", SubjectID: "bob", Name: "Checking", Balance: decimal.RequireFromString("250.25")},
		{ID: "savings", SubjectID: "bob", Name: "Savings", Balance: dec(1000)},
	}

	if err := repo.UpsertBill(ctx, bill); err != nil {
		t.Fatalf("UpsertBill() error = %v", err)
	}
	if err := repo.UpsertBill(ctx, core.Bill{ID: "fine", SubjectID: "bob", Name: "Fine", Amount: dec(30), DueDate: day(2025, 3, 1)}); err != nil {
		t.Fatalf("UpsertBill() error = %v", err)
	}
	if err := repo.UpsertDebt(ctx, debt); err != nil {
		t.Fatalf("UpsertDebt() error = %v", err)
	}
	if err := repo.UpsertGoal(ctx, goal); err != nil {
		t.Fatalf("UpsertGoal() error = %v", err)
	}
	for _, a := range accounts {
		if err := repo.UpsertAccount(ctx, a); err != nil {
			t.Fatalf("UpsertAccount() error = %v", err)
		}
	}

	bills, err := repo.Bills(ctx, "bob")
	if err != nil || len(bills) != 2 {
		t.Fatalf("Bills() = %+v, %v", bills, err)
	}
	if bills[0].ID != "fine" || bills[0].Rule != nil {
		t.Errorf("one-off bill = %+v", bills[0])
	}
	if bills[1].Rule == nil || bills[1].Rule.Frequency != core.Monthly || !bills[1].Rule.StartDate.Equal(day(2025, 1, 10)) {
		t.Errorf("recurring bill = %+v", bills[1])
	}

	got, err := repo.Debt(ctx, "card")
	if err != nil {
		t.Fatalf("Debt() error = %v", err)
	}
	if !got.InterestRate.Equal(debt.InterestRate) || got.TargetPayoffDate == nil || !got.TargetPayoffDate.Equal(target) {
		t.Errorf("Debt() = %+v", got)
	}
	if _, err := repo.Debt(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Debt(missing) error = %v, want ErrNotFound", err)
	}

	goals, err := repo.Goals(ctx, "bob")
	if err != nil || len(goals) != 1 || !goals[0].Deadline.Equal(goal.Deadline) {
		t.Errorf("Goals() = %+v, %v", goals, err)
	}

	balance, err := repo.Balance(ctx, "bob")
	if err != nil || !balance.Equal(decimal.RequireFromString("1250.25")) {
		t.Errorf("Balance() = %s, %v", balance, err)
	}

	subjects, err := repo.Subjects(ctx)
	if err != nil || len(subjects) != 1 || subjects[0] != "bob" {
		t.Errorf("Subjects() = %v, %v", subjects, err)
	}
}

func TestAlertDiffPersistence(t *testing.T) {
	ctx := context.Background()
	repo := newTestRepo(t)

	asOf := time.Date(2025, 3, 1, 8, 0, 0, 0, time.UTC)
	snap := alerts.Snapshot{
		SubjectID: "alice",
		AsOf:      asOf,
		Accounts:  []core.Account{{ID: "checking", SubjectID: "alice", Name: "Checking", Balance: dec(-20)}},
	}

	diff, err := alerts.Evaluate(snap, nil, alerts.DefaultThresholds())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(diff.ToCreate) != 1 {
		t.Fatalf("ToCreate = %+v", diff.ToCreate)
	}
	if err := repo.ApplyAlertDiff(ctx, diff); err != nil {
		t.Fatalf("ApplyAlertDiff() error = %v", err)
	}

	open, err := repo.UnresolvedAlerts(ctx, "alice")
	if err != nil || len(open) != 1 {
		t.Fatalf("UnresolvedAlerts() = %+v, %v", open, err)
	}
	stored := open[0]
	if stored.Severity != core.SeverityCritical || !stored.CreatedAt.Equal(asOf) || !stored.Amount.Valid {
		t.Errorf("stored alert = %+v", stored)
	}

	// Evaluating again with the stored state is a no-op.
	again, err := alerts.Evaluate(snap, open, alerts.DefaultThresholds())
	if err != nil || !again.Empty() {
		t.Fatalf("second Evaluate() = %+v, %v", again, err)
	}

	read, changed, err := alerts.MarkAsRead(open, stored.ID)
	if err != nil || !changed {
		t.Fatalf("MarkAsRead() = %v, %v", changed, err)
	}
	if err := repo.SaveAlerts(ctx, read); err != nil {
		t.Fatalf("SaveAlerts() error = %v", err)
	}

	// The condition clears.
	snap.AsOf = asOf.Add(24 * time.Hour)
	snap.Accounts[0].Balance = dec(5000)
	open, _ = repo.UnresolvedAlerts(ctx, "alice")
	cleared, err := alerts.Evaluate(snap, open, alerts.DefaultThresholds())
	if err != nil || len(cleared.ToResolve) != 1 {
		t.Fatalf("cleared diff = %+v, %v", cleared, err)
	}
	if err := repo.ApplyAlertDiff(ctx, cleared); err != nil {
		t.Fatalf("ApplyAlertDiff() error = %v", err)
	}

	if open, _ = repo.UnresolvedAlerts(ctx, "alice"); len(open) != 0 {
		t.Errorf("UnresolvedAlerts() after resolve = %+v", open)
	}
	if visible, _ := repo.Alerts(ctx, "alice", false); len(visible) != 0 {
		t.Errorf("Alerts(visible) = %+v", visible)
	}
	all, err := repo.Alerts(ctx, "alice", true)
	if err != nil || len(all) != 1 {
		t.Fatalf("Alerts(all) = %+v, %v", all, err)
	}
	if !all[0].IsRead || !all[0].IsArchived || all[0].ResolvedAt == nil {
		t.Errorf("resolved alert = %+v", all[0])
	}

	if err := repo.SaveAlerts(ctx, core.Alert{ID: "missing", CreatedAt: asOf}); !errors.Is(err, ErrNotFound) {
		t.Errorf("SaveAlerts(missing) error = %v, want ErrNotFound", err)
	}
}
