package alerts

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func dec(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func budget(id string, limit, spent int64) core.Budget {
	return core.Budget{
		ID: id, SubjectID: "user-1", CategoryID: "cat-" + id,
		Limit: dec(limit), Spent: dec(spent), Period: core.BudgetMonthly,
		StartDate: day(2025, 3, 1), EndDate: day(2025, 4, 1),
	}
}

func bill(id string, due time.Time, paid bool) core.Bill {
	return core.Bill{
		ID: id, SubjectID: "user-1", Name: "Bill " + id,
		Amount: dec(60), DueDate: due, IsPaid: paid, ReminderDays: 3,
	}
}

func snapshot() Snapshot {
	return Snapshot{
		SubjectID: "user-1",
		AsOf:      day(2025, 3, 10),
		Budgets: []core.Budget{
			budget("near", 500, 420),
			budget("over", 100, 150),
			budget("fine", 500, 100),
		},
		Bills: []core.Bill{
			bill("soon", day(2025, 3, 12), false),
			bill("late", day(2025, 3, 5), false),
			bill("paid", day(2025, 3, 11), true),
		},
		Accounts: []core.Account{
			{ID: "low", SubjectID: "user-1", Name: "Checking", Balance: dec(50)},
			{ID: "neg", SubjectID: "user-1", Name: "Card", Balance: dec(-20)},
			{ID: "ok", SubjectID: "user-1", Name: "Savings", Balance: dec(1000)},
		},
		Goals: []core.Goal{
			{ID: "done", SubjectID: "user-1", Name: "Bike", TargetAmount: dec(1000), CurrentAmount: dec(1000), Deadline: day(2025, 12, 31)},
			{ID: "slow", SubjectID: "user-1", Name: "Trip", TargetAmount: dec(1200), MonthlyContribution: dec(100), Deadline: day(2025, 6, 1)},
		},
		Debts: []core.Debt{{
			ID: "card", SubjectID: "user-1", Name: "Card",
			OriginalAmount: dec(1000), CurrentBalance: dec(1000), InterestRate: dec(24),
			MinimumPayment: dec(10), DueDay: 12, Status: core.DebtActive,
		}},
	}
}

func byKey(list []core.Alert) map[string]core.Alert {
	out := map[string]core.Alert{}
	for _, a := range list {
		out[a.DedupKey()] = a
	}
	return out
}

func TestEvaluateCreatesAlerts(t *testing.T) {
	diff, err := Evaluate(snapshot(), nil, DefaultThresholds())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	want := map[string]core.Severity{
		"budget_limit|budget:near": core.SeverityWarning,
		"budget_limit|budget:over": core.SeverityCritical,
		"bill_due|bill:soon":       core.SeverityWarning,
		"bill_due|bill:late":       core.SeverityCritical,
		"low_balance|account:low":  core.SeverityWarning,
		"low_balance|account:neg":  core.SeverityCritical,
		"goal_reached|goal:done":   core.SeveritySuccess,
		"goal_behind|goal:slow":    core.SeverityWarning,
		"debt_due|debt:card":       core.SeverityInfo,
		"debt_behind|debt:card":    core.SeverityCritical,
	}
	got := byKey(diff.ToCreate)
	if len(diff.ToCreate) != len(want) || len(got) != len(want) {
		t.Fatalf("created %d alerts, want %d: %+v", len(diff.ToCreate), len(want), diff.ToCreate)
	}
	for key, sev := range want {
		a, ok := got[key]
		if !ok {
			t.Errorf("missing alert %s", key)
			continue
		}
		if a.Severity != sev {
			t.Errorf("%s severity = %s, want %s", key, a.Severity, sev)
		}
		if a.ID == "" || !a.CreatedAt.Equal(day(2025, 3, 10)) || a.IsRead || a.IsArchived {
			t.Errorf("%s not initialized as a fresh alert: %+v", key, a)
		}
	}
	if len(diff.ToUpdate) != 0 || len(diff.ToResolve) != 0 {
		t.Fatalf("unexpected updates or resolutions: %+v", diff)
	}
}

func TestEvaluateIsIdempotent(t *testing.T) {
	first, err := Evaluate(snapshot(), nil, DefaultThresholds())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	second, err := Evaluate(snapshot(), first.ToCreate, DefaultThresholds())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if !second.Empty() {
		t.Fatalf("second run on unchanged snapshot produced %+v", second)
	}

	again, _ := Evaluate(snapshot(), nil, DefaultThresholds())
	for i := range first.ToCreate {
		if first.ToCreate[i].ID != again.ToCreate[i].ID {
			t.Fatalf("alert identities are not stable: %s vs %s", first.ToCreate[i].ID, again.ToCreate[i].ID)
		}
	}
}

func TestEvaluateUpdatesInPlace(t *testing.T) {
	first, _ := Evaluate(snapshot(), nil, DefaultThresholds())
	existing := first.ToCreate
	for i := range existing {
		existing[i].IsRead = true
	}

	s := snapshot()
	s.AsOf = s.AsOf.Add(time.Hour)
	s.Budgets[0].Spent = dec(450)

	diff, err := Evaluate(s, existing, DefaultThresholds())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	if len(diff.ToCreate) != 0 || len(diff.ToResolve) != 0 || len(diff.ToUpdate) != 1 {
		t.Fatalf("expected a single update, got %+v", diff)
	}
	up := diff.ToUpdate[0]
	prev := byKey(existing)["budget_limit|budget:near"]
	if up.ID != prev.ID {
		t.Errorf("update changed identity: %s vs %s", up.ID, prev.ID)
	}
	if !up.Amount.Valid || !up.Amount.Decimal.Equal(dec(450)) {
		t.Errorf("amount not refreshed: %+v", up.Amount)
	}
	if !up.CreatedAt.Equal(s.AsOf) {
		t.Errorf("CreatedAt = %v, want %v", up.CreatedAt, s.AsOf)
	}
	if !up.IsRead {
		t.Errorf("same-severity refresh must keep the read state")
	}

	// Crossing into exceeded escalates and surfaces the alert again.
	s.Budgets[0].Spent = dec(510)
	diff, _ = Evaluate(s, existing, DefaultThresholds())
	if len(diff.ToUpdate) != 1 || diff.ToUpdate[0].Severity != core.SeverityCritical || diff.ToUpdate[0].IsRead {
		t.Fatalf("escalation should update to unread critical, got %+v", diff.ToUpdate)
	}
}

func TestEvaluateResolvesClearedConditions(t *testing.T) {
	first, _ := Evaluate(snapshot(), nil, DefaultThresholds())

	s := snapshot()
	s.Bills[0].IsPaid = true
	s.Accounts[0].Balance = dec(500)

	diff, err := Evaluate(s, first.ToCreate, DefaultThresholds())
	if err != nil {
		t.Fatalf("Evaluate() error = %v", err)
	}
	resolved := byKey(diff.ToResolve)
	if len(diff.ToResolve) != 2 {
		t.Fatalf("expected 2 resolutions, got %+v", diff.ToResolve)
	}
	for _, key := range []string{"bill_due|bill:soon", "low_balance|account:low"} {
		a, ok := resolved[key]
		if !ok {
			t.Fatalf("missing resolution for %s", key)
		}
		if !a.IsArchived || a.ResolvedAt == nil || !a.ResolvedAt.Equal(s.AsOf) {
			t.Errorf("%s not archived as resolved: %+v", key, a)
		}
	}

	// Resolved alerts are history: the condition returning creates a new one.
	existing := append([]core.Alert{}, first.ToCreate...)
	for i := range existing {
		if r, ok := resolved[existing[i].DedupKey()]; ok {
			existing[i] = r
		}
	}
	s = snapshot()
	s.AsOf = s.AsOf.Add(time.Hour)
	diff, _ = Evaluate(s, existing, DefaultThresholds())
	if len(diff.ToCreate) != 2 {
		t.Fatalf("re-triggered conditions should create 2 alerts, got %+v", diff.ToCreate)
	}
	for _, a := range diff.ToCreate {
		if a.ID == resolved[a.DedupKey()].ID {
			t.Errorf("re-triggered alert reused the resolved identity %s", a.ID)
		}
	}
}

func TestEvaluateRespectsUserArchive(t *testing.T) {
	first, _ := Evaluate(snapshot(), nil, DefaultThresholds())
	existing := first.ToCreate
	for i := range existing {
		if existing[i].SubjectKey == "bill:soon" || existing[i].SubjectKey == "bill:late" {
			existing[i].Archive()
		}
	}

	diff, _ := Evaluate(snapshot(), existing, DefaultThresholds())
	if !diff.Empty() {
		t.Fatalf("user-archived alerts must stay archived while the condition holds, got %+v", diff)
	}

	// The soon-due bill becomes overdue: a new critical alert replaces the archived warning.
	s := snapshot()
	s.AsOf = day(2025, 3, 13)
	diff, _ = Evaluate(s, existing, DefaultThresholds())
	created := byKey(diff.ToCreate)
	if a, ok := created["bill_due|bill:soon"]; !ok || a.Severity != core.SeverityCritical {
		t.Fatalf("expected escalated bill alert, got %+v", diff.ToCreate)
	}
	if _, ok := created["bill_due|bill:late"]; ok {
		t.Fatalf("unchanged archived condition must not re-trigger")
	}
	if r, ok := byKey(diff.ToResolve)["bill_due|bill:soon"]; !ok || r.ResolvedAt == nil {
		t.Fatalf("superseded archived alert should be resolved, got %+v", diff.ToResolve)
	}
}

func TestEvaluateIgnoresUnmanagedAndForeignAlerts(t *testing.T) {
	existing := []core.Alert{
		{ID: "x", SubjectID: "user-1", Type: "custom", SubjectKey: "k", Severity: core.SeverityInfo},
		{ID: "y", SubjectID: "user-2", Type: core.AlertBillDue, SubjectKey: "bill:zzz", Severity: core.SeverityWarning},
	}
	s := Snapshot{SubjectID: "user-1", AsOf: day(2025, 3, 10)}
	diff, err := Evaluate(s, existing, DefaultThresholds())
	if err != nil || !diff.Empty() {
		t.Fatalf("expected no changes, got %+v err=%v", diff, err)
	}
}

func TestEvaluateRejectsInvalidInput(t *testing.T) {
	tests := []struct {
		name string
		edit func(*Snapshot, *Thresholds)
	}{
		{"missing subject", func(s *Snapshot, _ *Thresholds) { s.SubjectID = "" }},
		{"missing asOf", func(s *Snapshot, _ *Thresholds) { s.AsOf = time.Time{} }},
		{"negative budget", func(s *Snapshot, _ *Thresholds) { s.Budgets[0].Limit = dec(-1) }},
		{"zero bill amount", func(s *Snapshot, _ *Thresholds) { s.Bills[0].Amount = decimal.Zero }},
		{"inverted thresholds", func(_ *Snapshot, th *Thresholds) { th.BudgetExceeded = decimal.RequireFromString("0.5") }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, th := snapshot(), DefaultThresholds()
			tt.edit(&s, &th)
			diff, err := Evaluate(s, nil, th)
			if !errors.Is(err, core.ErrInvalidInput) {
				t.Fatalf("expected ErrInvalidInput, got %v", err)
			}
			if !diff.Empty() {
				t.Fatalf("invalid input must not yield a partial diff")
			}
		})
	}
}

func TestDebtRuleTargetDate(t *testing.T) {
	target := day(2025, 6, 1)
	s := Snapshot{
		SubjectID: "user-1",
		AsOf:      day(2025, 1, 20),
		Debts: []core.Debt{{
			ID: "loan", SubjectID: "user-1", Name: "Loan",
			OriginalAmount: dec(1200), CurrentBalance: dec(1200), InterestRate: dec(12),
			MinimumPayment: dec(200), DueDay: 5, Status: core.DebtActive, TargetPayoffDate: &target,
		}},
	}
	got := DebtRule(s, DefaultThresholds())
	if len(got) != 1 || got[0].Type != core.AlertDebtBehind || got[0].Severity != core.SeverityWarning {
		t.Fatalf("expected a behind-schedule warning, got %+v", got)
	}

	later := day(2025, 12, 1)
	s.Debts[0].TargetPayoffDate = &later
	if got := DebtRule(s, DefaultThresholds()); len(got) != 0 {
		t.Fatalf("on-track debt should raise nothing, got %+v", got)
	}
}

func TestNextDueDate(t *testing.T) {
	tests := []struct {
		asOf time.Time
		day  int
		want time.Time
	}{
		{day(2025, 3, 10), 12, day(2025, 3, 12)},
		{day(2025, 3, 12), 12, day(2025, 3, 12)},
		{day(2025, 3, 13), 12, day(2025, 4, 12)},
		{day(2025, 2, 20), 31, day(2025, 2, 28)},
		{day(2025, 4, 30), 31, day(2025, 4, 30)},
	}
	for _, tt := range tests {
		if got := NextDueDate(tt.asOf, tt.day); !got.Equal(tt.want) {
			t.Errorf("NextDueDate(%s, %d) = %s, want %s", tt.asOf.Format("2006-01-02"), tt.day, got, tt.want)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	list := []core.Alert{
		{ID: "a", CreatedAt: day(2025, 3, 1)},
		{ID: "b", CreatedAt: day(2025, 3, 3), IsRead: true},
		{ID: "c", CreatedAt: day(2025, 3, 2), IsArchived: true},
		{ID: "d", CreatedAt: day(2025, 3, 3)},
	}

	if a, changed, err := MarkAsRead(list, "a"); err != nil || !changed || !a.IsRead {
		t.Fatalf("MarkAsRead(a) = %+v, %v, %v", a, changed, err)
	}
	if _, changed, _ := MarkAsRead(list, "b"); changed {
		t.Fatalf("read alert must not change again")
	}
	if _, _, err := MarkAsRead(list, "zzz"); !errors.Is(err, ErrAlertNotFound) {
		t.Fatalf("expected ErrAlertNotFound, got %v", err)
	}

	all := MarkAllAsRead(list)
	if len(all) != 2 || all[0].ID != "a" || all[1].ID != "d" {
		t.Fatalf("MarkAllAsRead() = %+v", all)
	}
	if list[0].IsRead {
		t.Fatalf("input list must not be modified")
	}

	if a, changed, err := Archive(list, "a"); err != nil || !changed || !a.IsArchived {
		t.Fatalf("Archive(a) = %+v, %v, %v", a, changed, err)
	}
	if _, changed, _ := Archive(list, "c"); changed {
		t.Fatalf("archived alert must not change again")
	}

	active := Active(list)
	var ids []string
	for _, a := range active {
		ids = append(ids, a.ID)
	}
	if len(ids) != 3 || ids[0] != "b" || ids[1] != "d" || ids[2] != "a" {
		t.Fatalf("Active() order = %v, want [b d a]", ids)
	}
	if n := UnreadCount(list); n != 2 {
		t.Fatalf("UnreadCount() = %d, want 2", n)
	}
}
