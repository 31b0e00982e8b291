package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/period"
)

func (r *SQLiteRepository) UpsertAccount(ctx context.Context, a core.Account) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO accounts (id, subject_id, name, balance) VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, balance = excluded.balance`,
		a.ID, a.SubjectID, a.Name, a.Balance)
	if err != nil {
		return fmt.Errorf("upsert account %s: %w", a.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Accounts(ctx context.Context, subjectID string) ([]core.Account, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT id, subject_id, name, balance FROM accounts WHERE subject_id = ? ORDER BY id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list accounts: %w", err)
	}
	defer rows.Close()

	var out []core.Account
	for rows.Next() {
		var a core.Account
		if err := rows.Scan(&a.ID, &a.SubjectID, &a.Name, &a.Balance); err != nil {
			return nil, fmt.Errorf("scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// Balance sums the subject's account balances.
func (r *SQLiteRepository) Balance(ctx context.Context, subjectID string) (decimal.Decimal, error) {
	accounts, err := r.Accounts(ctx, subjectID)
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, a := range accounts {
		total = total.Add(a.Balance)
	}
	return total, nil
}

func (r *SQLiteRepository) UpsertBill(ctx context.Context, b core.Bill) error {
	var freq, start, end sql.NullString
	if b.Rule != nil {
		freq = sql.NullString{String: string(b.Rule.Frequency), Valid: true}
		start = sql.NullString{String: formatDate(b.Rule.StartDate), Valid: true}
		end = nullDate(b.Rule.EndDate)
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO bills (id, subject_id, name, amount, due_date, is_paid, reminder_days, frequency, start_date, end_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			amount = excluded.amount,
			due_date = excluded.due_date,
			is_paid = excluded.is_paid,
			reminder_days = excluded.reminder_days,
			frequency = excluded.frequency,
			start_date = excluded.start_date,
			end_date = excluded.end_date`,
		b.ID, b.SubjectID, b.Name, b.Amount, formatDate(b.DueDate), boolInt(b.IsPaid), b.ReminderDays, freq, start, end)
	if err != nil {
		return fmt.Errorf("upsert bill %s: %w", b.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Bills(ctx context.Context, subjectID string) ([]core.Bill, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, name, amount, due_date, is_paid, reminder_days, frequency, start_date, end_date
		FROM bills WHERE subject_id = ? ORDER BY due_date, id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list bills: %w", err)
	}
	defer rows.Close()

	var out []core.Bill
	for rows.Next() {
		var (
			b                core.Bill
			due              string
			paid             int
			freq, start, end sql.NullString
		)
		if err := rows.Scan(&b.ID, &b.SubjectID, &b.Name, &b.Amount, &due, &paid, &b.ReminderDays, &freq, &start, &end); err != nil {
			return nil, fmt.Errorf("scan bill: %w", err)
		}
		b.IsPaid = paid == 1
		if b.DueDate, err = parseDate(due); err != nil {
			return nil, err
		}
		if freq.Valid && start.Valid {
			rule := core.RecurrenceRule{Frequency: core.Frequency(freq.String)}
			if rule.StartDate, err = parseDate(start.String); err != nil {
				return nil, err
			}
			if rule.EndDate, err = parseNullDate(end); err != nil {
				return nil, err
			}
			b.Rule = &rule
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpsertDebt(ctx context.Context, d core.Debt) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO debts (id, subject_id, name, original_amount, current_balance, interest_rate,
			minimum_payment, due_day, status, target_payoff_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			original_amount = excluded.original_amount,
			current_balance = excluded.current_balance,
			interest_rate = excluded.interest_rate,
			minimum_payment = excluded.minimum_payment,
			due_day = excluded.due_day,
			status = excluded.status,
			target_payoff_date = excluded.target_payoff_date`,
		d.ID, d.SubjectID, d.Name, d.OriginalAmount, d.CurrentBalance, d.InterestRate,
		d.MinimumPayment, d.DueDay, string(d.Status), nullDate(d.TargetPayoffDate))
	if err != nil {
		return fmt.Errorf("upsert debt %s: %w", d.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Debts(ctx context.Context, subjectID string) ([]core.Debt, error) {
	return r.queryDebts(ctx, `WHERE subject_id = ? ORDER BY id`, subjectID)
}

// Debt loads one debt by ID.
func (r *SQLiteRepository) Debt(ctx context.Context, id string) (core.Debt, error) {
	debts, err := r.queryDebts(ctx, `WHERE id = ?`, id)
	if err != nil {
		return core.Debt{}, err
	}
	if len(debts) == 0 {
		return core.Debt{}, fmt.Errorf("debt %s: %w", id, ErrNotFound)
	}
	return debts[0], nil
}

func (r *SQLiteRepository) queryDebts(ctx context.Context, where string, args ...any) ([]core.Debt, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, name, original_amount, current_balance, interest_rate,
			minimum_payment, due_day, status, target_payoff_date
		FROM debts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list debts: %w", err)
	}
	defer rows.Close()

	var out []core.Debt
	for rows.Next() {
		var (
			d      core.Debt
			status string
			target sql.NullString
		)
		if err := rows.Scan(&d.ID, &d.SubjectID, &d.Name, &d.OriginalAmount, &d.CurrentBalance, &d.InterestRate,
			&d.MinimumPayment, &d.DueDay, &status, &target); err != nil {
			return nil, fmt.Errorf("scan debt: %w", err)
		}
		d.Status = core.DebtStatus(status)
		if d.TargetPayoffDate, err = parseNullDate(target); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (r *SQLiteRepository) UpsertBudget(ctx context.Context, b core.Budget) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO budgets (id, subject_id, category_id, amount_limit, period, start_date, end_date, rollover_amount)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			category_id = excluded.category_id,
			amount_limit = excluded.amount_limit,
			period = excluded.period,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			rollover_amount = excluded.rollover_amount`,
		b.ID, b.SubjectID, b.CategoryID, b.Limit, string(b.Period),
		formatDate(b.StartDate), formatDate(b.EndDate), b.RolloverAmount)
	if err != nil {
		return fmt.Errorf("upsert budget %s: %w", b.ID, err)
	}
	return nil
}

// Budgets returns the subject's budgets with Spent filled from the
// transactions of each budget's current period.
func (r *SQLiteRepository) Budgets(ctx context.Context, subjectID string) ([]core.Budget, error) {
	return r.queryBudgets(ctx, `WHERE subject_id = ? ORDER BY id`, subjectID)
}

// BudgetsEndingBy returns every budget whose current period ended on or before asOf.
func (r *SQLiteRepository) BudgetsEndingBy(ctx context.Context, asOf time.Time) ([]core.Budget, error) {
	return r.queryBudgets(ctx, `WHERE end_date <= ? ORDER BY subject_id, id`, formatDate(asOf))
}

func (r *SQLiteRepository) queryBudgets(ctx context.Context, where string, args ...any) ([]core.Budget, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, category_id, amount_limit, period, start_date, end_date, rollover_amount
		FROM budgets `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list budgets: %w", err)
	}

	var out []core.Budget
	for rows.Next() {
		var (
			b          core.Budget
			periodName string
			start, end string
		)
		if err := rows.Scan(&b.ID, &b.SubjectID, &b.CategoryID, &b.Limit, &periodName, &start, &end, &b.RolloverAmount); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan budget: %w", err)
		}
		b.Period = core.BudgetPeriod(periodName)
		if b.StartDate, err = parseDate(start); err != nil {
			rows.Close()
			return nil, err
		}
		if b.EndDate, err = parseDate(end); err != nil {
			rows.Close()
			return nil, err
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	// Release the connection before the per-budget spend queries.
	rows.Close()

	for i := range out {
		spent, err := r.Spent(ctx, out[i].SubjectID, out[i].CategoryID, out[i].StartDate, out[i].EndDate)
		if err != nil {
			return nil, err
		}
		out[i].Spent = spent
	}
	return out, nil
}

func (r *SQLiteRepository) UpsertGoal(ctx context.Context, g core.Goal) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO goals (id, subject_id, name, target_amount, current_amount, monthly_contribution, deadline)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			target_amount = excluded.target_amount,
			current_amount = excluded.current_amount,
			monthly_contribution = excluded.monthly_contribution,
			deadline = excluded.deadline`,
		g.ID, g.SubjectID, g.Name, g.TargetAmount, g.CurrentAmount, g.MonthlyContribution, formatDate(g.Deadline))
	if err != nil {
		return fmt.Errorf("upsert goal %s: %w", g.ID, err)
	}
	return nil
}

func (r *SQLiteRepository) Goals(ctx context.Context, subjectID string) ([]core.Goal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, name, target_amount, current_amount, monthly_contribution, deadline
		FROM goals WHERE subject_id = ? ORDER BY id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list goals: %w", err)
	}
	defer rows.Close()

	var out []core.Goal
	for rows.Next() {
		var (
			g        core.Goal
			deadline string
		)
		if err := rows.Scan(&g.ID, &g.SubjectID, &g.Name, &g.TargetAmount, &g.CurrentAmount, &g.MonthlyContribution, &deadline); err != nil {
			return nil, fmt.Errorf("scan goal: %w", err)
		}
		if g.Deadline, err = parseDate(deadline); err != nil {
			return nil, err
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Averages returns the mean monthly income and expenses over the `months`
// full calendar months before the one containing asOf.
func (r *SQLiteRepository) Averages(ctx context.Context, subjectID string, asOf time.Time, months int) (core.HistoricalAverages, error) {
	avg := core.HistoricalAverages{Income: decimal.Zero, Expenses: decimal.Zero}
	if months < 1 {
		return avg, nil
	}
	to := period.StartOfMonth(asOf)
	from := period.AddMonths(to, -months)

	txs, err := r.Transactions(ctx, subjectID, from, to)
	if err != nil {
		return avg, err
	}
	for _, t := range txs {
		switch t.Kind {
		case core.Income:
			avg.Income = avg.Income.Add(t.Amount)
		case core.Expense:
			avg.Expenses = avg.Expenses.Add(t.Amount)
		}
	}
	n := decimal.NewFromInt(int64(months))
	avg.Income = avg.Income.Div(n)
	avg.Expenses = avg.Expenses.Div(n)
	return avg, nil
}
