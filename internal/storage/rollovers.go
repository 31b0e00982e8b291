package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/rollover"
)

// RolloverRecord is one closed budget period and the period that replaces it.
type RolloverRecord struct {
	Previous    core.Budget
	Next        core.Budget
	PeriodSpend decimal.Decimal
	Policy      rollover.Policy
}

// LedgerSet is a loaded snapshot of closed periods; it satisfies rollover.Ledger.
type LedgerSet map[string]struct{}

func ledgerKey(budgetID string, periodEnd time.Time) string {
	return budgetID + "@" + formatDate(periodEnd)
}

func (s LedgerSet) RolledOver(budgetID string, periodEnd time.Time) bool {
	_, ok := s[ledgerKey(budgetID, periodEnd)]
	return ok
}

// RolloverLedger loads every closed period ending on or before asOf.
func (r *SQLiteRepository) RolloverLedger(ctx context.Context, asOf time.Time) (LedgerSet, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT budget_id, period_end FROM rollovers WHERE period_end <= ?`, formatDate(asOf))
	if err != nil {
		return nil, fmt.Errorf("list rollovers: %w", err)
	}
	defer rows.Close()

	set := LedgerSet{}
	for rows.Next() {
		var budgetID, end string
		if err := rows.Scan(&budgetID, &end); err != nil {
			return nil, fmt.Errorf("scan rollover: %w", err)
		}
		d, err := parseDate(end)
		if err != nil {
			return nil, err
		}
		set[ledgerKey(budgetID, d)] = struct{}{}
	}
	return set, rows.Err()
}

// SaveRollover records the closed period and moves the budget row to the
// next period in one transaction. It reports false, changing nothing, when
// the period was already closed by someone else.
func (r *SQLiteRepository) SaveRollover(ctx context.Context, rec RolloverRecord) (bool, error) {
	saved := false
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT OR IGNORE INTO rollovers (budget_id, period_end, period_spend, carried, policy, created_at)
			VALUES (?, ?, ?, ?, ?, ?)`,
			rec.Previous.ID, formatDate(rec.Previous.EndDate), rec.PeriodSpend, rec.Next.RolloverAmount,
			string(rec.Policy), formatTimestamp(r.now()))
		if err != nil {
			return fmt.Errorf("insert rollover %s: %w", rec.Previous.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return nil
		}

		res, err = tx.ExecContext(ctx, `
			UPDATE budgets SET start_date = ?, end_date = ?, rollover_amount = ?
			WHERE id = ? AND end_date = ?`,
			formatDate(rec.Next.StartDate), formatDate(rec.Next.EndDate), rec.Next.RolloverAmount,
			rec.Previous.ID, formatDate(rec.Previous.EndDate))
		if err != nil {
			return fmt.Errorf("advance budget %s: %w", rec.Previous.ID, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return fmt.Errorf("advance budget %s: %w", rec.Previous.ID, ErrNotFound)
		}
		saved = true
		return nil
	})
	if err != nil {
		return false, err
	}
	return saved, nil
}
