package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"fintrack/internal/core"
	"fintrack/internal/schedule"
)

const obligationColumns = `id, subject_id, description, category, amount, kind, is_active,
	frequency, start_date, end_date, last_processed`

func (r *SQLiteRepository) UpsertObligation(ctx context.Context, ob core.RecurringObligation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO obligations (`+obligationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			description = excluded.description,
			category = excluded.category,
			amount = excluded.amount,
			kind = excluded.kind,
			is_active = excluded.is_active,
			frequency = excluded.frequency,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			last_processed = excluded.last_processed`,
		ob.ID, ob.SubjectID, ob.Description, ob.Category, ob.Amount, string(ob.Kind), boolInt(ob.IsActive),
		string(ob.Rule.Frequency), formatDate(ob.Rule.StartDate), nullDate(ob.Rule.EndDate), nullDate(ob.Rule.LastProcessed))
	if err != nil {
		return fmt.Errorf("upsert obligation %s: %w", ob.ID, err)
	}
	return nil
}

// Obligations returns a subject's obligations; activeOnly filters out paused ones.
func (r *SQLiteRepository) Obligations(ctx context.Context, subjectID string, activeOnly bool) ([]core.RecurringObligation, error) {
	query := `SELECT ` + obligationColumns + ` FROM obligations WHERE subject_id = ?`
	if activeOnly {
		query += ` AND is_active = 1`
	}
	rows, err := r.db.QueryContext(ctx, query+` ORDER BY id`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("list obligations: %w", err)
	}
	defer rows.Close()

	var out []core.RecurringObligation
	for rows.Next() {
		ob, err := scanObligation(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ob)
	}
	return out, rows.Err()
}

func scanObligation(rows *sql.Rows) (core.RecurringObligation, error) {
	var (
		ob                 core.RecurringObligation
		kind, freq, start  string
		active             int
		end, lastProcessed sql.NullString
	)
	if err := rows.Scan(&ob.ID, &ob.SubjectID, &ob.Description, &ob.Category, &ob.Amount, &kind, &active,
		&freq, &start, &end, &lastProcessed); err != nil {
		return ob, fmt.Errorf("scan obligation: %w", err)
	}
	ob.Kind = core.Kind(kind)
	ob.IsActive = active == 1
	ob.Rule.Frequency = core.Frequency(freq)

	var err error
	if ob.Rule.StartDate, err = parseDate(start); err != nil {
		return ob, err
	}
	if ob.Rule.EndDate, err = parseNullDate(end); err != nil {
		return ob, err
	}
	if ob.Rule.LastProcessed, err = parseNullDate(lastProcessed); err != nil {
		return ob, err
	}
	return ob, nil
}

// MaterializedKeys returns the idempotency keys of the subject's materialized
// occurrences dated after since.
func (r *SQLiteRepository) MaterializedKeys(ctx context.Context, subjectID string, since time.Time) (schedule.KeySet, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT obligation_id, occurrence_date FROM transactions
		WHERE subject_id = ? AND obligation_id IS NOT NULL AND occurrence_date > ?`,
		subjectID, formatDate(since))
	if err != nil {
		return nil, fmt.Errorf("list materialized keys: %w", err)
	}
	defer rows.Close()

	keys := schedule.KeySet{}
	for rows.Next() {
		var obligationID, date string
		if err := rows.Scan(&obligationID, &date); err != nil {
			return nil, fmt.Errorf("scan materialized key: %w", err)
		}
		d, err := parseDate(date)
		if err != nil {
			return nil, err
		}
		keys.Add(schedule.InstanceKey(obligationID, d))
	}
	return keys, rows.Err()
}

// SaveMaterialization stores new instances and advances LastProcessed in one
// transaction. Instances already present are ignored and LastProcessed never
// moves backwards. It returns the number of instances actually inserted.
func (r *SQLiteRepository) SaveMaterialization(ctx context.Context, instances []core.TransactionInstance, advances []schedule.Advance) (int, error) {
	inserted := 0
	err := r.withTx(ctx, func(tx *sql.Tx) error {
		createdAt := formatTimestamp(r.now())
		for _, in := range instances {
			res, err := tx.ExecContext(ctx, `
				INSERT OR IGNORE INTO transactions
					(id, subject_id, obligation_id, occurrence_date, amount, kind, description, category, created_at)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				in.ID, in.SubjectID, in.ObligationID, formatDate(in.OccurrenceDate), in.Amount,
				string(in.Kind), in.Description, in.Category, createdAt)
			if err != nil {
				return fmt.Errorf("insert instance %s: %w", in.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				inserted++
			}
		}
		for _, adv := range advances {
			d := formatDate(adv.LastProcessed)
			if _, err := tx.ExecContext(ctx, `
				UPDATE obligations SET last_processed = ?
				WHERE id = ? AND (last_processed IS NULL OR last_processed < ?)`,
				d, adv.ObligationID, d); err != nil {
				return fmt.Errorf("advance obligation %s: %w", adv.ObligationID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return inserted, nil
}

// InsertTransaction records a transaction that does not come from an
// obligation. A transaction whose ID is already stored is left unchanged.
func (r *SQLiteRepository) InsertTransaction(ctx context.Context, in core.TransactionInstance) error {
	var obligationID sql.NullString
	if in.ObligationID != "" {
		obligationID = sql.NullString{String: in.ObligationID, Valid: true}
	}
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO transactions
			(id, subject_id, obligation_id, occurrence_date, amount, kind, description, category, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		in.ID, in.SubjectID, obligationID, formatDate(in.OccurrenceDate), in.Amount,
		string(in.Kind), in.Description, in.Category, formatTimestamp(r.now()))
	if err != nil {
		return fmt.Errorf("insert transaction %s: %w", in.ID, err)
	}
	return nil
}

// Transactions lists the subject's transactions dated in [from, to).
func (r *SQLiteRepository) Transactions(ctx context.Context, subjectID string, from, to time.Time) ([]core.TransactionInstance, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, subject_id, COALESCE(obligation_id, ''), occurrence_date, amount, kind, description, category
		FROM transactions
		WHERE subject_id = ? AND occurrence_date >= ? AND occurrence_date < ?
		ORDER BY occurrence_date, id`,
		subjectID, formatDate(from), formatDate(to))
	if err != nil {
		return nil, fmt.Errorf("list transactions: %w", err)
	}
	defer rows.Close()

	var out []core.TransactionInstance
	for rows.Next() {
		var (
			t          core.TransactionInstance
			date, kind string
		)
		if err := rows.Scan(&t.ID, &t.SubjectID, &t.ObligationID, &date, &t.Amount, &kind, &t.Description, &t.Category); err != nil {
			return nil, fmt.Errorf("scan transaction: %w", err)
		}
		if t.OccurrenceDate, err = parseDate(date); err != nil {
			return nil, err
		}
		t.Kind = core.Kind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// Spent sums the subject's expenses in a category dated in [from, to).
func (r *SQLiteRepository) Spent(ctx context.Context, subjectID, category string, from, to time.Time) (decimal.Decimal, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT amount FROM transactions
		WHERE subject_id = ? AND category = ? AND kind = 'expense'
			AND occurrence_date >= ? AND occurrence_date < ?`,
		subjectID, category, formatDate(from), formatDate(to))
	if err != nil {
		return decimal.Zero, fmt.Errorf("sum spend: %w", err)
	}
	defer rows.Close()

	total := decimal.Zero
	for rows.Next() {
		var amt decimal.Decimal
		if err := rows.Scan(&amt); err != nil {
			return decimal.Zero, fmt.Errorf("scan amount: %w", err)
		}
		total = total.Add(amt)
	}
	return total, rows.Err()
}
