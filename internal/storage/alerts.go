package storage

import (
	"context"
	"database/sql"
	"fmt"

	"fintrack/internal/alerts"
	"fintrack/internal/core"
)

const alertColumns = `id, subject_id, type, subject_key, severity, title, message,
	is_read, is_archived, action_ref, amount, created_at, resolved_at`

// UnresolvedAlerts returns the alerts the evaluator reconciles against: open
// ones and those archived by the user while their condition still held.
func (r *SQLiteRepository) UnresolvedAlerts(ctx context.Context, subjectID string) ([]core.Alert, error) {
	return r.queryAlerts(ctx, `WHERE subject_id = ? AND resolved_at IS NULL ORDER BY created_at DESC, id`, subjectID)
}

// Alerts lists a subject's alerts, newest first; includeArchived adds the
// archived and resolved ones.
func (r *SQLiteRepository) Alerts(ctx context.Context, subjectID string, includeArchived bool) ([]core.Alert, error) {
	where := `WHERE subject_id = ?`
	if !includeArchived {
		where += ` AND is_archived = 0`
	}
	return r.queryAlerts(ctx, where+` ORDER BY created_at DESC, id`, subjectID)
}

func (r *SQLiteRepository) Alert(ctx context.Context, id string) (core.Alert, error) {
	list, err := r.queryAlerts(ctx, `WHERE id = ?`, id)
	if err != nil {
		return core.Alert{}, err
	}
	if len(list) == 0 {
		return core.Alert{}, fmt.Errorf("alert %s: %w", id, ErrNotFound)
	}
	return list[0], nil
}

func (r *SQLiteRepository) queryAlerts(ctx context.Context, where string, args ...any) ([]core.Alert, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT `+alertColumns+` FROM alerts `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer rows.Close()

	var out []core.Alert
	for rows.Next() {
		var (
			a              core.Alert
			typ, severity  string
			read, archived int
			createdAt      string
			resolvedAt     sql.NullString
		)
		if err := rows.Scan(&a.ID, &a.SubjectID, &typ, &a.SubjectKey, &severity, &a.Title, &a.Message,
			&read, &archived, &a.ActionRef, &a.Amount, &createdAt, &resolvedAt); err != nil {
			return nil, fmt.Errorf("scan alert: %w", err)
		}
		a.Type = core.AlertType(typ)
		a.Severity = core.Severity(severity)
		a.IsRead = read == 1
		a.IsArchived = archived == 1
		if a.CreatedAt, err = parseTimestamp(createdAt); err != nil {
			return nil, err
		}
		if resolvedAt.Valid {
			ts, err := parseTimestamp(resolvedAt.String)
			if err != nil {
				return nil, err
			}
			a.ResolvedAt = &ts
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// ApplyAlertDiff persists one evaluation atomically.
func (r *SQLiteRepository) ApplyAlertDiff(ctx context.Context, diff alerts.Diff) error {
	if diff.Empty() {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range diff.ToCreate {
			if err := insertAlert(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, a := range diff.ToUpdate {
			if err := updateAlert(ctx, tx, a); err != nil {
				return err
			}
		}
		for _, a := range diff.ToResolve {
			if err := updateAlert(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

// SaveAlerts writes state changes such as read or archived flags.
func (r *SQLiteRepository) SaveAlerts(ctx context.Context, list ...core.Alert) error {
	if len(list) == 0 {
		return nil
	}
	return r.withTx(ctx, func(tx *sql.Tx) error {
		for _, a := range list {
			if err := updateAlert(ctx, tx, a); err != nil {
				return err
			}
		}
		return nil
	})
}

func resolvedValue(a core.Alert) sql.NullString {
	if a.ResolvedAt == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTimestamp(*a.ResolvedAt), Valid: true}
}

func insertAlert(ctx context.Context, tx *sql.Tx, a core.Alert) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO alerts (`+alertColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.SubjectID, string(a.Type), a.SubjectKey, string(a.Severity), a.Title, a.Message,
		boolInt(a.IsRead), boolInt(a.IsArchived), a.ActionRef, a.Amount,
		formatTimestamp(a.CreatedAt), resolvedValue(a))
	if err != nil {
		return fmt.Errorf("insert alert %s: %w", a.ID, err)
	}
	return nil
}

func updateAlert(ctx context.Context, tx *sql.Tx, a core.Alert) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE alerts SET severity = ?, title = ?, message = ?, is_read = ?, is_archived = ?,
			action_ref = ?, amount = ?, created_at = ?, resolved_at = ?
		WHERE id = ?`,
		string(a.Severity), a.Title, a.Message, boolInt(a.IsRead), boolInt(a.IsArchived),
		a.ActionRef, a.Amount, formatTimestamp(a.CreatedAt), resolvedValue(a), a.ID)
	if err != nil {
		return fmt.Errorf("update alert %s: %w", a.ID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update alert %s: %w", a.ID, ErrNotFound)
	}
	return nil
}
