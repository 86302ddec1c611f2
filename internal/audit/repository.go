package audit

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// timeLayout is fixed-width so created_at sorts lexicographically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteRepository stores entries in the audit_logs table.
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new audit log repository.
func NewSQLiteRepository(db *sql.DB) *SQLiteRepository {
	return &SQLiteRepository{db: db}
}

// Append inserts a new entry. ID and Timestamp must already be set.
func (r *SQLiteRepository) Append(ctx context.Context, e *Entry) error {
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO audit_logs (id, action, actor, outcome, detail, source, request_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, string(e.Action), e.Actor, string(e.Outcome),
		nullableString(e.Detail), e.Source, nullableString(e.RequestID),
		e.Timestamp.UTC().Format(timeLayout),
	)
	if err != nil {
		return fmt.Errorf("inserting audit log: %w", err)
	}
	return nil
}

// nullableString returns nil for empty strings, or the string otherwise.
// Used for nullable TEXT columns in SQLite.
func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// List returns entries matching the filter, ordered by most recent first.
func (r *SQLiteRepository) List(ctx context.Context, filter Filter) (*ListResult, error) {
	filter = filter.normalise()

	var conditions []string
	var args []any

	if filter.Actor != "" {
		conditions = append(conditions, "actor = ?")
		args = append(args, filter.Actor)
	}
	if filter.Action != "" {
		conditions = append(conditions, "action = ?")
		args = append(args, string(filter.Action))
	}
	if !filter.Since.IsZero() {
		conditions = append(conditions, "created_at >= ?")
		args = append(args, filter.Since.UTC().Format(timeLayout))
	}
	if !filter.Until.IsZero() {
		conditions = append(conditions, "created_at < ?")
		args = append(args, filter.Until.UTC().Format(timeLayout))
	}

	where := ""
	if len(conditions) > 0 {
		where = "WHERE " + strings.Join(conditions, " AND ")
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) FROM audit_logs %s", where) //nolint:gosec // WHERE built from parameterised conditions, not user input
	var total int
	if err := r.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, fmt.Errorf("counting audit logs: %w", err)
	}

	query := fmt.Sprintf( //nolint:gosec // WHERE built from parameterised conditions, not user input
		`SELECT id, action, actor, outcome, detail, source, request_id, created_at
		 FROM audit_logs %s ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?`,
		where,
	)
	args = append(args, filter.Limit, filter.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying audit logs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var action, outcome, createdAt string
		var detail, requestID sql.NullString

		if err := rows.Scan(&e.ID, &action, &e.Actor, &outcome,
			&detail, &e.Source, &requestID, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning audit log: %w", err)
		}

		e.Action = Action(action)
		e.Outcome = Outcome(outcome)
		e.Detail = detail.String
		e.RequestID = requestID.String

		t, err := time.Parse(timeLayout, createdAt)
		if err != nil {
			return nil, fmt.Errorf("parsing audit log timestamp %q: %w", createdAt, err)
		}
		e.Timestamp = t

		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating audit logs: %w", err)
	}

	return &ListResult{
		Entries: entries,
		Total:   total,
		Limit:   filter.Limit,
		Offset:  filter.Offset,
	}, nil
}
