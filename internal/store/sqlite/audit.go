package sqlite

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

// InsertAuditEvent appends one event to the index.
func (d *DB) InsertAuditEvent(ctx context.Context, ev *store.AuditEvent) error {
	detail := string(ev.Detail)
	if detail == "" {
		detail = "{}"
	}
	res, err := d.db.ExecContext(ctx, `
		INSERT INTO audit_events (timestamp, event, session_id, request_id, detail)
		VALUES (?, ?, ?, ?, ?)`,
		ev.Timestamp.UTC().Format(time.RFC3339Nano),
		ev.Event, ev.SessionID, ev.RequestID, detail,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		ev.ID = id
	}
	return nil
}

// QueryAuditEvents returns events matching the filter, newest first.
func (d *DB) QueryAuditEvents(ctx context.Context, f store.AuditFilter) ([]store.AuditEvent, error) {
	where, args := buildWhere(f)
	limit := f.Limit
	if limit <= 0 {
		limit = 100
	}
	args = append(args, limit)

	rows, err := d.db.QueryContext(ctx, `
		SELECT id, timestamp, event, session_id, request_id, detail
		FROM audit_events `+where+`
		ORDER BY id DESC LIMIT ?`, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var out []store.AuditEvent
	for rows.Next() {
		var ev store.AuditEvent
		var ts, detail string
		if err := rows.Scan(&ev.ID, &ts, &ev.Event, &ev.SessionID, &ev.RequestID, &detail); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if t, err := time.Parse(time.RFC3339Nano, ts); err == nil {
			ev.Timestamp = t
		}
		ev.Detail = []byte(detail)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// CountAuditEvents returns the number of events matching the filter.
func (d *DB) CountAuditEvents(ctx context.Context, f store.AuditFilter) (int, error) {
	where, args := buildWhere(f)
	var n int
	err := d.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM audit_events `+where, args...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count audit events: %w", err)
	}
	return n, nil
}

func buildWhere(f store.AuditFilter) (string, []any) {
	var conds []string
	var args []any
	if f.SessionID != "" {
		conds = append(conds, "session_id = ?")
		args = append(args, f.SessionID)
	}
	if f.RequestID != "" {
		conds = append(conds, "request_id = ?")
		args = append(args, f.RequestID)
	}
	if f.Event != "" {
		conds = append(conds, "event = ?")
		args = append(args, f.Event)
	}
	if !f.After.IsZero() {
		conds = append(conds, "timestamp >= ?")
		args = append(args, f.After.UTC().Format(time.RFC3339Nano))
	}
	if !f.Before.IsZero() {
		conds = append(conds, "timestamp < ?")
		args = append(args, f.Before.UTC().Format(time.RFC3339Nano))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(conds, " AND "), args
}
