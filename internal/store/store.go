// Package store defines the queryable audit index. The JSONL audit file is
// the ground truth; this index is a best-effort mirror for operator queries.
package store

import (
	"context"
	"encoding/json"
	"time"
)

// AuditIndex is the interface for the audit query mirror.
type AuditIndex interface {
	InsertAuditEvent(ctx context.Context, ev *AuditEvent) error
	QueryAuditEvents(ctx context.Context, f AuditFilter) ([]AuditEvent, error)
	CountAuditEvents(ctx context.Context, f AuditFilter) (int, error)
	Ping(ctx context.Context) error
	Close() error
}

// AuditEvent is one indexed governance event.
type AuditEvent struct {
	ID        int64           `json:"id"`
	Timestamp time.Time       `json:"timestamp"`
	Event     string          `json:"event"`
	SessionID string          `json:"session_id,omitempty"`
	RequestID string          `json:"request_id,omitempty"`
	Detail    json.RawMessage `json:"detail,omitempty"`
}

// AuditFilter narrows a query. Zero values mean "any".
type AuditFilter struct {
	SessionID string
	RequestID string
	Event     string
	After     time.Time
	Before    time.Time
	Limit     int
}
