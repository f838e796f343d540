package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

func newTestDB(t *testing.T) *DB {
	t.Helper()
	db, err := New(context.Background(), filepath.Join(t.TempDir(), "audit.db"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func seedEvents(t *testing.T, db *DB) []store.AuditEvent {
	t.Helper()
	base := time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)
	events := []store.AuditEvent{
		{Timestamp: base, Event: "tool_invoked", SessionID: "sess-1", Detail: json.RawMessage(`{"tool_id":"read_file"}`)},
		{Timestamp: base.Add(time.Minute), Event: "approval_requested", SessionID: "sess-1", RequestID: "req-1"},
		{Timestamp: base.Add(2 * time.Minute), Event: "approval_granted", SessionID: "sess-1", RequestID: "req-1"},
		{Timestamp: base.Add(3 * time.Minute), Event: "tool_invoked", SessionID: "sess-2"},
	}
	for i := range events {
		if err := db.InsertAuditEvent(context.Background(), &events[i]); err != nil {
			t.Fatalf("insert %d: %v", i, err)
		}
	}
	return events
}

func TestInsertAssignsIDs(t *testing.T) {
	db := newTestDB(t)
	events := seedEvents(t, db)
	for i, ev := range events {
		if ev.ID == 0 {
			t.Errorf("event %d has no id", i)
		}
		if i > 0 && ev.ID <= events[i-1].ID {
			t.Errorf("ids not monotonic: %d then %d", events[i-1].ID, ev.ID)
		}
	}
}

func TestQueryNewestFirst(t *testing.T) {
	db := newTestDB(t)
	seedEvents(t, db)

	got, err := db.QueryAuditEvents(context.Background(), store.AuditFilter{})
	if err != nil {
		t.Fatalf("QueryAuditEvents: %v", err)
	}
	if len(got) != 4 {
		t.Fatalf("got %d events, want 4", len(got))
	}
	for i := 1; i < len(got); i++ {
		if got[i-1].ID < got[i].ID {
			t.Fatalf("results not newest first: %v", got)
		}
	}
	if got[0].SessionID != "sess-2" {
		t.Errorf("newest event = %+v", got[0])
	}
}

func TestQueryFilters(t *testing.T) {
	db := newTestDB(t)
	events := seedEvents(t, db)
	ctx := context.Background()

	tests := []struct {
		name   string
		filter store.AuditFilter
		want   int
	}{
		{"by session", store.AuditFilter{SessionID: "sess-1"}, 3},
		{"by request", store.AuditFilter{RequestID: "req-1"}, 2},
		{"by event", store.AuditFilter{Event: "tool_invoked"}, 2},
		{"session and event", store.AuditFilter{SessionID: "sess-1", Event: "tool_invoked"}, 1},
		{"after", store.AuditFilter{After: events[2].Timestamp}, 2},
		{"before excludes boundary", store.AuditFilter{Before: events[1].Timestamp}, 1},
		{"window", store.AuditFilter{After: events[1].Timestamp, Before: events[3].Timestamp}, 2},
		{"no match", store.AuditFilter{SessionID: "ghost"}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := db.QueryAuditEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("query: %v", err)
			}
			if len(got) != tt.want {
				t.Errorf("got %d events, want %d", len(got), tt.want)
			}

			n, err := db.CountAuditEvents(ctx, tt.filter)
			if err != nil {
				t.Fatalf("count: %v", err)
			}
			if n != tt.want {
				t.Errorf("count = %d, want %d", n, tt.want)
			}
		})
	}
}

func TestQueryLimit(t *testing.T) {
	db := newTestDB(t)
	seedEvents(t, db)

	got, err := db.QueryAuditEvents(context.Background(), store.AuditFilter{Limit: 2})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 {
		t.Errorf("limit ignored, got %d events", len(got))
	}
}

func TestDetailRoundTrip(t *testing.T) {
	db := newTestDB(t)
	seedEvents(t, db)

	got, err := db.QueryAuditEvents(context.Background(), store.AuditFilter{Event: "tool_invoked", SessionID: "sess-1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("got %d events", len(got))
	}

	var detail map[string]any
	if err := json.Unmarshal(got[0].Detail, &detail); err != nil {
		t.Fatalf("detail not JSON: %v", err)
	}
	if detail["tool_id"] != "read_file" {
		t.Errorf("detail = %v", detail)
	}

	// Timestamps survive the text column.
	if !got[0].Timestamp.Equal(time.Date(2026, 8, 24, 10, 0, 0, 0, time.UTC)) {
		t.Errorf("timestamp = %v", got[0].Timestamp)
	}

	// Events stored without detail come back as an empty object.
	empty, err := db.QueryAuditEvents(context.Background(), store.AuditFilter{SessionID: "sess-2"})
	if err != nil {
		t.Fatal(err)
	}
	if string(empty[0].Detail) != "{}" {
		t.Errorf("empty detail = %q", empty[0].Detail)
	}
}

func TestReopenKeepsData(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.db")
	ctx := context.Background()

	db, err := New(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	ev := store.AuditEvent{Timestamp: time.Now(), Event: "mode_changed"}
	if err := db.InsertAuditEvent(ctx, &ev); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := New(ctx, path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer db2.Close()
	n, err := db2.CountAuditEvents(ctx, store.AuditFilter{})
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("count after reopen = %d, want 1", n)
	}
}
