// Package audit writes the append-only governance log: one JSON object per
// line, size-based rotation, age-based retention. The JSONL file is the
// ground truth; the bus and the optional SQLite index are best-effort
// mirrors.
package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/revittco/toolgate/internal/store"
)

const (
	defaultMaxBytes  = 10 << 20 // 10 MiB per file before rotation
	defaultRetention = 30 * 24 * time.Hour
	truncateCap      = 1000 // max chars per string field value
)

// Event is one audit record as published to subscribers and the index.
type Event struct {
	Timestamp time.Time      `json:"timestamp"`
	Event     string         `json:"event"`
	SessionID string         `json:"session_id,omitempty"`
	RequestID string         `json:"request_id,omitempty"`
	Fields    map[string]any `json:"fields,omitempty"`
}

// Logger serializes line writes to the audit file. Writes never raise into
// calling code: failures are reported via slog only.
type Logger struct {
	mu        sync.Mutex
	path      string
	f         *os.File
	size      int64
	maxBytes  int64
	retention time.Duration
	sweepDay  string
	bus       *Bus
	index     store.AuditIndex
	now       func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithMaxBytes sets the rotation threshold.
func WithMaxBytes(n int64) Option { return func(l *Logger) { l.maxBytes = n } }

// WithRetention sets how long rotated files are kept.
func WithRetention(d time.Duration) Option { return func(l *Logger) { l.retention = d } }

// WithBus attaches a fan-out bus for live subscribers.
func WithBus(b *Bus) Option { return func(l *Logger) { l.bus = b } }

// WithIndex attaches a queryable mirror of the log. Index failures are
// fail-soft.
func WithIndex(idx store.AuditIndex) Option { return func(l *Logger) { l.index = idx } }

// withClock overrides the time source. Tests only.
func withClock(now func() time.Time) Option { return func(l *Logger) { l.now = now } }

// New opens (or creates) the audit file for appending.
func New(path string, opts ...Option) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create audit dir: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, fmt.Errorf("open audit file: %w", err)
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat audit file: %w", err)
	}

	l := &Logger{
		path:      path,
		f:         f,
		size:      info.Size(),
		maxBytes:  defaultMaxBytes,
		retention: defaultRetention,
		now:       time.Now,
	}
	for _, o := range opts {
		o(l)
	}
	l.sweepDay = l.now().UTC().Format("20060102")
	return l, nil
}

// Close flushes and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.f == nil {
		return nil
	}
	err := l.f.Close()
	l.f = nil
	return err
}

// Log appends one event. Oversized string values are truncated recursively;
// any write or rotation failure is logged and swallowed so audit problems
// never block policy decisions.
func (l *Logger) Log(event, sessionID, requestID string, fields map[string]any) {
	now := l.now().UTC()

	truncated := make(map[string]any, len(fields))
	for k, v := range fields {
		truncated[k] = truncate(v)
	}

	rec := make(map[string]any, len(truncated)+4)
	rec["timestamp"] = now.Format(time.RFC3339Nano)
	rec["event"] = event
	if sessionID != "" {
		rec["session_id"] = sessionID
	}
	if requestID != "" {
		rec["request_id"] = requestID
	}
	for k, v := range truncated {
		switch k {
		case "timestamp", "event", "session_id", "request_id":
			// Reserved keys stay authoritative.
		default:
			rec[k] = v
		}
	}

	line, err := json.Marshal(rec)
	if err != nil {
		slog.Error("audit marshal failed", "event", event, "error", err)
		return
	}
	line = append(line, '\n')

	l.mu.Lock()
	l.writeLocked(line, now)
	l.mu.Unlock()

	ev := &Event{
		Timestamp: now,
		Event:     event,
		SessionID: sessionID,
		RequestID: requestID,
		Fields:    truncated,
	}
	if l.bus != nil {
		l.bus.Publish(ev)
	}
	if l.index != nil {
		l.mirror(ev)
	}
}

func (l *Logger) writeLocked(line []byte, now time.Time) {
	if l.f == nil {
		slog.Error("audit write after close")
		return
	}

	if l.size > 0 && l.size+int64(len(line)) > l.maxBytes {
		l.rotateLocked(now)
	}
	if l.f == nil {
		return
	}

	n, err := l.f.Write(line)
	if err != nil {
		slog.Error("audit write failed", "path", l.path, "error", err)
	}
	l.size += int64(n)

	if day := now.Format("20060102"); day != l.sweepDay {
		l.sweepDay = day
		l.sweepLocked(now)
	}
}

// rotateLocked renames the current file with a UTC timestamp suffix and
// starts a fresh one. A numeric counter resolves same-second collisions.
// Rotation renames, never truncates, so concurrent tailers stay safe.
func (l *Logger) rotateLocked(now time.Time) {
	if err := l.f.Close(); err != nil {
		slog.Warn("audit rotate close failed", "error", err)
	}
	l.f = nil

	suffix := now.Format("20060102150405")
	rotated := l.path + "." + suffix
	for i := 1; ; i++ {
		if _, err := os.Stat(rotated); os.IsNotExist(err) {
			break
		}
		rotated = fmt.Sprintf("%s.%s.%d", l.path, suffix, i)
	}
	if err := os.Rename(l.path, rotated); err != nil {
		slog.Error("audit rotate rename failed", "error", err)
	}

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		slog.Error("audit rotate reopen failed", "error", err)
		return
	}
	l.f = f
	l.size = 0
}

// sweepLocked deletes rotated siblings older than the retention horizon.
// Best-effort; runs on the first write after a day boundary.
func (l *Logger) sweepLocked(now time.Time) {
	dir := filepath.Dir(l.path)
	base := filepath.Base(l.path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		slog.Warn("audit retention sweep failed", "error", err)
		return
	}
	horizon := now.Add(-l.retention)
	for _, e := range entries {
		name := e.Name()
		if name == base || !strings.HasPrefix(name, base+".") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().Before(horizon) {
			if err := os.Remove(filepath.Join(dir, name)); err != nil {
				slog.Warn("audit retention remove failed", "file", name, "error", err)
			}
		}
	}
}

// mirror inserts the event into the query index. Fail-soft.
func (l *Logger) mirror(ev *Event) {
	detail, err := json.Marshal(ev.Fields)
	if err != nil {
		detail = nil
	}
	rec := &store.AuditEvent{
		Timestamp: ev.Timestamp,
		Event:     ev.Event,
		SessionID: ev.SessionID,
		RequestID: ev.RequestID,
		Detail:    detail,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := l.index.InsertAuditEvent(ctx, rec); err != nil {
		slog.Warn("audit index insert failed", "event", ev.Event, "error", err)
	}
}

// truncate caps string values, recursing into nested maps and slices. The
// replacement preserves the original length.
func truncate(v any) any {
	switch val := v.(type) {
	case string:
		if len(val) <= truncateCap {
			return val
		}
		return fmt.Sprintf("%s...[truncated, %d chars total]", val[:truncateCap], len(val))
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = truncate(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = truncate(item)
		}
		return out
	case []string:
		out := make([]any, len(val))
		for i, s := range val {
			out[i] = truncate(s)
		}
		return out
	default:
		return v
	}
}
