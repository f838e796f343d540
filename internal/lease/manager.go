// Package lease is the lifetime authority for tool access. A lease is an
// ephemeral grant keyed by (client, tool), bounded by a Redis TTL and a call
// counter. Redis owns expiration; the manager owns everything else.
package lease

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyPrefix = "lease:"

// Sentinel errors for the middleware to map onto neutral client messages.
var (
	ErrNoLease   = errors.New("no valid lease")
	ErrExhausted = errors.New("lease exhausted")
)

// Lease is the stored grant record. Existence in Redis implies the store
// TTL has not elapsed; expires_at is kept for opportunistic wall-clock
// checks and diagnostics.
type Lease struct {
	ClientID        string    `json:"client_id"`
	ToolID          string    `json:"tool_id"`
	GrantedAt       time.Time `json:"granted_at"`
	ExpiresAt       time.Time `json:"expires_at"`
	CallsRemaining  int       `json:"calls_remaining"`
	ModeAtIssue     string    `json:"mode_at_issue"`
	CapabilityToken string    `json:"capability_token,omitempty"`
}

// consumeScript atomically decrements calls_remaining, deleting the key on
// exhaustion and preserving the remaining store TTL otherwise. A plain
// read-modify-write would let concurrent consumers overshoot the budget.
var consumeScript = redis.NewScript(`
local raw = redis.call("GET", KEYS[1])
if not raw then
	return false
end
local lease = cjson.decode(raw)
if lease.calls_remaining <= 0 then
	redis.call("DEL", KEYS[1])
	return false
end
lease.calls_remaining = lease.calls_remaining - 1
local encoded = cjson.encode(lease)
if lease.calls_remaining == 0 then
	redis.call("DEL", KEYS[1])
	return encoded
end
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
	redis.call("SET", KEYS[1], encoded, "PX", ttl)
else
	redis.call("SET", KEYS[1], encoded)
end
return encoded
`)

// Manager creates, validates, consumes, and revokes leases.
type Manager struct {
	rdb redis.Cmdable

	mu        sync.Mutex
	listeners []func(clientID string)
}

// NewManager creates a Manager on a shared Redis client.
func NewManager(rdb redis.Cmdable) *Manager {
	return &Manager{rdb: rdb}
}

// OnListChanged registers a callback fired after a grant, a revocation, or
// an exhaustion changes a client's visible tool set.
func (m *Manager) OnListChanged(fn func(clientID string)) {
	m.mu.Lock()
	m.listeners = append(m.listeners, fn)
	m.mu.Unlock()
}

// notifyListChanged runs all callbacks; a panicking callback must not
// prevent the rest from running.
func (m *Manager) notifyListChanged(clientID string) {
	m.mu.Lock()
	listeners := append([]func(string){}, m.listeners...)
	m.mu.Unlock()

	for _, fn := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					slog.Error("list_changed callback panicked", "client_id", clientID, "panic", r)
				}
			}()
			fn(clientID)
		}()
	}
}

func keyFor(clientID, toolID string) string {
	return keyPrefix + clientID + ":" + toolID
}

// Grant creates or replaces the lease for (clientID, toolID). At most one
// live lease exists per pair.
func (m *Manager) Grant(ctx context.Context, clientID, toolID string, ttl time.Duration, calls int, modeAtIssue, capabilityToken string) (*Lease, error) {
	if clientID == "" {
		return nil, fmt.Errorf("client_id is required")
	}
	if toolID == "" {
		return nil, fmt.Errorf("tool_id is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("lease ttl must be positive, got %s", ttl)
	}
	if calls < 0 {
		return nil, fmt.Errorf("calls_remaining must be non-negative, got %d", calls)
	}

	now := time.Now().UTC()
	l := &Lease{
		ClientID:        clientID,
		ToolID:          toolID,
		GrantedAt:       now,
		ExpiresAt:       now.Add(ttl),
		CallsRemaining:  calls,
		ModeAtIssue:     modeAtIssue,
		CapabilityToken: capabilityToken,
	}
	data, err := json.Marshal(l)
	if err != nil {
		return nil, fmt.Errorf("marshal lease: %w", err)
	}
	if err := m.rdb.Set(ctx, keyFor(clientID, toolID), data, ttl).Err(); err != nil {
		return nil, fmt.Errorf("store lease: %w", err)
	}

	m.notifyListChanged(clientID)
	return l, nil
}

// Validate returns the lease only if it exists, is unexpired, and has calls
// remaining. It does not consume. Store errors fail closed.
func (m *Manager) Validate(ctx context.Context, clientID, toolID string) (*Lease, error) {
	if clientID == "" || toolID == "" {
		return nil, ErrNoLease
	}

	raw, err := m.rdb.Get(ctx, keyFor(clientID, toolID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNoLease
	}
	if err != nil {
		return nil, fmt.Errorf("read lease: %w", err)
	}

	var l Lease
	if err := json.Unmarshal(raw, &l); err != nil {
		return nil, fmt.Errorf("decode lease: %w", err)
	}

	// The store TTL is authoritative, but delete opportunistically if the
	// wall clock disagrees (e.g. a key written without TTL by an older
	// process).
	if !l.ExpiresAt.After(time.Now().UTC()) {
		_ = m.rdb.Del(ctx, keyFor(clientID, toolID)).Err()
		return nil, ErrNoLease
	}
	if l.CallsRemaining <= 0 {
		return nil, ErrExhausted
	}
	return &l, nil
}

// Consume atomically decrements the call counter. With N concurrent
// consumers of a lease holding K calls, exactly min(N, K) succeed. Returns
// the post-decrement lease; when the counter reaches zero the key is gone
// and a list_changed notification fires.
func (m *Manager) Consume(ctx context.Context, clientID, toolID string) (*Lease, error) {
	if clientID == "" || toolID == "" {
		return nil, ErrNoLease
	}

	res, err := consumeScript.Run(ctx, m.rdb, []string{keyFor(clientID, toolID)}).Result()
	if err == redis.Nil {
		return nil, ErrNoLease
	}
	if err != nil {
		return nil, fmt.Errorf("consume lease: %w", err)
	}

	encoded, ok := res.(string)
	if !ok {
		return nil, fmt.Errorf("unexpected consume result type %T", res)
	}
	var l Lease
	if err := json.Unmarshal([]byte(encoded), &l); err != nil {
		return nil, fmt.Errorf("decode consumed lease: %w", err)
	}

	if l.CallsRemaining == 0 {
		m.notifyListChanged(clientID)
	}
	return &l, nil
}

// Revoke deletes the lease. Idempotent; reports whether a lease was
// actually removed and notifies only on a present-to-absent transition.
func (m *Manager) Revoke(ctx context.Context, clientID, toolID string) (bool, error) {
	if clientID == "" || toolID == "" {
		return false, nil
	}
	n, err := m.rdb.Del(ctx, keyFor(clientID, toolID)).Result()
	if err != nil {
		return false, fmt.Errorf("revoke lease: %w", err)
	}
	if n > 0 {
		m.notifyListChanged(clientID)
		return true, nil
	}
	return false, nil
}

// ListForClient returns all live leases held by one client.
func (m *Manager) ListForClient(ctx context.Context, clientID string) ([]Lease, error) {
	if clientID == "" {
		return nil, nil
	}

	var out []Lease
	var cursor uint64
	pattern := keyPrefix + clientID + ":*"
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return nil, fmt.Errorf("scan leases: %w", err)
		}
		for _, key := range keys {
			raw, err := m.rdb.Get(ctx, key).Bytes()
			if err == redis.Nil {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("read lease %s: %w", key, err)
			}
			var l Lease
			if err := json.Unmarshal(raw, &l); err != nil {
				continue
			}
			if l.CallsRemaining > 0 && l.ExpiresAt.After(time.Now().UTC()) {
				out = append(out, l)
			}
		}
		cursor = next
		if cursor == 0 {
			return out, nil
		}
	}
}

// PurgeExpired scans all lease keys and deletes those whose stored
// expires_at has passed. Maintenance only; Redis TTLs remove most expired
// keys on their own.
func (m *Manager) PurgeExpired(ctx context.Context) (int, error) {
	now := time.Now().UTC()
	purged := 0
	var cursor uint64
	for {
		keys, next, err := m.rdb.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return purged, fmt.Errorf("scan leases: %w", err)
		}
		for _, key := range keys {
			raw, err := m.rdb.Get(ctx, key).Bytes()
			if err != nil {
				continue
			}
			var l Lease
			if err := json.Unmarshal(raw, &l); err != nil {
				continue
			}
			if !l.ExpiresAt.After(now) {
				if n, err := m.rdb.Del(ctx, key).Result(); err == nil && n > 0 {
					purged++
					m.notifyListChanged(clientIDFromKey(key))
				}
			}
		}
		cursor = next
		if cursor == 0 {
			return purged, nil
		}
	}
}

// clientIDFromKey extracts the client id from "lease:{client}:{tool}".
func clientIDFromKey(key string) string {
	rest := strings.TrimPrefix(key, keyPrefix)
	if i := strings.LastIndex(rest, ":"); i > 0 {
		return rest[:i]
	}
	return rest
}
