// Package state holds the durable governance mode and the scoped-elevation
// cache, both Redis-backed. Reads fail safe: a store outage degrades to
// permission mode and "no elevation", never to bypass.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/revittco/toolgate/internal/policy"
)

const (
	modeKey         = "governance:mode"
	elevationPrefix = "elevation:"

	// elevationSentinel is the opaque value stored under an elevation key;
	// only key presence matters.
	elevationSentinel = "1"
)

// Store is the Redis-backed governance state.
type Store struct {
	rdb redis.Cmdable
}

// New creates a Store on an existing Redis client. The client's pool and
// timeouts are shared with the other gateway components.
func New(rdb redis.Cmdable) *Store {
	return &Store{rdb: rdb}
}

// Mode returns the current governance mode. Any store error or unknown
// stored value returns ModePermission.
func (s *Store) Mode(ctx context.Context) policy.Mode {
	val, err := s.rdb.Get(ctx, modeKey).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("governance mode read failed, defaulting to permission", "error", err)
		}
		return policy.ModePermission
	}
	m := policy.Mode(val)
	if !m.Valid() {
		slog.Warn("unknown stored governance mode, defaulting to permission", "value", val)
		return policy.ModePermission
	}
	return m
}

// SetMode persists a new governance mode. A failed write returns an error;
// it never silently succeeds.
func (s *Store) SetMode(ctx context.Context, m policy.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid governance mode %q", m)
	}
	if err := s.rdb.Set(ctx, modeKey, string(m), 0).Err(); err != nil {
		return fmt.Errorf("set governance mode: %w", err)
	}
	return nil
}

// SeedMode writes the mode only when the store has none. Used at startup to
// apply a configured default without clobbering an operator's live setting.
func (s *Store) SeedMode(ctx context.Context, m policy.Mode) error {
	if !m.Valid() {
		return fmt.Errorf("invalid governance mode %q", m)
	}
	if err := s.rdb.SetNX(ctx, modeKey, string(m), 0).Err(); err != nil {
		return fmt.Errorf("seed governance mode: %w", err)
	}
	return nil
}

// ElevationKey computes the namespaced cache key for an approval grant:
// SHA-256 over "tool:context:session". Collisions are cryptographically
// infeasible.
func ElevationKey(toolID, contextKey, sessionID string) string {
	sum := sha256.Sum256([]byte(toolID + ":" + contextKey + ":" + sessionID))
	return elevationPrefix + hex.EncodeToString(sum[:])
}

// GrantElevation marks a (tool, context, session) tuple approved for ttl.
func (s *Store) GrantElevation(ctx context.Context, key string, ttl time.Duration) error {
	if ttl <= 0 {
		return fmt.Errorf("elevation ttl must be positive, got %s", ttl)
	}
	if err := s.rdb.Set(ctx, key, elevationSentinel, ttl).Err(); err != nil {
		return fmt.Errorf("grant elevation: %w", err)
	}
	return nil
}

// CheckElevation reports whether an elevation is live. Store errors read as
// "not elevated" (fail-closed).
func (s *Store) CheckElevation(ctx context.Context, key string) bool {
	n, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		slog.Warn("elevation check failed, treating as absent", "error", err)
		return false
	}
	return n > 0
}

// RevokeElevation removes an elevation. Idempotent.
func (s *Store) RevokeElevation(ctx context.Context, key string) error {
	if err := s.rdb.Del(ctx, key).Err(); err != nil {
		return fmt.Errorf("revoke elevation: %w", err)
	}
	return nil
}

// RevokeAllElevations removes every live elevation and returns the count.
func (s *Store) RevokeAllElevations(ctx context.Context) (int, error) {
	var cursor uint64
	revoked := 0
	for {
		keys, next, err := s.rdb.Scan(ctx, cursor, elevationPrefix+"*", 100).Result()
		if err != nil {
			return revoked, fmt.Errorf("scan elevations: %w", err)
		}
		if len(keys) > 0 {
			n, err := s.rdb.Del(ctx, keys...).Result()
			if err != nil {
				return revoked, fmt.Errorf("delete elevations: %w", err)
			}
			revoked += int(n)
		}
		cursor = next
		if cursor == 0 {
			return revoked, nil
		}
	}
}
