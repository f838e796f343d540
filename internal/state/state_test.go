package state

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/revittco/toolgate/internal/policy"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return New(rdb), mr
}

func TestModeDefaultsToPermission(t *testing.T) {
	s, _ := newTestStore(t)
	if got := s.Mode(context.Background()); got != policy.ModePermission {
		t.Errorf("Mode() on empty store = %q, want permission", got)
	}
}

func TestSetAndGetMode(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, m := range []policy.Mode{policy.ModeReadOnly, policy.ModeBypass, policy.ModePermission} {
		if err := s.SetMode(ctx, m); err != nil {
			t.Fatalf("SetMode(%q): %v", m, err)
		}
		if got := s.Mode(ctx); got != m {
			t.Errorf("Mode() = %q, want %q", got, m)
		}
	}
}

func TestSetModeRejectsInvalid(t *testing.T) {
	s, _ := newTestStore(t)
	if err := s.SetMode(context.Background(), policy.Mode("chaos")); err == nil {
		t.Error("invalid mode accepted")
	}
}

func TestModeFailSafe(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()

	// Unknown stored value degrades to permission.
	mr.Set("governance:mode", "chaos")
	if got := s.Mode(ctx); got != policy.ModePermission {
		t.Errorf("Mode() with garbage value = %q, want permission", got)
	}

	// A dead store degrades to permission, never bypass.
	mr.Close()
	if got := s.Mode(ctx); got != policy.ModePermission {
		t.Errorf("Mode() with dead store = %q, want permission", got)
	}
}

func TestSeedModeDoesNotClobber(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	if err := s.SeedMode(ctx, policy.ModeReadOnly); err != nil {
		t.Fatalf("SeedMode: %v", err)
	}
	if got := s.Mode(ctx); got != policy.ModeReadOnly {
		t.Errorf("Mode() after seed = %q", got)
	}

	// A second seed must not overwrite the live value.
	if err := s.SeedMode(ctx, policy.ModeBypass); err != nil {
		t.Fatalf("SeedMode: %v", err)
	}
	if got := s.Mode(ctx); got != policy.ModeReadOnly {
		t.Errorf("Mode() after re-seed = %q, want read_only", got)
	}
}

func TestElevationKeyDeterministic(t *testing.T) {
	k1 := ElevationKey("write_file", "/tmp/x", "sess-1")
	k2 := ElevationKey("write_file", "/tmp/x", "sess-1")
	if k1 != k2 {
		t.Error("same tuple hashed differently")
	}
	if k1 == ElevationKey("write_file", "/tmp/x", "sess-2") {
		t.Error("different sessions share an elevation key")
	}
	if k1 == ElevationKey("write_file", "/tmp/y", "sess-1") {
		t.Error("different contexts share an elevation key")
	}
	if len(k1) != len("elevation:")+64 {
		t.Errorf("key %q has unexpected shape", k1)
	}
}

func TestElevationLifecycle(t *testing.T) {
	s, mr := newTestStore(t)
	ctx := context.Background()
	key := ElevationKey("write_file", "/tmp/x", "sess-1")

	if s.CheckElevation(ctx, key) {
		t.Error("elevation present before grant")
	}
	if err := s.GrantElevation(ctx, key, time.Minute); err != nil {
		t.Fatalf("GrantElevation: %v", err)
	}
	if !s.CheckElevation(ctx, key) {
		t.Error("elevation absent after grant")
	}

	// TTL expiry.
	mr.FastForward(2 * time.Minute)
	if s.CheckElevation(ctx, key) {
		t.Error("elevation survived its ttl")
	}
}

func TestGrantElevationRejectsNonPositiveTTL(t *testing.T) {
	s, _ := newTestStore(t)
	key := ElevationKey("t", "c", "s")
	if err := s.GrantElevation(context.Background(), key, 0); err == nil {
		t.Error("zero ttl accepted")
	}
}

func TestRevokeElevation(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()
	key := ElevationKey("write_file", "/tmp/x", "sess-1")

	if err := s.GrantElevation(ctx, key, time.Minute); err != nil {
		t.Fatal(err)
	}
	if err := s.RevokeElevation(ctx, key); err != nil {
		t.Fatalf("RevokeElevation: %v", err)
	}
	if s.CheckElevation(ctx, key) {
		t.Error("elevation present after revoke")
	}
	// Idempotent.
	if err := s.RevokeElevation(ctx, key); err != nil {
		t.Errorf("second revoke errored: %v", err)
	}
}

func TestRevokeAllElevations(t *testing.T) {
	s, _ := newTestStore(t)
	ctx := context.Background()

	for _, tool := range []string{"a", "b", "c"} {
		if err := s.GrantElevation(ctx, ElevationKey(tool, "ctx", "sess"), time.Minute); err != nil {
			t.Fatal(err)
		}
	}
	n, err := s.RevokeAllElevations(ctx)
	if err != nil {
		t.Fatalf("RevokeAllElevations: %v", err)
	}
	if n != 3 {
		t.Errorf("revoked %d, want 3", n)
	}
	if s.CheckElevation(ctx, ElevationKey("a", "ctx", "sess")) {
		t.Error("elevation survived bulk revoke")
	}
}

func TestCheckElevationFailClosed(t *testing.T) {
	s, mr := newTestStore(t)
	key := ElevationKey("t", "c", "s")
	mr.Close()
	if s.CheckElevation(context.Background(), key) {
		t.Error("dead store reported elevation present")
	}
}
