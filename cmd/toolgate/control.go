package main

import (
	"context"
	"fmt"
	"time"

	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/policy"
	"github.com/revittco/toolgate/internal/state"
)

// operatorSession tags audit records produced by operator commands rather
// than a client session.
const operatorSession = "operator"

const controlTimeout = 10 * time.Second

// cmdMode flips the governance mode for the running gateway. The mode lives
// in Redis, so the change takes effect on the next governed call without a
// restart.
func cmdMode(args []string) error {
	if len(args) != 1 {
		return fmt.Errorf("usage: toolgate mode <permission|read_only|bypass>")
	}

	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	states, auditor, cleanup, err := operatorDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	old, err := changeMode(ctx, states, auditor, policy.Mode(args[0]))
	if err != nil {
		return err
	}
	fmt.Printf("Governance mode: %s -> %s\n", old, args[0])
	return nil
}

// cmdRevokeElevations clears every live scoped elevation, forcing the next
// matching call back through approval.
func cmdRevokeElevations() error {
	ctx, cancel := context.WithTimeout(context.Background(), controlTimeout)
	defer cancel()

	states, auditor, cleanup, err := operatorDeps(ctx)
	if err != nil {
		return err
	}
	defer cleanup()

	n, err := revokeElevations(ctx, states, auditor)
	if err != nil {
		return err
	}
	fmt.Printf("Revoked %d elevations\n", n)
	return nil
}

// operatorDeps wires the shared state store and auditor for a one-shot
// operator command.
func operatorDeps(ctx context.Context) (*state.Store, *audit.Logger, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, err
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, nil, nil, fmt.Errorf("connect to state store: %w", err)
	}

	auditor, closeAudit, err := buildAuditor(ctx, cfg)
	if err != nil {
		_ = rdb.Close()
		return nil, nil, nil, err
	}

	cleanup := func() {
		closeAudit()
		_ = rdb.Close()
	}
	return state.New(rdb), auditor, cleanup, nil
}

// changeMode persists the new mode and records the transition. The old mode
// is read first so the audit record carries both sides.
func changeMode(ctx context.Context, states *state.Store, auditor *audit.Logger, m policy.Mode) (policy.Mode, error) {
	old := states.Mode(ctx)
	if err := states.SetMode(ctx, m); err != nil {
		return old, err
	}
	auditor.ModeChanged(operatorSession, string(old), string(m))
	return old, nil
}

// revokeElevations sweeps the elevation keys and records the count.
func revokeElevations(ctx context.Context, states *state.Store, auditor *audit.Logger) (int, error) {
	n, err := states.RevokeAllElevations(ctx)
	if err != nil {
		return n, err
	}
	auditor.ElevationsRevoked(operatorSession, n)
	return n, nil
}
