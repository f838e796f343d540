package main

import (
	"context"
	"crypto/rand"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/revittco/toolgate/internal/approval"
	"github.com/revittco/toolgate/internal/audit"
	"github.com/revittco/toolgate/internal/gateway"
	"github.com/revittco/toolgate/internal/lease"
	"github.com/revittco/toolgate/internal/policy"
	"github.com/revittco/toolgate/internal/registry"
	"github.com/revittco/toolgate/internal/retrieval"
	"github.com/revittco/toolgate/internal/secrets"
	"github.com/revittco/toolgate/internal/state"
	"github.com/revittco/toolgate/internal/store/sqlite"
)

const purgeInterval = time.Minute

func cmdServe(args []string) error {
	ctx, cancel := signal.NotifyContext(
		context.Background(), syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}))
	slog.SetDefault(logger)

	// The catalog is mandatory; the gateway must not start without one.
	reg, err := registry.Load(cfg.RegistryPath)
	if err != nil {
		return fmt.Errorf("load registry: %w", err)
	}

	rdb, err := newRedisClient(cfg.RedisURL)
	if err != nil {
		return err
	}
	defer func() { _ = rdb.Close() }()

	pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
	defer pingCancel()
	if err := rdb.Ping(pingCtx).Err(); err != nil {
		return fmt.Errorf("connect to state store: %w", err)
	}

	secret, err := resolveSecret(cfg)
	if err != nil {
		return err
	}

	states := state.New(rdb)
	if cfg.DefaultMode != "" {
		mode := policy.Mode(cfg.DefaultMode)
		if err := states.SeedMode(ctx, mode); err != nil {
			return err
		}
	}

	auditor, closeAudit, err := buildAuditor(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeAudit()

	leases := lease.NewManager(rdb)
	index := retrieval.NewIndex(reg)
	index.Rebuild()

	builder, pipeline, err := buildApprovals(cfg, reg, states, auditor)
	if err != nil {
		return err
	}

	srv := gateway.NewServer(gateway.Config{
		Registry:          reg,
		Index:             index,
		Leases:            leases,
		State:             states,
		Auditor:           auditor,
		Approvals:         pipeline,
		Builder:           builder,
		Secret:            secret,
		LeaseClasses:      cfg.LeaseClasses,
		CompressThreshold: cfg.CompressThreshold,
	})

	logger.Info("starting gateway",
		"registry", cfg.RegistryPath,
		"tools", len(reg.GetAll()),
		"audit", cfg.AuditPath)

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.RunStdio(ctx)
	})
	g.Go(func() error {
		ticker := time.NewTicker(purgeInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				if n, err := leases.PurgeExpired(ctx); err != nil {
					slog.Warn("lease purge failed", "error", err)
				} else if n > 0 {
					slog.Debug("purged expired leases", "count", n)
				}
			}
		}
	})
	return g.Wait()
}

// newRedisClient parses the URL and applies bounded pool and command
// timeouts shared by every component.
func newRedisClient(url string) (*redis.Client, error) {
	opt, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	if opt.PoolSize == 0 {
		opt.PoolSize = 10
	}
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	return redis.NewClient(opt), nil
}

// resolveSecret returns the HMAC signing secret: the environment wins, then
// the age-sealed secret file. Production refuses to start without one; dev
// falls back to a generated in-memory secret with a loud warning.
func resolveSecret(cfg *Config) ([]byte, error) {
	if cfg.HMACSecret != "" {
		return []byte(cfg.HMACSecret), nil
	}

	if _, err := os.Stat(cfg.SecretPath); err == nil {
		enc, err := secrets.NewAgeEncryptor(cfg.AgeKeyPath)
		if err != nil {
			return nil, fmt.Errorf("open age key: %w", err)
		}
		secret, err := secrets.LoadSigningSecret(cfg.SecretPath, enc)
		if err != nil {
			return nil, fmt.Errorf("unseal signing secret: %w", err)
		}
		return secret, nil
	}

	if cfg.Env == "production" {
		return nil, fmt.Errorf("no HMAC secret configured: set TOOLGATE_HMAC_SECRET or run `toolgate init`")
	}

	slog.Warn("no HMAC secret configured, using an ephemeral dev secret; tokens will not survive restarts")
	secret := make([]byte, 32)
	if _, err := rand.Read(secret); err != nil {
		return nil, fmt.Errorf("generate dev secret: %w", err)
	}
	return secret, nil
}

func buildAuditor(ctx context.Context, cfg *Config) (*audit.Logger, func(), error) {
	opts := []audit.Option{audit.WithBus(audit.NewBus())}
	if cfg.AuditMaxBytes > 0 {
		opts = append(opts, audit.WithMaxBytes(cfg.AuditMaxBytes))
	}
	if cfg.AuditRetentionDays > 0 {
		opts = append(opts, audit.WithRetention(time.Duration(cfg.AuditRetentionDays)*24*time.Hour))
	}

	var db *sqlite.DB
	if cfg.AuditIndexPath != "" {
		var err error
		db, err = sqlite.New(ctx, cfg.AuditIndexPath)
		if err != nil {
			return nil, nil, fmt.Errorf("open audit index: %w", err)
		}
		opts = append(opts, audit.WithIndex(db))
	}

	auditor, err := audit.New(cfg.AuditPath, opts...)
	if err != nil {
		if db != nil {
			_ = db.Close()
		}
		return nil, nil, fmt.Errorf("open audit log: %w", err)
	}

	closeAll := func() {
		_ = auditor.Close()
		if db != nil {
			_ = db.Close()
		}
	}
	return auditor, closeAll, nil
}

// buildApprovals assembles the request builder, the provider chain, and the
// pipeline. The desktop provider probes unavailable on headless hosts; the
// elicitation provider activates when a transport callback is wired; the
// terminal is the interactive fallback.
func buildApprovals(
	cfg *Config, reg *registry.Registry, states *state.Store, auditor *audit.Logger,
) (*approval.Builder, *approval.Pipeline, error) {
	var artifacts *approval.ArtifactStore
	if cfg.ArtifactDir != "" {
		var err error
		artifacts, err = approval.NewArtifactStore(cfg.ArtifactDir)
		if err != nil {
			return nil, nil, fmt.Errorf("artifact store: %w", err)
		}
	}

	builder := approval.NewBuilder(reg, artifacts, int(cfg.ElicitTimeout/time.Second))
	selector := approval.NewSelector(cfg.ApprovalProvider,
		approval.NewDesktopProvider(),
		approval.NewElicitationProvider(nil),
		approval.NewTerminalProvider(),
	)
	pipeline := approval.NewPipeline(selector, states, auditor, approval.NewBus())
	return builder, pipeline, nil
}
