package main

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/revittco/toolgate/internal/gateway"
	"github.com/revittco/toolgate/internal/registry"
)

// Config holds application configuration loaded from environment variables.
type Config struct {
	RedisURL     string // redis connection URL, pool options included
	RegistryPath string // path to the registry YAML, mandatory at serve
	DefaultMode  string // governance mode seeded when the store has none
	Env          string // "production" tightens secret handling

	HMACSecret string // raw secret from env; overrides the sealed file
	AgeKeyPath string // age identity protecting the sealed secret
	SecretPath string // sealed HMAC secret file

	AuditPath          string
	AuditMaxBytes      int64
	AuditRetentionDays int
	AuditIndexPath     string // sqlite mirror; empty disables

	ElicitTimeout    time.Duration // approval elicitation budget
	ApprovalProvider string        // preferred provider name, empty = auto
	ArtifactDir      string        // approval artifact directory; empty disables

	CompressThreshold int // output compressor; 0 disables
	LeaseClasses      gateway.LeaseClasses

	LogLevel slog.Level
}

// defaultDataPath returns ~/.toolgate/<filename>, falling back to a
// CWD-relative path if the home directory can't be resolved.
func defaultDataPath(filename string) string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filename
	}
	return filepath.Join(home, ".toolgate", filename)
}

func loadConfig() (*Config, error) {
	cfg := &Config{
		RedisURL:     envOr("TOOLGATE_REDIS_URL", "redis://127.0.0.1:6379/0"),
		RegistryPath: envOr("TOOLGATE_REGISTRY", defaultDataPath("registry.yaml")),
		DefaultMode:  envOr("TOOLGATE_MODE", ""),
		Env:          envOr("TOOLGATE_ENV", "development"),

		HMACSecret: envOr("TOOLGATE_HMAC_SECRET", ""),
		AgeKeyPath: envOr("TOOLGATE_AGE_KEY", defaultDataPath("toolgate.age")),
		SecretPath: envOr("TOOLGATE_SECRET_FILE", defaultDataPath("hmac.secret")),

		AuditPath:        envOr("TOOLGATE_AUDIT_PATH", defaultDataPath("audit.jsonl")),
		AuditIndexPath:   envOr("TOOLGATE_AUDIT_INDEX", ""),
		ApprovalProvider: envOr("TOOLGATE_APPROVAL_PROVIDER", ""),
		ArtifactDir:      envOr("TOOLGATE_ARTIFACT_DIR", ""),

		LogLevel: parseLogLevel(envOr("TOOLGATE_LOG_LEVEL", "info")),
	}

	var err error
	if cfg.AuditMaxBytes, err = envInt64("TOOLGATE_AUDIT_MAX_BYTES", 0); err != nil {
		return nil, err
	}
	if cfg.AuditRetentionDays, err = envInt("TOOLGATE_AUDIT_RETENTION_DAYS", 0); err != nil {
		return nil, err
	}
	elicitSecs, err := envInt("TOOLGATE_ELICIT_TIMEOUT", 300)
	if err != nil {
		return nil, err
	}
	if elicitSecs <= 0 {
		return nil, fmt.Errorf("TOOLGATE_ELICIT_TIMEOUT must be positive, got %d", elicitSecs)
	}
	cfg.ElicitTimeout = time.Duration(elicitSecs) * time.Second

	if cfg.CompressThreshold, err = envInt("TOOLGATE_COMPRESS_THRESHOLD", 0); err != nil {
		return nil, err
	}
	if cfg.CompressThreshold < 0 {
		return nil, fmt.Errorf("TOOLGATE_COMPRESS_THRESHOLD must be non-negative, got %d", cfg.CompressThreshold)
	}

	if cfg.LeaseClasses, err = loadLeaseClasses(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadLeaseClasses applies per-risk TTL and call budget overrides on top of
// the defaults. An invalid configured TTL is fatal at startup.
func loadLeaseClasses() (gateway.LeaseClasses, error) {
	classes := gateway.DefaultLeaseClasses()
	for risk, envSuffix := range map[registry.RiskLevel]string{
		registry.RiskSafe:      "SAFE",
		registry.RiskSensitive: "SENSITIVE",
		registry.RiskDangerous: "DANGEROUS",
	} {
		c := classes[risk]
		ttlSecs, err := envInt("TOOLGATE_LEASE_TTL_"+envSuffix, int(c.TTL/time.Second))
		if err != nil {
			return nil, err
		}
		if ttlSecs <= 0 {
			return nil, fmt.Errorf("TOOLGATE_LEASE_TTL_%s must be positive, got %d", envSuffix, ttlSecs)
		}
		calls, err := envInt("TOOLGATE_LEASE_CALLS_"+envSuffix, c.Calls)
		if err != nil {
			return nil, err
		}
		if calls <= 0 {
			return nil, fmt.Errorf("TOOLGATE_LEASE_CALLS_%s must be positive, got %d", envSuffix, calls)
		}
		classes[risk] = gateway.LeaseClass{TTL: time.Duration(ttlSecs) * time.Second, Calls: calls}
	}
	return classes, nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func envInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func parseLogLevel(s string) slog.Level {
	switch s {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
