// config/config.go
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

const (
	RemainderDiscard = "discard"
	RemainderHouse   = "house"
)

// Config is the full runtime configuration, read from the environment
// (optionally seeded from a .env file by main).
type Config struct {
	Port           string `env:"PORT" envDefault:"5200"`
	AllowedOrigins string `env:"ALLOWED_ORIGINS" envDefault:"http://localhost:3000"`
	ServiceToken   string `env:"GAME_SERVICE_TOKEN"`

	DBDriver     string   `env:"LEDGER_DB_DRIVER" envDefault:"postgres"`
	ShardDSNs    []string `env:"LEDGER_SHARD_DSNS" envSeparator:","`
	RegistryDSN  string   `env:"LEDGER_REGISTRY_DSN"`
	HashStrategy string   `env:"LEDGER_HASH_STRATEGY" envDefault:"xxhash"`

	// Zero means unlimited.
	MaxMembers int   `env:"LEDGER_MAX_MEMBERS" envDefault:"0"`
	MaxPot     int64 `env:"LEDGER_MAX_POT" envDefault:"0"`

	RemainderPolicy string `env:"LEDGER_REMAINDER_POLICY" envDefault:"discard"`
	HouseAccountID  string `env:"LEDGER_HOUSE_ACCOUNT_ID"`

	ReconcileInterval    time.Duration `env:"LEDGER_RECONCILE_INTERVAL" envDefault:"1m"`
	ReconcileGrace       time.Duration `env:"LEDGER_RECONCILE_GRACE" envDefault:"2m"`
	AuditArchiveInterval time.Duration `env:"LEDGER_AUDIT_ARCHIVE_INTERVAL" envDefault:"15m"`

	// 0 picks a random seed at startup.
	WheelSeed uint64 `env:"LEDGER_WHEEL_SEED" envDefault:"0"`

	R2AccountID       string `env:"CLOUDFLARE_ACCOUNT_ID"`
	R2AccessKeyID     string `env:"R2_ACCESS_KEY_ID"`
	R2AccessKeySecret string `env:"R2_ACCESS_KEY_SECRET"`
	R2Bucket          string `env:"R2_BUCKET_NAME"`
}

// Load parses the environment into a Config and validates it.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) normalize() {
	dsns := c.ShardDSNs[:0]
	for _, dsn := range c.ShardDSNs {
		if dsn = strings.TrimSpace(dsn); dsn != "" {
			dsns = append(dsns, dsn)
		}
	}
	c.ShardDSNs = dsns
	c.DBDriver = strings.ToLower(strings.TrimSpace(c.DBDriver))
	c.HashStrategy = strings.ToLower(strings.TrimSpace(c.HashStrategy))
	c.RemainderPolicy = strings.ToLower(strings.TrimSpace(c.RemainderPolicy))
}

// Validate rejects configurations the ledger cannot start with.
func (c *Config) Validate() error {
	if len(c.ShardDSNs) == 0 {
		return fmt.Errorf("LEDGER_SHARD_DSNS must list at least one shard")
	}
	if c.RegistryDSN == "" {
		return fmt.Errorf("LEDGER_REGISTRY_DSN is required")
	}
	switch c.DBDriver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("unsupported LEDGER_DB_DRIVER %q", c.DBDriver)
	}
	if c.MaxMembers < 0 || c.MaxPot < 0 {
		return fmt.Errorf("LEDGER_MAX_MEMBERS and LEDGER_MAX_POT must be non-negative")
	}
	switch c.RemainderPolicy {
	case RemainderDiscard:
	case RemainderHouse:
		if c.HouseAccountID == "" {
			return fmt.Errorf("LEDGER_HOUSE_ACCOUNT_ID is required when remainder policy is %q", RemainderHouse)
		}
	default:
		return fmt.Errorf("unsupported LEDGER_REMAINDER_POLICY %q", c.RemainderPolicy)
	}
	return nil
}

// ArchiveEnabled reports whether enough R2 settings are present to run the
// audit archiver.
func (c *Config) ArchiveEnabled() bool {
	return c.R2AccountID != "" && c.R2AccessKeyID != "" && c.R2AccessKeySecret != "" && c.R2Bucket != ""
}

// Origins splits ALLOWED_ORIGINS and trims each entry.
func (c *Config) Origins() string {
	parts := strings.Split(c.AllowedOrigins, ",")
	for i, origin := range parts {
		parts[i] = strings.TrimSpace(origin)
	}
	return strings.Join(parts, ",")
}
