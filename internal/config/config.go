// Package config defines the cascade node configuration and its validation.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/alanyoungcy/cascademarket/internal/domain"
)

// Config is the root configuration. Fields are populated from a TOML file
// and then optionally overridden by CASCADE_* environment variables.
type Config struct {
	Identity IdentityConfig `toml:"identity"`
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Runtime  RuntimeConfig  `toml:"runtime"`
	Spawn    SpawnConfig    `toml:"spawn"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	// Mode is node, server or full.
	Mode string `toml:"mode"`
	// Storage is postgres or memory.
	Storage  string `toml:"storage"`
	LogLevel string `toml:"log_level"`
}

// IdentityConfig names the well-known instances and holds the operator key.
// The operator initializes the registry and engine and runs the sweeper.
type IdentityConfig struct {
	OperatorKey    string `toml:"operator_key"`
	KeyFile        string `toml:"key_file"`
	KeyPassword    string `toml:"key_password"`
	RegistryID     string `toml:"registry_id"`
	EngineID       string `toml:"engine_id"`
	EnvelopeSecret string `toml:"envelope_secret"`
	// NodeID names this node's stream consumer position.
	NodeID string `toml:"node_id"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. When disabled the node uses
// its in-process transport and no cache, lock or rate limiter.
type RedisConfig struct {
	Enabled      bool     `toml:"enabled"`
	Addr         string   `toml:"addr"`
	Password     string   `toml:"password"`
	DB           int      `toml:"db"`
	PoolSize     int      `toml:"pool_size"`
	MaxRetries   int      `toml:"max_retries"`
	TLSEnabled   bool     `toml:"tls_enabled"`
	KeyPrefix    string   `toml:"key_prefix"`
	Stream       string   `toml:"stream"`
	StreamMaxLen int64    `toml:"stream_max_len"`
	CacheTTL     duration `toml:"cache_ttl"`
}

// S3Config holds S3-compatible object storage parameters.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// RuntimeConfig tunes the host.
type RuntimeConfig struct {
	// StrictErrors returns rejections to submitters instead of logging and
	// acknowledging them.
	StrictErrors  bool     `toml:"strict_errors"`
	SweepInterval duration `toml:"sweep_interval"`
	LockTTL       duration `toml:"lock_ttl"`
	DedupTTL      duration `toml:"dedup_ttl"`
	RetryInterval duration `toml:"retry_interval"`
}

// SpawnConfig configures the spawn engine.
type SpawnConfig struct {
	// DeferredStakeBaseline is the token amount deferred spawns seed from.
	DeferredStakeBaseline string `toml:"deferred_stake_baseline"`
	// DefaultRules replace the built-in rules when non-empty.
	DefaultRules []RuleConfig `toml:"default_rules"`
}

// RuleConfig is a spawn rule in flat TOML form.
type RuleConfig struct {
	RuleID string `toml:"rule_id"`
	// Trigger is market_resolution, time_delay or custom_logic.
	Trigger        string               `toml:"trigger"`
	MarketPattern  string               `toml:"market_pattern"`
	OutcomePattern string               `toml:"outcome_pattern"`
	DelaySeconds   uint64               `toml:"delay_seconds"`
	LogicHash      string               `toml:"logic_hash"`
	Template       domain.SpawnTemplate `toml:"template"`
}

// ArchiveConfig controls the daily S3 export in full mode.
type ArchiveConfig struct {
	Enabled            bool     `toml:"enabled"`
	Interval           duration `toml:"interval"`
	MultipartThreshold int64    `toml:"multipart_threshold"`
}

// duration wraps time.Duration for TOML strings such as "5m".
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Port        int      `toml:"port"`
	CORSOrigins []string `toml:"cors_origins"`
	// APIKey, when set, is required on every write request.
	APIKey     string   `toml:"api_key"`
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
	// SignatureMaxSkew bounds the age of a signed request timestamp.
	SignatureMaxSkew duration `toml:"signature_max_skew"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	DiscordUsername   string   `toml:"discord_username"`
	Events            []string `toml:"events"`
}

// Defaults returns a Config with working values for a single local node.
func Defaults() Config {
	return Config{
		Identity: IdentityConfig{
			RegistryID: "registry",
			EngineID:   "spawn-engine",
			NodeID:     "node-1",
		},
		Postgres: PostgresConfig{
			Host:          "localhost",
			Port:          5432,
			Database:      "cascade",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Addr:         "localhost:6379",
			PoolSize:     20,
			MaxRetries:   3,
			KeyPrefix:    "cascade:",
			Stream:       "envelopes",
			StreamMaxLen: 100000,
			CacheTTL:     duration{5 * time.Minute},
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "cascade-archive",
			ForcePathStyle: true,
		},
		Runtime: RuntimeConfig{
			StrictErrors:  true,
			SweepInterval: duration{time.Minute},
			LockTTL:       duration{10 * time.Second},
			DedupTTL:      duration{time.Hour},
			RetryInterval: duration{2 * time.Second},
		},
		Spawn: SpawnConfig{
			DeferredStakeBaseline: "1000",
		},
		Archive: ArchiveConfig{
			Interval:           duration{24 * time.Hour},
			MultipartThreshold: 64 * 1024 * 1024,
		},
		Server: ServerConfig{
			Port:             8000,
			CORSOrigins:      []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:        60,
			RateWindow:       duration{time.Minute},
			SignatureMaxSkew: duration{5 * time.Minute},
		},
		Notify: NotifyConfig{
			DiscordUsername: "cascade",
			Events: []string{
				string(domain.EventMarketResolved),
				string(domain.EventMarketSpawned),
				string(domain.EventRuleUpdated),
			},
		},
		Mode:     "full",
		Storage:  "postgres",
		LogLevel: "info",
	}
}

var validModes = map[string]bool{"node": true, "server": true, "full": true}

var validStorage = map[string]bool{"postgres": true, "memory": true}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

// Validate checks c and returns one error listing every problem found.
func (c *Config) Validate() error {
	var errs []string

	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: node, server, full)", c.Mode))
	}
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Identity
	if c.Identity.OperatorKey == "" && c.Identity.KeyFile == "" {
		errs = append(errs, "identity: either operator_key or key_file must be set")
	}
	if c.Identity.KeyFile != "" && c.Identity.KeyPassword == "" {
		errs = append(errs, "identity: key_password is required when key_file is set")
	}
	for name, id := range map[string]string{"registry_id": c.Identity.RegistryID, "engine_id": c.Identity.EngineID} {
		if id == "" {
			errs = append(errs, "identity: "+name+" must not be empty")
		}
		if _, ok := domain.MarketIDOf(domain.InstanceID(id)); ok {
			errs = append(errs, fmt.Sprintf("identity: %s %q collides with market instance ids", name, id))
		}
	}
	if c.Identity.RegistryID != "" && c.Identity.RegistryID == c.Identity.EngineID {
		errs = append(errs, "identity: registry_id and engine_id must differ")
	}

	// Postgres
	if strings.EqualFold(c.Storage, "postgres") {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 || c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must be between 0 and pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
		if c.Redis.Stream == "" {
			errs = append(errs, "redis: stream must not be empty")
		}
	}

	// Runtime
	if c.Runtime.SweepInterval.Duration <= 0 {
		errs = append(errs, "runtime: sweep_interval must be > 0")
	}
	if c.Runtime.LockTTL.Duration <= 0 {
		errs = append(errs, "runtime: lock_ttl must be > 0")
	}
	if c.Runtime.RetryInterval.Duration <= 0 {
		errs = append(errs, "runtime: retry_interval must be > 0")
	}

	// Spawn
	if _, err := c.Spawn.Baseline(); err != nil {
		errs = append(errs, "spawn: deferred_stake_baseline: "+err.Error())
	}
	for i, r := range c.Spawn.DefaultRules {
		if _, err := r.ToRule(); err != nil {
			errs = append(errs, fmt.Sprintf("spawn: default_rules[%d]: %v", i, err))
		}
	}

	// Archive
	if c.Archive.Enabled {
		if c.S3.Bucket == "" || c.S3.Region == "" {
			errs = append(errs, "archive: s3.bucket and s3.region are required when archive is enabled")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be > 0")
		}
	}

	// Server
	if c.Mode != "node" {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}

// Baseline parses DeferredStakeBaseline.
func (s SpawnConfig) Baseline() (domain.Amount, error) {
	return domain.ParseAmount(s.DeferredStakeBaseline)
}

// Rules converts the configured default rules. It returns nil when none are
// configured.
func (s SpawnConfig) Rules() ([]domain.SpawnRule, error) {
	if len(s.DefaultRules) == 0 {
		return nil, nil
	}
	out := make([]domain.SpawnRule, 0, len(s.DefaultRules))
	for _, r := range s.DefaultRules {
		rule, err := r.ToRule()
		if err != nil {
			return nil, err
		}
		out = append(out, rule)
	}
	return out, nil
}

// ToRule converts r into an active spawn rule.
func (r RuleConfig) ToRule() (domain.SpawnRule, error) {
	var cond domain.TriggerCondition
	switch r.Trigger {
	case domain.TriggerMarketResolution:
		cond = domain.MarketResolutionTrigger{MarketPattern: r.MarketPattern, OutcomePattern: r.OutcomePattern}
	case domain.TriggerTimeDelay:
		cond = domain.TimeDelayTrigger{DelaySeconds: r.DelaySeconds}
	case domain.TriggerCustomLogic:
		b, err := hexutil.Decode(r.LogicHash)
		if err != nil || len(b) != common.HashLength {
			return domain.SpawnRule{}, fmt.Errorf("rule %s: logic_hash must be a 0x-prefixed 32-byte hex string", r.RuleID)
		}
		cond = domain.CustomLogicTrigger{LogicHash: common.BytesToHash(b)}
	default:
		return domain.SpawnRule{}, fmt.Errorf("rule %s: unknown trigger %q", r.RuleID, r.Trigger)
	}
	if r.RuleID == "" {
		return domain.SpawnRule{}, fmt.Errorf("rule_id must not be empty")
	}
	if err := r.Template.Validate(); err != nil {
		return domain.SpawnRule{}, fmt.Errorf("rule %s: %w", r.RuleID, err)
	}
	return domain.SpawnRule{
		RuleID:           r.RuleID,
		TriggerCondition: domain.Trigger{Condition: cond},
		SpawnTemplate:    r.Template,
		Active:           true,
	}, nil
}
