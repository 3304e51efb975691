package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads the TOML file at path on top of Defaults, then applies CASCADE_*
// environment overrides. An empty path skips the file. The result is not
// validated; callers run Validate.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// .env is optional.
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)

	return &cfg, nil
}

// applyEnvOverrides copies set CASCADE_* variables over the matching fields
// so secrets can be injected at deploy time.
func applyEnvOverrides(cfg *Config) {
	// Identity
	setStr(&cfg.Identity.OperatorKey, "CASCADE_IDENTITY_OPERATOR_KEY")
	setStr(&cfg.Identity.KeyFile, "CASCADE_IDENTITY_KEY_FILE")
	setStr(&cfg.Identity.KeyPassword, "CASCADE_IDENTITY_KEY_PASSWORD")
	setStr(&cfg.Identity.RegistryID, "CASCADE_IDENTITY_REGISTRY_ID")
	setStr(&cfg.Identity.EngineID, "CASCADE_IDENTITY_ENGINE_ID")
	setStr(&cfg.Identity.EnvelopeSecret, "CASCADE_IDENTITY_ENVELOPE_SECRET")
	setStr(&cfg.Identity.NodeID, "CASCADE_IDENTITY_NODE_ID")

	// Postgres
	setStr(&cfg.Postgres.DSN, "CASCADE_POSTGRES_DSN")
	setStr(&cfg.Postgres.Host, "CASCADE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "CASCADE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "CASCADE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "CASCADE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "CASCADE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "CASCADE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "CASCADE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "CASCADE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "CASCADE_POSTGRES_RUN_MIGRATIONS")

	// Redis
	setBool(&cfg.Redis.Enabled, "CASCADE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "CASCADE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "CASCADE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "CASCADE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "CASCADE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "CASCADE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "CASCADE_REDIS_TLS_ENABLED")
	setStr(&cfg.Redis.KeyPrefix, "CASCADE_REDIS_KEY_PREFIX")
	setStr(&cfg.Redis.Stream, "CASCADE_REDIS_STREAM")
	setInt64(&cfg.Redis.StreamMaxLen, "CASCADE_REDIS_STREAM_MAX_LEN")
	setDuration(&cfg.Redis.CacheTTL, "CASCADE_REDIS_CACHE_TTL")

	// S3
	setStr(&cfg.S3.Endpoint, "CASCADE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "CASCADE_S3_REGION")
	setStr(&cfg.S3.Bucket, "CASCADE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "CASCADE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "CASCADE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "CASCADE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "CASCADE_S3_FORCE_PATH_STYLE")

	// Runtime
	setBool(&cfg.Runtime.StrictErrors, "CASCADE_RUNTIME_STRICT_ERRORS")
	setDuration(&cfg.Runtime.SweepInterval, "CASCADE_RUNTIME_SWEEP_INTERVAL")
	setDuration(&cfg.Runtime.LockTTL, "CASCADE_RUNTIME_LOCK_TTL")
	setDuration(&cfg.Runtime.DedupTTL, "CASCADE_RUNTIME_DEDUP_TTL")
	setDuration(&cfg.Runtime.RetryInterval, "CASCADE_RUNTIME_RETRY_INTERVAL")

	// Spawn
	setStr(&cfg.Spawn.DeferredStakeBaseline, "CASCADE_SPAWN_DEFERRED_STAKE_BASELINE")

	// Archive
	setBool(&cfg.Archive.Enabled, "CASCADE_ARCHIVE_ENABLED")
	setDuration(&cfg.Archive.Interval, "CASCADE_ARCHIVE_INTERVAL")
	setInt64(&cfg.Archive.MultipartThreshold, "CASCADE_ARCHIVE_MULTIPART_THRESHOLD")

	// Server
	setInt(&cfg.Server.Port, "CASCADE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "CASCADE_SERVER_CORS_ORIGINS")
	setStr(&cfg.Server.APIKey, "CASCADE_SERVER_API_KEY")
	setInt(&cfg.Server.RateLimit, "CASCADE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "CASCADE_SERVER_RATE_WINDOW")
	setDuration(&cfg.Server.SignatureMaxSkew, "CASCADE_SERVER_SIGNATURE_MAX_SKEW")

	// Notify
	setStr(&cfg.Notify.TelegramToken, "CASCADE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "CASCADE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "CASCADE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStr(&cfg.Notify.DiscordUsername, "CASCADE_NOTIFY_DISCORD_USERNAME")
	setStringSlice(&cfg.Notify.Events, "CASCADE_NOTIFY_EVENTS")

	setStr(&cfg.Mode, "CASCADE_MODE")
	setStr(&cfg.Storage, "CASCADE_STORAGE")
	setStr(&cfg.LogLevel, "CASCADE_LOG_LEVEL")
}

// Typed env helpers. Each leaves dst alone when the variable is unset, empty
// or unparsable.

func setStr(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setInt64(dst *int64, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			dst.Duration = d
		}
	}
}

func setStringSlice(dst *[]string, key string) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	var cleaned []string
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			cleaned = append(cleaned, p)
		}
	}
	if len(cleaned) > 0 {
		*dst = cleaned
	}
}
