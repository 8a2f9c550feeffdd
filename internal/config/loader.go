package config

import (
	"errors"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
)

// Load reads a TOML configuration file at path, merges it on top of the
// built-in defaults, applies RESALE_* environment variable overrides, and
// returns the final Config. An empty path skips the file. The returned Config
// has NOT been validated.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	// A missing .env file is fine.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

// applyEnvOverrides lets operators inject secrets at deploy time without
// touching the TOML file.
func applyEnvOverrides(cfg *Config) {
	// ── Storage ──
	setStr(&cfg.Storage.Driver, "RESALE_STORAGE_DRIVER")

	// ── Postgres ──
	setStr(&cfg.Postgres.DSN, "RESALE_POSTGRES_DSN")
	setStr(&cfg.Postgres.DSN, "DATABASE_URL")
	setStr(&cfg.Postgres.Host, "RESALE_POSTGRES_HOST")
	setInt(&cfg.Postgres.Port, "RESALE_POSTGRES_PORT")
	setStr(&cfg.Postgres.Database, "RESALE_POSTGRES_DATABASE")
	setStr(&cfg.Postgres.User, "RESALE_POSTGRES_USER")
	setStr(&cfg.Postgres.Password, "RESALE_POSTGRES_PASSWORD")
	setStr(&cfg.Postgres.SSLMode, "RESALE_POSTGRES_SSL_MODE")
	setInt(&cfg.Postgres.PoolMaxConns, "RESALE_POSTGRES_POOL_MAX_CONNS")
	setInt(&cfg.Postgres.PoolMinConns, "RESALE_POSTGRES_POOL_MIN_CONNS")
	setBool(&cfg.Postgres.RunMigrations, "RESALE_POSTGRES_RUN_MIGRATIONS")

	// ── Redis ──
	setBool(&cfg.Redis.Enabled, "RESALE_REDIS_ENABLED")
	setStr(&cfg.Redis.Addr, "RESALE_REDIS_ADDR")
	setStr(&cfg.Redis.Password, "RESALE_REDIS_PASSWORD")
	setInt(&cfg.Redis.DB, "RESALE_REDIS_DB")
	setInt(&cfg.Redis.PoolSize, "RESALE_REDIS_POOL_SIZE")
	setInt(&cfg.Redis.MaxRetries, "RESALE_REDIS_MAX_RETRIES")
	setBool(&cfg.Redis.TLSEnabled, "RESALE_REDIS_TLS_ENABLED")
	setDuration(&cfg.Redis.CacheTTL, "RESALE_REDIS_CACHE_TTL")

	// ── S3 ──
	setStr(&cfg.S3.Endpoint, "RESALE_S3_ENDPOINT")
	setStr(&cfg.S3.Region, "RESALE_S3_REGION")
	setStr(&cfg.S3.Bucket, "RESALE_S3_BUCKET")
	setStr(&cfg.S3.AccessKey, "RESALE_S3_ACCESS_KEY")
	setStr(&cfg.S3.SecretKey, "RESALE_S3_SECRET_KEY")
	setBool(&cfg.S3.UseSSL, "RESALE_S3_USE_SSL")
	setBool(&cfg.S3.ForcePathStyle, "RESALE_S3_FORCE_PATH_STYLE")
	setStr(&cfg.S3.KeyPrefix, "RESALE_S3_KEY_PREFIX")

	// ── Server ──
	setInt(&cfg.Server.Port, "RESALE_SERVER_PORT")
	setStringSlice(&cfg.Server.CORSOrigins, "RESALE_SERVER_CORS_ORIGINS")
	setInt(&cfg.Server.RateLimit, "RESALE_SERVER_RATE_LIMIT")
	setDuration(&cfg.Server.RateWindow, "RESALE_SERVER_RATE_WINDOW")

	// ── Auth ──
	setStr(&cfg.Auth.TokenSecret, "RESALE_AUTH_TOKEN_SECRET")
	setStr(&cfg.Auth.GatewayKey, "RESALE_AUTH_GATEWAY_KEY")

	// ── Market ──
	setDuration(&cfg.Market.LockTimeout, "RESALE_MARKET_LOCK_TIMEOUT")
	setDuration(&cfg.Market.SweepInterval, "RESALE_MARKET_SWEEP_INTERVAL")
	setInt(&cfg.Market.SweepBatch, "RESALE_MARKET_SWEEP_BATCH")
	setInt(&cfg.Market.NotifyQueueSize, "RESALE_MARKET_NOTIFY_QUEUE_SIZE")
	setInt(&cfg.Market.NotifyWorkers, "RESALE_MARKET_NOTIFY_WORKERS")

	// ── Notify ──
	setStr(&cfg.Notify.TelegramToken, "RESALE_NOTIFY_TELEGRAM_TOKEN")
	setStr(&cfg.Notify.TelegramChatID, "RESALE_NOTIFY_TELEGRAM_CHAT_ID")
	setStr(&cfg.Notify.DiscordWebhookURL, "RESALE_NOTIFY_DISCORD_WEBHOOK_URL")
	setStringSlice(&cfg.Notify.Events, "RESALE_NOTIFY_EVENTS")

	// ── Archive ──
	setBool(&cfg.Archive.Enabled, "RESALE_ARCHIVE_ENABLED")
	setStr(&cfg.Archive.Cron, "RESALE_ARCHIVE_CRON")
	setInt(&cfg.Archive.RetentionDays, "RESALE_ARCHIVE_RETENTION_DAYS")
	setInt(&cfg.Archive.BatchSize, "RESALE_ARCHIVE_BATCH_SIZE")
	setBool(&cfg.Archive.Purge, "RESALE_ARCHIVE_PURGE")

	setStr(&cfg.LogLevel, "RESALE_LOG_LEVEL")
}

// Each helper only mutates the target when the variable is present and
// parses cleanly.

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
	if v := os.Getenv(key); v != "" {
		parts := strings.Split(v, ",")
		cleaned := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				cleaned = append(cleaned, p)
			}
		}
		if len(cleaned) > 0 {
			*dst = cleaned
		}
	}
}
