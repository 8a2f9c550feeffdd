package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/resale/internal/blob/s3"
	"github.com/alanyoungcy/resale/internal/cache/redis"
	"github.com/alanyoungcy/resale/internal/config"
	"github.com/alanyoungcy/resale/internal/domain"
	"github.com/alanyoungcy/resale/internal/notify"
	"github.com/alanyoungcy/resale/internal/server/handler"
	"github.com/alanyoungcy/resale/internal/store/memory"
	"github.com/alanyoungcy/resale/internal/store/postgres"
)

// Dependencies bundles the infrastructure adapters the services run on. It is
// constructed by Wire and torn down by the returned cleanup function. Every
// Redis-backed field is nil when Redis is disabled, and Blobs is nil unless
// object storage was requested.
type Dependencies struct {
	Store domain.Store

	Cache   domain.ListingCache
	Locks   domain.LockManager
	Limiter domain.RateLimiter
	Bus     domain.SignalBus

	Blobs *s3blob.Client

	Alerts *notify.Notifier

	// Checks probe each external dependency for the health endpoint.
	Checks []handler.Check
}

// WireOptions selects optional dependencies.
type WireOptions struct {
	// ObjectStorage connects to S3 even when the archive job is disabled.
	ObjectStorage bool
}

// Wire constructs all concrete dependency implementations from cfg and
// returns them together with a cleanup function that releases them in
// reverse order.
func Wire(ctx context.Context, cfg *config.Config, opts WireOptions, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	deps := &Dependencies{}

	// --- Primary store ---
	switch strings.ToLower(cfg.Storage.Driver) {
	case "memory":
		logger.WarnContext(ctx, "wire: using in-memory store, data is lost on exit")
		deps.Store = memory.New(cfg.Market.LockTimeout.Duration)
	default:
		pgClient, err := openPostgres(ctx, cfg)
		if err != nil {
			return fail(fmt.Errorf("wire: postgres: %w", err))
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			applied, err := pgClient.RunMigrations(ctx)
			if err != nil {
				return fail(fmt.Errorf("wire: postgres migrations: %w", err))
			}
			if len(applied) > 0 {
				logger.InfoContext(ctx, "wire: applied migrations", slog.Any("files", applied))
			}
		}

		deps.Store = postgres.NewStore(pgClient.Pool(), cfg.Market.LockTimeout.Duration)
		deps.Checks = append(deps.Checks, handler.Check{Name: "postgres", Fn: pgClient.Pool().Ping})
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: redis: %w", err))
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.Cache = redis.NewListingCache(redisClient, cfg.Redis.CacheTTL.Duration)
		deps.Locks = redis.NewLockManager(redisClient)
		deps.Limiter = redis.NewRateLimiter(redisClient, cfg.Server.RateLimit, cfg.Server.RateWindow.Duration)
		deps.Bus = redis.NewSignalBus(redisClient)
		deps.Checks = append(deps.Checks, handler.Check{Name: "redis", Fn: redisClient.Ping})
	} else {
		logger.WarnContext(ctx, "wire: redis disabled; no listing cache, rate limits, sweeper lock or live events")
	}

	// --- S3 ---
	if cfg.Archive.Enabled || opts.ObjectStorage {
		blobs, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			return fail(fmt.Errorf("wire: s3: %w", err))
		}
		deps.Blobs = blobs
		deps.Checks = append(deps.Checks, handler.Check{Name: "s3", Fn: blobs.Health})
	}

	// --- Operator alerts ---
	alerts, err := buildNotifier(cfg.Notify, logger)
	if err != nil {
		return fail(fmt.Errorf("wire: notify: %w", err))
	}
	deps.Alerts = alerts

	return deps, cleanup, nil
}

func openPostgres(ctx context.Context, cfg *config.Config) (*postgres.Client, error) {
	return postgres.New(ctx, postgres.ClientConfig{
		DSN:      cfg.Postgres.DSN,
		Host:     cfg.Postgres.Host,
		Port:     cfg.Postgres.Port,
		Database: cfg.Postgres.Database,
		User:     cfg.Postgres.User,
		Password: cfg.Postgres.Password,
		SSLMode:  cfg.Postgres.SSLMode,
		MaxConns: cfg.Postgres.PoolMaxConns,
		MinConns: cfg.Postgres.PoolMinConns,
	})
}

// buildNotifier returns nil when no alert channel is configured.
func buildNotifier(cfg config.NotifyConfig, logger *slog.Logger) (*notify.Notifier, error) {
	var senders []notify.Sender
	if cfg.TelegramToken != "" {
		tg, err := notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID)
		if err != nil {
			return nil, err
		}
		senders = append(senders, tg)
	}
	if cfg.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if len(senders) == 0 {
		return nil, nil
	}
	return notify.NewNotifier(senders, cfg.Events, logger), nil
}

// Migrate applies pending schema migrations and returns the files applied.
func Migrate(ctx context.Context, cfg *config.Config) ([]string, error) {
	pgClient, err := openPostgres(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	defer pgClient.Close()
	return pgClient.RunMigrations(ctx)
}
