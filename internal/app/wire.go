package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/crowdsignal/internal/blob/s3"
	"github.com/alanyoungcy/crowdsignal/internal/cache/local"
	"github.com/alanyoungcy/crowdsignal/internal/cache/redis"
	"github.com/alanyoungcy/crowdsignal/internal/config"
	"github.com/alanyoungcy/crowdsignal/internal/domain"
	"github.com/alanyoungcy/crowdsignal/internal/kv/file"
	"github.com/alanyoungcy/crowdsignal/internal/kv/memory"
	"github.com/alanyoungcy/crowdsignal/internal/kv/sqlite"
	"github.com/alanyoungcy/crowdsignal/internal/market"
	"github.com/alanyoungcy/crowdsignal/internal/notify"
	"github.com/alanyoungcy/crowdsignal/internal/server/handler"
	"github.com/alanyoungcy/crowdsignal/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency that the application modes
// need to operate. It is constructed by Wire and torn down by the returned
// cleanup function.
type Dependencies struct {
	// Storage
	KV    domain.KeyValueStore
	Audit domain.AuditLog // nil for backends without an audit table
	Store *market.Store   // not yet initialized

	// Coordination
	SignalBus   domain.SignalBus
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager

	// Snapshots; nil unless the mode archives or restores.
	Archiver *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier

	HealthChecks map[string]handler.HealthCheck
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{
		HealthChecks: make(map[string]handler.HealthCheck),
	}

	// --- Redis (bus, limiter, lock, and optionally the KV backend) ---
	var redisClient *redis.Client
	if cfg.NeedsRedis() {
		c, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
			KeyPrefix:  cfg.Redis.KeyPrefix,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		redisClient = c
		closers = append(closers, func() { _ = c.Close() })
		deps.HealthChecks["redis"] = c.Ping
	}

	if cfg.Redis.Enabled {
		deps.SignalBus = redis.NewSignalBus(redisClient, logger)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
	} else {
		bus := local.NewSignalBus()
		closers = append(closers, func() { _ = bus.Close() })
		limiter := local.NewRateLimiter(time.Minute)
		closers = append(closers, limiter.Stop)

		deps.SignalBus = bus
		deps.RateLimiter = limiter
		deps.LockManager = local.NewLockManager()
	}

	// --- Key-value backend ---
	switch cfg.Storage.Backend {
	case config.BackendMemory:
		deps.KV = memory.New()

	case config.BackendFile:
		fileStore, err := file.New(cfg.Storage.FilePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: file store: %w", err)
		}
		deps.KV = fileStore

	case config.BackendSQLite:
		db, err := sqlite.Open(cfg.Storage.SQLitePath)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: sqlite: %w", err)
		}
		closers = append(closers, func() { _ = db.Close() })
		deps.KV = db
		deps.Audit = db

	case config.BackendPostgres:
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
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
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.KV = postgres.NewKVStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.HealthChecks["postgres"] = pool.Ping

	case config.BackendRedis:
		deps.KV = redis.NewKVStore(redisClient)

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown storage backend %q", cfg.Storage.Backend)
	}

	deps.Store = market.NewStore(deps.KV, market.SystemClock, market.Config{
		MarketsKey:   cfg.Storage.MarketsKey,
		SeedQuestion: cfg.Storage.SeedQuestion,
		SeedCategory: cfg.Storage.SeedCategory,
	}, logger)

	// --- S3 snapshots (only for modes that archive or restore) ---
	if cfg.NeedsArchive() {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })
		deps.HealthChecks["s3"] = s3Client.Health

		reader := s3blob.NewReader(s3Client)
		deps.Archiver = s3blob.NewArchiver(s3blob.NewWriter(s3Client), reader, cfg.Archive.Prefix).
			WithRetention(reader, cfg.Archive.Keep)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
