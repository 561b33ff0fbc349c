package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/sgerhardt/quotebot/internal/blob/s3"
	"github.com/sgerhardt/quotebot/internal/cache/redis"
	"github.com/sgerhardt/quotebot/internal/config"
	"github.com/sgerhardt/quotebot/internal/domain"
	"github.com/sgerhardt/quotebot/internal/notify"
	"github.com/sgerhardt/quotebot/internal/store/postgres"
)

// Dependencies bundles the optional infrastructure collaborators the modes
// wire around the engine. Any of them may be nil when the corresponding
// backend is disabled; the engine itself never touches them directly.
type Dependencies struct {
	// Persistence
	TradeStore  domain.TradeStore
	LedgerStore domain.LedgerStore

	// Cache / fan-out
	SnapshotCache domain.SnapshotCache
	StatusBus     domain.StatusBus

	// Blob storage
	BlobWriter domain.BlobWriter
	BlobReader *s3blob.Reader
	Archiver   *s3blob.Archiver

	// Notifications
	Notifier *notify.Notifier
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

	deps := &Dependencies{}

	// --- PostgreSQL ---
	if cfg.Postgres.Enabled {
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
		deps.TradeStore = postgres.NewTradeStore(pool)
		deps.LedgerStore = postgres.NewLedgerStore(pool)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		rdClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rdClient.Close() })

		deps.SnapshotCache = redis.NewSnapshotCache(rdClient)
		deps.StatusBus = redis.NewStatusBus(rdClient)
	}

	// --- S3 ---
	if cfg.S3.Enabled {
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

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.BlobReader = s3blob.NewReader(s3Client)

		if deps.TradeStore != nil {
			if ts, ok := deps.TradeStore.(s3blob.TradeArchiveStore); ok {
				deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, ts, cfg.Instrument,
					cfg.S3.TradeRetention.Duration, logger)
			}
		}
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
