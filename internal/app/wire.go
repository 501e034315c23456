package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/vigoferrel/qbtc-unified-sub000/internal/blob/s3"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/cache/redis"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/config"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/domain"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/events"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/notify"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/server/handler"
	"github.com/vigoferrel/qbtc-unified-sub000/internal/store/postgres"
)

// Infra bundles the optional infrastructure built from configuration. Nil
// fields mean the backing service is disabled.
type Infra struct {
	Stores events.Stores

	PriceCache  domain.PriceCache
	Queue       domain.OpportunityQueue
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	Archiver *s3blob.HistoryArchiver
	Notifier *notify.Notifier

	// Checks feed the health endpoint.
	Checks map[string]handler.Check
}

// Wire connects every enabled backing service and returns a cleanup func that
// releases them in reverse order.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Infra, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	infra := &Infra{Checks: make(map[string]handler.Check)}

	if cfg.Postgres.Enabled {
		pg, err := postgres.New(ctx, postgres.ClientConfig{
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
		closers = append(closers, pg.Close)

		if cfg.Postgres.RunMigrations {
			if err := pg.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pg.Pool()
		infra.Stores = events.Stores{
			Positions: postgres.NewPositionStore(pool),
			History:   postgres.NewHistoryStore(pool),
			Risk:      postgres.NewRiskSnapshotStore(pool),
			Audit:     postgres.NewAuditStore(pool),
		}
		infra.Checks["postgres"] = pg.Ping
	}

	if cfg.Redis.Enabled {
		rc, err := redis.New(ctx, redis.ClientConfig{
			Addr:         cfg.Redis.Addr,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			PoolSize:     cfg.Redis.PoolSize,
			MaxRetries:   cfg.Redis.MaxRetries,
			TLSEnabled:   cfg.Redis.TLSEnabled,
			PriceTTL:     cfg.Redis.PriceTTL.Duration,
			StreamMaxLen: cfg.Redis.StreamMaxLen,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = rc.Close() })

		infra.PriceCache = redis.NewPriceCache(rc)
		infra.Queue = redis.NewOpportunityQueue(rc, "opps:"+cfg.Exchange.Account)
		infra.RateLimiter = redis.NewRateLimiter(rc)
		infra.LockManager = redis.NewLockManager(rc)
		infra.SignalBus = redis.NewSignalBus(rc)
		infra.Checks["redis"] = rc.Ping
	}

	if cfg.S3.Enabled {
		if infra.Stores.History == nil {
			logger.WarnContext(ctx, "s3 archive disabled: postgres is required for execution history")
		} else {
			sc, err := s3blob.New(ctx, s3blob.ClientConfig{
				Endpoint:       cfg.S3.Endpoint,
				Region:         cfg.S3.Region,
				Bucket:         cfg.S3.Bucket,
				AccessKey:      cfg.S3.AccessKey,
				SecretKey:      cfg.S3.SecretKey,
				UseSSL:         cfg.S3.UseSSL,
				ForcePathStyle: cfg.S3.ForcePathStyle,
				Prefix:         cfg.S3.Prefix,
			})
			if err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: s3: %w", err)
			}
			infra.Archiver = s3blob.NewArchiver(
				infra.Stores.History,
				s3blob.NewWriter(sc),
				s3blob.NewReader(sc),
				infra.Stores.Audit,
				logger,
			)
			infra.Checks["s3"] = sc.Health
		}
	}

	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(cfg.Notify.TelegramToken, cfg.Notify.TelegramChatID))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	infra.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return infra, cleanup, nil
}
