package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/anirudhsk/optrader/internal/blob/s3"
	"github.com/anirudhsk/optrader/internal/broker"
	"github.com/anirudhsk/optrader/internal/broker/dhan"
	"github.com/anirudhsk/optrader/internal/broker/simulator"
	"github.com/anirudhsk/optrader/internal/cache/redis"
	"github.com/anirudhsk/optrader/internal/config"
	"github.com/anirudhsk/optrader/internal/domain"
	"github.com/anirudhsk/optrader/internal/notify"
	"github.com/anirudhsk/optrader/internal/store/memory"
	"github.com/anirudhsk/optrader/internal/store/postgres"
)

// Dependencies bundles every domain-level dependency the application modes
// need. Constructed by Wire and torn down by the returned cleanup function.
type Dependencies struct {
	// Stores
	PositionStore domain.PositionStore
	OrderStore    domain.OrderStore
	AuditStore    domain.AuditStore

	// Broker gateway (retry-wrapped).
	Gateway domain.BrokerGateway
	// Simulator is non-nil when the simulator venue is active, so feeds can
	// push marks into it.
	Simulator *simulator.Gateway

	// Redis-backed infrastructure; nil when Redis is disabled.
	PriceCache domain.PriceCache
	EventBus   domain.EventBus

	// S3 archiver; nil unless archival is enabled.
	Archiver *s3blob.Archiver

	// Operator notifications.
	Notifier *notify.Notifier
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores: PostgreSQL when enabled, in-memory otherwise ---
	if cfg.Database.Enabled {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.PositionStore = postgres.NewPositionStore(pool)
		deps.OrderStore = postgres.NewOrderStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)
	} else {
		deps.PositionStore = memory.NewPositionStore()
		deps.OrderStore = memory.NewOrderStore()
		deps.AuditStore = memory.NewAuditStore()
	}

	// --- Broker gateway ---
	var gateway domain.BrokerGateway
	switch strings.ToLower(cfg.Broker.Venue) {
	case "dhan":
		gateway = dhan.New(dhan.Config{
			BaseURL:     cfg.Broker.Dhan.BaseURL,
			ClientID:    cfg.Broker.Dhan.ClientID,
			AccessToken: cfg.Broker.Dhan.AccessToken,
			Timeout:     cfg.Broker.Dhan.Timeout.Duration,
		}, logger)
	case "simulator":
		sim := simulator.New(simulator.Config{
			Latency:     cfg.Broker.Simulator.Latency.Duration,
			FailureRate: cfg.Broker.Simulator.FailureRate,
			SlippageBps: cfg.Broker.Simulator.SlippageBps,
			Seed:        cfg.Broker.Simulator.Seed,
		})
		deps.Simulator = sim
		gateway = sim
	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unknown broker venue %q", cfg.Broker.Venue)
	}
	deps.Gateway = broker.WithRetry(gateway, broker.RetryPolicy{
		MaxAttempts: cfg.Broker.Retry.MaxAttempts,
		BaseDelay:   cfg.Broker.Retry.BaseDelay.Duration,
		MaxDelay:    cfg.Broker.Retry.MaxDelay.Duration,
	}, logger)

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
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.PriceCache = redis.NewPriceCache(redisClient, cfg.Redis.PriceTTL.Duration)
		deps.EventBus = redis.NewEventBus(redisClient, 0)
	}

	// --- S3 archiver ---
	if cfg.Archive.Enabled {
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

		deps.Archiver = s3blob.NewArchiver(
			s3blob.NewWriter(s3Client),
			deps.PositionStore,
			deps.AuditStore,
			logger,
		)
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
