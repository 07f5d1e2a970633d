package environment

import (
	"context"
	"log/slog"
	"time"

	"github.com/pkg/errors"

	"paytrack/internal/config"
	"paytrack/internal/infra/checkout"
	"paytrack/internal/infra/pubsub"
	"paytrack/internal/infra/sqlite3"
	"paytrack/internal/storage"
)

type Clients struct {
	SQLiteDB *sqlite3.DB
	Checkout *checkout.Client
	// PubSub is nil when REDIS_ADDR is empty.
	PubSub *pubsub.Client
}

func newClients(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Clients, []closer, error) {
	var closers []closer

	sqliteDB, err := provideSQLiteDB(ctx, cfg)
	if err != nil {
		return nil, nil, errors.Wrap(err, "sqlite")
	}
	closers = append(closers, func() {
		if err := sqliteDB.Close(); err != nil {
			logger.Error("Failed to close database", "error", err)
		}
	})

	if err := storage.Migrate(ctx, sqliteDB.DB); err != nil {
		runClosers(closers)
		return nil, nil, errors.Wrap(err, "migrate")
	}

	checkoutClient, err := checkout.NewClient(
		cfg.Checkout.ADDR(),
		cfg.Checkout.Timeout,
		logger.With("component", "checkout"),
		checkout.WithRateLimit(cfg.Checkout.RateLimit.RPS, cfg.Checkout.RateLimit.Burst),
	)
	if err != nil {
		runClosers(closers)
		return nil, nil, errors.Wrap(err, "checkout client")
	}

	var pubsubClient *pubsub.Client
	if cfg.Redis.Enabled() {
		pubsubClient, err = pubsub.NewClient(ctx, pubsub.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		}, logger.With("component", "pubsub"))
		if err != nil {
			runClosers(closers)
			return nil, nil, errors.Wrap(err, "redis")
		}
		closers = append(closers, func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Error("Failed to close redis", "error", err)
			}
		})
	} else {
		logger.Info("REDIS_ADDR not set, push updates disabled")
	}

	return &Clients{
		SQLiteDB: sqliteDB,
		Checkout: checkoutClient,
		PubSub:   pubsubClient,
	}, closers, nil
}

func provideSQLiteDB(ctx context.Context, cfg config.Config) (*sqlite3.DB, error) {
	maxLifetimeStr := cfg.DB.MaxLifetime
	if maxLifetimeStr == "" {
		maxLifetimeStr = "5m"
	}
	maxLifetime, err := time.ParseDuration(maxLifetimeStr)
	if err != nil {
		return nil, errors.Wrap(err, "DB_MAX_LIFETIME")
	}

	return sqlite3.New(ctx,
		sqlite3.WithPath(cfg.DB.Path),
		sqlite3.WithMaxOpenConns(cfg.DB.MaxOpenConns),
		sqlite3.WithMaxIdleConns(cfg.DB.MaxIdleConns),
		sqlite3.WithConnMaxLifetime(maxLifetime),
	)
}
