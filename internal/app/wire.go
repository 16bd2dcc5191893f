package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3archive "github.com/alanyoungcy/steward/internal/archive/s3"
	"github.com/alanyoungcy/steward/internal/broker/alpaca"
	"github.com/alanyoungcy/steward/internal/cache/redis"
	"github.com/alanyoungcy/steward/internal/config"
	"github.com/alanyoungcy/steward/internal/domain"
	"github.com/alanyoungcy/steward/internal/execution"
	"github.com/alanyoungcy/steward/internal/notify"
	"github.com/alanyoungcy/steward/internal/reconcile"
	"github.com/alanyoungcy/steward/internal/risk"
	"github.com/alanyoungcy/steward/internal/store/postgres"
)

// Dependencies bundles everything the application modes need. Constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Broker    domain.BrokerGateway
	Positions domain.PositionStore
	Metrics   domain.MetricsSink
	Locks     domain.LockManager
	SignalBus domain.SignalBus
	Notifier  *notify.Notifier

	Risk       *risk.Engine
	Execution  *execution.Engine
	Reconciler *reconcile.Reconciler
	Archiver   *s3archive.Archiver
}

// needsS3 reports whether the mode can run an archival pass.
func needsS3(mode string) bool {
	switch strings.ToLower(mode) {
	case "archive", "full":
		return true
	default:
		return false
	}
}

// Wire constructs the concrete dependency implementations from configuration
// and returns them together with a cleanup function for shutdown.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL ---
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
	deps.Positions = postgres.NewPositionStore(pool)
	deps.Metrics = postgres.NewMetricsStore(pool, logger)

	// --- Redis ---
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

	deps.Locks = redis.NewLockManager(redisClient)
	deps.SignalBus = redis.NewSignalBus(redisClient)

	// --- Broker gateway ---
	deps.Broker = alpaca.New(cfg.Alpaca)

	// --- Notifications ---
	deps.Notifier = notify.FromConfig(cfg.Notify, logger)

	// --- Engines ---
	counts := risk.NewCountCache(cfg.Risk.CountCacheTTL.Duration)
	deps.Risk = risk.NewEngine(deps.Broker, deps.Positions, counts, deps.Metrics, cfg.Risk, logger)
	deps.Execution = execution.NewEngine(
		deps.Broker, deps.Positions, deps.Risk, deps.Metrics, deps.Notifier,
		cfg.Execution, cfg.Risk, logger)
	deps.Reconciler = reconcile.New(
		deps.Broker, deps.Positions, deps.Locks, deps.Notifier, deps.Metrics,
		counts, cfg.Reconcile, logger)

	// --- Archival (only when the mode can use it) ---
	if needsS3(cfg.Mode) && cfg.Archive.Enabled {
		s3Client, err := s3archive.NewClient(ctx, cfg.S3)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		if err := s3Client.Health(ctx); err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		deps.Archiver = s3archive.NewArchiver(
			s3archive.NewObjectStore(s3Client), deps.Positions, deps.Notifier,
			cfg.Archive, logger)
	}

	return deps, cleanup, nil
}
