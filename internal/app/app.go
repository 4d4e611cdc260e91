// Package app wires stores, the price source, locks and pipeline components from configuration.
package app

import (
	"context"
	"fmt"
	"log"

	"crypto-feature-store/internal/config"
	"crypto-feature-store/internal/features"
	"crypto-feature-store/internal/ingestion"
	"crypto-feature-store/internal/observability"
	"crypto-feature-store/internal/orchestrator"
	"crypto-feature-store/internal/pricesource"
	"crypto-feature-store/internal/runlock"
	"crypto-feature-store/internal/storage"
	chstore "crypto-feature-store/internal/storage/clickhouse"
	"crypto-feature-store/internal/storage/memory"
	"crypto-feature-store/internal/storage/migrations"
	pgstore "crypto-feature-store/internal/storage/postgres"
)

// MetricsNamespace prefixes every exported metric.
const MetricsNamespace = "crypto_feature_store"

// App holds the wired components of the service.
type App struct {
	Config *config.Config

	Raw        storage.RawSeriesStore
	Ingestion  storage.IngestionStore
	Watermarks storage.WatermarkStore
	Features   storage.FeatureStore
	Mirror     storage.FeatureStore // nil without ClickHouse

	Source  pricesource.Source
	Locker  runlock.Locker
	Metrics *observability.Metrics

	Ingestor    *ingestion.Ingestor
	Transformer *features.Transformer

	logger  *log.Logger
	closers []func()
}

// Build creates all components for cfg. A nil source uses the CoinGecko client from cfg.Source.
// Call Close to release connections.
func Build(ctx context.Context, cfg *config.Config, logger *log.Logger, source pricesource.Source) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if logger == nil {
		logger = log.Default()
	}

	a := &App{
		Config:  cfg,
		Source:  source,
		Metrics: observability.NewMetrics(MetricsNamespace),
		logger:  logger,
	}

	if err := a.createStores(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if err := a.createLocker(ctx); err != nil {
		a.Close()
		return nil, err
	}

	if a.Source == nil {
		opts := []pricesource.ClientOption{pricesource.WithTimeout(cfg.Source.Timeout)}
		if cfg.Source.APIKey != "" {
			opts = append(opts, pricesource.WithAPIKey(cfg.Source.APIKey))
		}
		a.Source = pricesource.NewCoinGeckoClient(cfg.Source.BaseURL, opts...)
	}

	a.Ingestor = ingestion.NewIngestor(ingestion.Options{
		Assets:         cfg.DomainAssets(),
		Source:         a.Source,
		WatermarkStore: a.Watermarks,
		IngestionStore: a.Ingestion,
		Locker:         a.Locker,
		LookbackDays:   cfg.Source.LookbackDays,
		Metrics:        a.Metrics,
		Logger:         logger,
	})
	a.Transformer = features.NewTransformer(features.TransformerOptions{
		Raw:         a.Raw,
		Sink:        a.Features,
		Mirror:      a.Mirror,
		Parallelism: cfg.Pipeline.Parallelism,
		Metrics:     a.Metrics,
		Logger:      logger,
	})

	return a, nil
}

// NewOrchestrator creates an orchestrator over the app's ingestor and transformer.
func (a *App) NewOrchestrator(notifier orchestrator.Notifier) *orchestrator.Orchestrator {
	p := a.Config.Pipeline
	return orchestrator.New(orchestrator.Options{
		Ingester:        a.Ingestor,
		Transformer:     a.Transformer,
		Notifier:        notifier,
		Metrics:         a.Metrics,
		Logger:          a.logger,
		MaxAttempts:     p.MaxAttempts,
		InitialInterval: p.InitialInterval,
		MaxInterval:     p.MaxInterval,
	})
}

// Close releases connections in reverse creation order.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// createStores creates the raw, watermark and feature stores plus the optional ClickHouse mirror.
func (a *App) createStores(ctx context.Context) error {
	sc := a.Config.Storage

	if sc.Backend == config.BackendMemory {
		wm := memory.NewWatermarkStore()
		raw := memory.NewRawSeriesStore(wm)
		a.Raw, a.Ingestion, a.Watermarks = raw, raw, wm
		a.Features = memory.NewFeatureStore()
	} else {
		pool, err := pgstore.NewPool(ctx, sc.PostgresDSN)
		if err != nil {
			return fmt.Errorf("connect to postgres: %w", err)
		}
		a.closers = append(a.closers, pool.Close)

		if sc.Migrate {
			applied, err := migrations.RunPostgresMigrations(ctx, pool)
			if err != nil {
				return fmt.Errorf("postgres migrations: %w", err)
			}
			a.logger.Printf("Applied %d postgres migrations", len(applied))
		}

		raw := pgstore.NewRawSeriesStore(pool)
		a.Raw, a.Ingestion = raw, raw
		a.Watermarks = pgstore.NewWatermarkStore(pool)
		a.Features = pgstore.NewFeatureStore(pool)
	}

	if sc.ClickHouseDSN == "" {
		return nil
	}

	var conn *chstore.Conn
	var err error
	if sc.Migrate {
		conn, err = migrations.RunClickhouseMigrations(ctx, sc.ClickHouseDSN)
	} else {
		conn, err = chstore.NewConn(ctx, sc.ClickHouseDSN)
	}
	if err != nil {
		return fmt.Errorf("connect to clickhouse: %w", err)
	}
	a.closers = append(a.closers, func() { conn.Close() })
	a.Mirror = chstore.NewFeatureStore(conn)
	a.logger.Printf("ClickHouse feature mirror enabled")

	return nil
}

// createLocker uses Redis when configured, otherwise an in-process locker.
func (a *App) createLocker(ctx context.Context) error {
	rc := a.Config.Redis
	if rc.Addr == "" {
		a.Locker = runlock.NewLocal()
		return nil
	}

	client, err := runlock.NewRedisClient(ctx, rc.Addr, rc.Password, rc.DB)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	a.closers = append(a.closers, func() { client.Close() })
	a.Locker = runlock.NewRedis(client, runlock.RedisOptions{TTL: rc.LockTTL, Logger: a.logger})
	a.logger.Printf("Using Redis run lock at %s", rc.Addr)

	return nil
}
