package storage

import (
	"context"
	"time"

	"crypto-feature-store/internal/domain"
)

// RawSeriesStore provides read access to price_bars storage.
type RawSeriesStore interface {
	// LoadAllCloses returns (asset_id, timestamp, close) for every bar,
	// ordered by asset_id ASC, timestamp ASC.
	LoadAllCloses(ctx context.Context) ([]*domain.RawClose, error)

	// GetByTimeRange retrieves bars for an asset within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, assetID string, start, end time.Time) ([]*domain.Observation, error)

	// Count returns the number of stored bars for an asset.
	Count(ctx context.Context, assetID string) (int, error)
}

// IngestionStore is the atomic unit of work of an ingestion cycle.
type IngestionStore interface {
	// CommitBatch inserts observations and advances the asset watermark in one transaction.
	// Rows whose (asset_id, timestamp) already exists are skipped and counted as duplicates.
	// The watermark becomes max(old, max(timestamp)). On any error nothing is applied.
	// Returns ErrInvalidInput if an observation belongs to another asset.
	CommitBatch(ctx context.Context, assetID string, obs []*domain.Observation) (*domain.CommitResult, error)
}

// WatermarkStore provides access to ingestion_state storage.
type WatermarkStore interface {
	// Get returns the watermark for an asset. Returns ErrNotFound if none has been committed.
	Get(ctx context.Context, assetID string) (*domain.Watermark, error)

	// List returns all watermarks ordered by asset_id.
	List(ctx context.Context) ([]*domain.Watermark, error)
}

// FeatureStore provides access to price_features storage.
type FeatureStore interface {
	// WriteFullRefresh atomically replaces the whole table with rows.
	// An empty slice leaves the table empty. Readers never observe a partial write.
	WriteFullRefresh(ctx context.Context, rows []*domain.FeatureRow) error

	// GetByTimeRange retrieves rows for an asset within [start, end] (inclusive), ordered by timestamp ASC.
	GetByTimeRange(ctx context.Context, assetID string, start, end time.Time) ([]*domain.FeatureRow, error)

	// GetAll retrieves all rows ordered by asset_id, timestamp.
	GetAll(ctx context.Context) ([]*domain.FeatureRow, error)
}
