package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

// RawSeriesStore implements storage.RawSeriesStore and storage.IngestionStore using PostgreSQL.
type RawSeriesStore struct {
	pool *Pool
}

// NewRawSeriesStore creates a new RawSeriesStore.
func NewRawSeriesStore(pool *Pool) *RawSeriesStore {
	return &RawSeriesStore{pool: pool}
}

// Compile-time interface checks.
var (
	_ storage.RawSeriesStore = (*RawSeriesStore)(nil)
	_ storage.IngestionStore = (*RawSeriesStore)(nil)
)

const insertBarQuery = `
	INSERT INTO price_bars (asset_id, timestamp, open, high, low, close, volume)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (asset_id, timestamp) DO NOTHING
`

// GREATEST ignores NULL, so the first commit initializes the watermark
// and later commits can never move it backwards.
const advanceWatermarkQuery = `
	INSERT INTO ingestion_state (asset_id, last_timestamp, updated_at)
	VALUES ($1, $2, now())
	ON CONFLICT (asset_id) DO UPDATE SET
		last_timestamp = GREATEST(ingestion_state.last_timestamp, EXCLUDED.last_timestamp),
		updated_at = now()
	RETURNING last_timestamp
`

// CommitBatch inserts bars with conflict-ignore and advances the watermark in one transaction.
func (s *RawSeriesStore) CommitBatch(ctx context.Context, assetID string, obs []*domain.Observation) (*domain.CommitResult, error) {
	if assetID == "" {
		return nil, storage.ErrInvalidInput
	}
	for _, o := range obs {
		if o == nil || o.AssetID != assetID || o.Timestamp.IsZero() {
			return nil, storage.ErrInvalidInput
		}
	}

	result := &domain.CommitResult{}
	if len(obs) == 0 {
		wm, err := NewWatermarkStore(s.pool).Get(ctx, assetID)
		if err == nil && wm.LastTimestamp != nil {
			result.Watermark = *wm.LastTimestamp
		}
		return result, nil
	}

	err := s.pool.inTx(ctx, func(tx pgx.Tx) error {
		batch := &pgx.Batch{}
		for _, o := range obs {
			batch.Queue(insertBarQuery,
				o.AssetID,
				o.Timestamp.UTC(),
				o.Open,
				o.High,
				o.Low,
				o.Close,
				o.Volume,
			)
		}

		br := tx.SendBatch(ctx, batch)
		for range obs {
			tag, err := br.Exec()
			if err != nil {
				br.Close()
				return fmt.Errorf("insert price bar: %w", err)
			}
			if tag.RowsAffected() == 1 {
				result.Inserted++
			} else {
				result.Duplicates++
			}
		}
		if err := br.Close(); err != nil {
			return fmt.Errorf("close insert batch: %w", err)
		}

		var watermark time.Time
		if err := tx.QueryRow(ctx, advanceWatermarkQuery, assetID, domain.MaxTimestamp(obs).UTC()).Scan(&watermark); err != nil {
			return fmt.Errorf("advance watermark: %w", err)
		}
		result.Watermark = watermark.UTC()
		return nil
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

// LoadAllCloses returns (asset_id, timestamp, close) for every bar, ordered by asset_id, timestamp.
func (s *RawSeriesStore) LoadAllCloses(ctx context.Context) ([]*domain.RawClose, error) {
	query := `
		SELECT asset_id, timestamp, close
		FROM price_bars
		ORDER BY asset_id ASC, timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("load all closes: %w", err)
	}
	defer rows.Close()

	var result []*domain.RawClose
	for rows.Next() {
		var r domain.RawClose
		if err := rows.Scan(&r.AssetID, &r.Timestamp, &r.Close); err != nil {
			return nil, fmt.Errorf("scan close row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate close rows: %w", err)
	}

	return result, nil
}

// GetByTimeRange retrieves bars for an asset within [start, end] (inclusive), ordered by timestamp ASC.
func (s *RawSeriesStore) GetByTimeRange(ctx context.Context, assetID string, start, end time.Time) ([]*domain.Observation, error) {
	query := `
		SELECT asset_id, timestamp, open, high, low, close, volume
		FROM price_bars
		WHERE asset_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, assetID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get price bars by time range: %w", err)
	}
	defer rows.Close()

	return scanObservations(rows)
}

// Count returns the number of stored bars for an asset.
func (s *RawSeriesStore) Count(ctx context.Context, assetID string) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx, `SELECT count(*) FROM price_bars WHERE asset_id = $1`, assetID).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count price bars: %w", err)
	}
	return count, nil
}

// scanObservations scans multiple rows into a slice of Observation.
func scanObservations(rows pgx.Rows) ([]*domain.Observation, error) {
	var result []*domain.Observation

	for rows.Next() {
		var o domain.Observation
		err := rows.Scan(
			&o.AssetID,
			&o.Timestamp,
			&o.Open,
			&o.High,
			&o.Low,
			&o.Close,
			&o.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price bar row: %w", err)
		}
		o.Timestamp = o.Timestamp.UTC()
		result = append(result, &o)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price bar rows: %w", err)
	}

	return result, nil
}
