package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

// WatermarkStore implements storage.WatermarkStore using PostgreSQL.
// Writes happen only inside RawSeriesStore.CommitBatch.
type WatermarkStore struct {
	pool *Pool
}

// NewWatermarkStore creates a new WatermarkStore.
func NewWatermarkStore(pool *Pool) *WatermarkStore {
	return &WatermarkStore{pool: pool}
}

// Compile-time interface check.
var _ storage.WatermarkStore = (*WatermarkStore)(nil)

// Get returns the watermark for an asset. Returns ErrNotFound if none exists.
func (s *WatermarkStore) Get(ctx context.Context, assetID string) (*domain.Watermark, error) {
	query := `
		SELECT asset_id, last_timestamp, updated_at
		FROM ingestion_state
		WHERE asset_id = $1
	`

	wm, err := scanWatermark(s.pool.QueryRow(ctx, query, assetID))
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get watermark: %w", err)
	}
	return wm, nil
}

// List returns all watermarks ordered by asset_id.
func (s *WatermarkStore) List(ctx context.Context) ([]*domain.Watermark, error) {
	query := `
		SELECT asset_id, last_timestamp, updated_at
		FROM ingestion_state
		ORDER BY asset_id ASC
	`

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list watermarks: %w", err)
	}
	defer rows.Close()

	var result []*domain.Watermark
	for rows.Next() {
		wm, err := scanWatermark(rows)
		if err != nil {
			return nil, fmt.Errorf("scan watermark row: %w", err)
		}
		result = append(result, wm)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate watermark rows: %w", err)
	}

	return result, nil
}

func scanWatermark(row pgx.Row) (*domain.Watermark, error) {
	var wm domain.Watermark
	var last *time.Time

	if err := row.Scan(&wm.AssetID, &last, &wm.UpdatedAt); err != nil {
		return nil, err
	}
	if last != nil {
		ts := last.UTC()
		wm.LastTimestamp = &ts
	}
	wm.UpdatedAt = wm.UpdatedAt.UTC()
	return &wm, nil
}
