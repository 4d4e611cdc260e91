package clickhouse

import (
	"context"
	"fmt"
	"sync"
	"time"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

// FeatureStore implements storage.FeatureStore using ClickHouse.
// A refresh loads price_features_staging and swaps it in with EXCHANGE TABLES,
// so readers of price_features see either the old or the new contents.
type FeatureStore struct {
	conn *Conn
	mu   sync.Mutex // serializes refreshes, they share the staging table
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(conn *Conn) *FeatureStore {
	return &FeatureStore{conn: conn}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// WriteFullRefresh replaces price_features with rows.
// If loading the staging table fails, price_features is untouched.
func (s *FeatureStore) WriteFullRefresh(ctx context.Context, rows []*domain.FeatureRow) error {
	type key struct {
		assetID     string
		timestampMs int64
	}
	seen := make(map[key]struct{}, len(rows))
	for _, r := range rows {
		if r == nil || r.AssetID == "" || r.Close == nil {
			return storage.ErrInvalidInput
		}
		k := key{r.AssetID, r.Timestamp.UnixMilli()}
		if _, exists := seen[k]; exists {
			return storage.ErrDuplicateKey
		}
		seen[k] = struct{}{}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	// Staging holds the previous generation after the last exchange.
	if err := s.conn.Exec(ctx, `TRUNCATE TABLE price_features_staging`); err != nil {
		return fmt.Errorf("truncate staging: %w", err)
	}

	if len(rows) > 0 {
		batch, err := s.conn.PrepareBatch(ctx, `
			INSERT INTO price_features_staging (
				asset_id, timestamp, close, return_1, rolling_mean_24, rolling_std_24
			)
		`)
		if err != nil {
			return fmt.Errorf("prepare batch: %w", err)
		}

		for _, r := range rows {
			err = batch.Append(
				r.AssetID, r.Timestamp.UTC(), *r.Close,
				r.Return1, r.RollingMean24, r.RollingStd24,
			)
			if err != nil {
				return fmt.Errorf("append to batch: %w", err)
			}
		}

		if err := batch.Send(); err != nil {
			return fmt.Errorf("send batch: %w", err)
		}
	}

	if err := s.conn.Exec(ctx, `EXCHANGE TABLES price_features AND price_features_staging`); err != nil {
		return fmt.Errorf("exchange tables: %w", err)
	}

	return nil
}

// GetByTimeRange retrieves rows for an asset within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FeatureStore) GetByTimeRange(ctx context.Context, assetID string, start, end time.Time) ([]*domain.FeatureRow, error) {
	query := `
		SELECT asset_id, timestamp, close, return_1, rolling_mean_24, rolling_std_24
		FROM price_features
		WHERE asset_id = ? AND timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query, assetID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("query by time range: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// GetAll retrieves all rows ordered by asset_id, timestamp.
func (s *FeatureStore) GetAll(ctx context.Context) ([]*domain.FeatureRow, error) {
	query := `
		SELECT asset_id, timestamp, close, return_1, rolling_mean_24, rolling_std_24
		FROM price_features
		ORDER BY asset_id ASC, timestamp ASC
	`

	rows, err := s.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query all: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

// chRows is the subset of driver.Rows used by scanners.
type chRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanFeatureRows(rows chRows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow

	for rows.Next() {
		var r domain.FeatureRow
		var closePrice float64

		err := rows.Scan(
			&r.AssetID, &r.Timestamp, &closePrice,
			&r.Return1, &r.RollingMean24, &r.RollingStd24,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price features row: %w", err)
		}

		r.Timestamp = r.Timestamp.UTC()
		r.Close = &closePrice
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price features rows: %w", err)
	}

	return result, nil
}
