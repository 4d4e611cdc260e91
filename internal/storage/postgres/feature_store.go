package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

// FeatureStore implements storage.FeatureStore using PostgreSQL.
type FeatureStore struct {
	pool *Pool
}

// NewFeatureStore creates a new FeatureStore.
func NewFeatureStore(pool *Pool) *FeatureStore {
	return &FeatureStore{pool: pool}
}

// Compile-time interface check.
var _ storage.FeatureStore = (*FeatureStore)(nil)

// WriteFullRefresh replaces price_features with rows in one transaction (DELETE + COPY).
// Concurrent readers keep seeing the previous contents until commit.
// Returns ErrDuplicateKey if rows repeat an (asset_id, timestamp) key; nothing is applied then.
func (s *FeatureStore) WriteFullRefresh(ctx context.Context, rows []*domain.FeatureRow) error {
	for _, r := range rows {
		if r == nil || r.AssetID == "" || r.Close == nil {
			return storage.ErrInvalidInput
		}
	}

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		// Not TRUNCATE: its ACCESS EXCLUSIVE lock would block readers during the load.
		if _, err := tx.Exec(ctx, `DELETE FROM price_features`); err != nil {
			return fmt.Errorf("clear price features: %w", err)
		}

		if len(rows) == 0 {
			return nil
		}

		_, err := tx.CopyFrom(ctx,
			pgx.Identifier{"price_features"},
			domain.FeatureColumns,
			pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
				r := rows[i]
				return []any{
					r.AssetID,
					r.Timestamp.UTC(),
					*r.Close,
					r.Return1,
					r.RollingMean24,
					r.RollingStd24,
				}, nil
			}),
		)
		if err != nil {
			if isDuplicateKeyError(err) {
				return storage.ErrDuplicateKey
			}
			return fmt.Errorf("copy price features: %w", err)
		}
		return nil
	})
}

// GetByTimeRange retrieves rows for an asset within [start, end] (inclusive), ordered by timestamp ASC.
func (s *FeatureStore) GetByTimeRange(ctx context.Context, assetID string, start, end time.Time) ([]*domain.FeatureRow, error) {
	query := `
		SELECT asset_id, timestamp, close, return_1, rolling_mean_24, rolling_std_24
		FROM price_features
		WHERE asset_id = $1 AND timestamp >= $2 AND timestamp <= $3
		ORDER BY timestamp ASC
	`

	rows, err := s.pool.Query(ctx, query, assetID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("get price features by time range: %w", err)
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

	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("get all price features: %w", err)
	}
	defer rows.Close()

	return scanFeatureRows(rows)
}

func scanFeatureRows(rows pgx.Rows) ([]*domain.FeatureRow, error) {
	var result []*domain.FeatureRow

	for rows.Next() {
		var r domain.FeatureRow
		err := rows.Scan(
			&r.AssetID,
			&r.Timestamp,
			&r.Close,
			&r.Return1,
			&r.RollingMean24,
			&r.RollingStd24,
		)
		if err != nil {
			return nil, fmt.Errorf("scan price feature row: %w", err)
		}
		r.Timestamp = r.Timestamp.UTC()
		result = append(result, &r)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate price feature rows: %w", err)
	}

	return result, nil
}
