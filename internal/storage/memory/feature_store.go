package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

// FeatureStore is an in-memory implementation of storage.FeatureStore.
type FeatureStore struct {
	mu     sync.RWMutex
	rows   []*domain.FeatureRow // ordered by (asset_id, timestamp)
	writes int
}

// NewFeatureStore creates a new in-memory feature store.
func NewFeatureStore() *FeatureStore {
	return &FeatureStore{}
}

// WriteFullRefresh builds the replacement table aside and swaps it in under the lock.
// On error the previous contents are kept.
func (s *FeatureStore) WriteFullRefresh(_ context.Context, rows []*domain.FeatureRow) error {
	next := make([]*domain.FeatureRow, 0, len(rows))
	seen := make(map[barKey]struct{}, len(rows))

	for _, r := range rows {
		if r == nil || r.AssetID == "" || r.Close == nil {
			return storage.ErrInvalidInput
		}
		key := barKey{assetID: r.AssetID, timestampMs: r.Timestamp.UnixMilli()}
		if _, exists := seen[key]; exists {
			return storage.ErrDuplicateKey
		}
		seen[key] = struct{}{}
		next = append(next, copyFeatureRow(r))
	}

	sortFeatureRows(next)

	s.mu.Lock()
	s.rows = next
	s.writes++
	s.mu.Unlock()

	return nil
}

// GetByTimeRange retrieves rows for an asset within [start, end] (inclusive).
func (s *FeatureStore) GetByTimeRange(_ context.Context, assetID string, start, end time.Time) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.FeatureRow
	for _, r := range s.rows {
		if r.AssetID == assetID && !r.Timestamp.Before(start) && !r.Timestamp.After(end) {
			result = append(result, copyFeatureRow(r))
		}
	}
	return result, nil
}

// GetAll retrieves all rows ordered by (asset_id, timestamp).
func (s *FeatureStore) GetAll(_ context.Context) ([]*domain.FeatureRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FeatureRow, 0, len(s.rows))
	for _, r := range s.rows {
		result = append(result, copyFeatureRow(r))
	}
	return result, nil
}

// Writes returns how many full refreshes have been applied.
func (s *FeatureStore) Writes() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.writes
}

func sortFeatureRows(rows []*domain.FeatureRow) {
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].AssetID != rows[j].AssetID {
			return rows[i].AssetID < rows[j].AssetID
		}
		return rows[i].Timestamp.Before(rows[j].Timestamp)
	})
}

func copyFeatureRow(r *domain.FeatureRow) *domain.FeatureRow {
	c := *r
	c.Close = copyFloat(r.Close)
	c.Return1 = copyFloat(r.Return1)
	c.RollingMean24 = copyFloat(r.RollingMean24)
	c.RollingStd24 = copyFloat(r.RollingStd24)
	return &c
}

var _ storage.FeatureStore = (*FeatureStore)(nil)
