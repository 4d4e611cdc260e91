package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

// WatermarkStore is an in-memory implementation of storage.WatermarkStore.
// Watermarks are advanced only by RawSeriesStore.CommitBatch.
type WatermarkStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Watermark // keyed by asset_id
}

// NewWatermarkStore creates a new in-memory watermark store.
func NewWatermarkStore() *WatermarkStore {
	return &WatermarkStore{
		data: make(map[string]*domain.Watermark),
	}
}

// Get returns the watermark for an asset. Returns ErrNotFound if none exists.
func (s *WatermarkStore) Get(_ context.Context, assetID string) (*domain.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	wm, ok := s.data[assetID]
	if !ok {
		return nil, storage.ErrNotFound
	}
	return copyWatermark(wm), nil
}

// List returns all watermarks ordered by asset_id.
func (s *WatermarkStore) List(_ context.Context) ([]*domain.Watermark, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.Watermark, 0, len(s.data))
	for _, wm := range s.data {
		result = append(result, copyWatermark(wm))
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].AssetID < result[j].AssetID
	})
	return result, nil
}

// advanceLocked moves the watermark to max(current, ts). Caller must hold s.mu.
func (s *WatermarkStore) advanceLocked(assetID string, ts time.Time) time.Time {
	wm, ok := s.data[assetID]
	if !ok {
		wm = &domain.Watermark{AssetID: assetID}
		s.data[assetID] = wm
	}
	if wm.LastTimestamp == nil || ts.After(*wm.LastTimestamp) {
		v := ts
		wm.LastTimestamp = &v
	}
	wm.UpdatedAt = time.Now().UTC()
	return *wm.LastTimestamp
}

func copyWatermark(wm *domain.Watermark) *domain.Watermark {
	c := *wm
	if wm.LastTimestamp != nil {
		ts := *wm.LastTimestamp
		c.LastTimestamp = &ts
	}
	return &c
}

var _ storage.WatermarkStore = (*WatermarkStore)(nil)
