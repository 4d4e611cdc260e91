package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage"
)

type barKey struct {
	assetID     string
	timestampMs int64
}

// RawSeriesStore is an in-memory implementation of storage.RawSeriesStore and storage.IngestionStore.
// CommitBatch holds both the bar and watermark locks, so readers see either
// the whole batch with its watermark or neither.
type RawSeriesStore struct {
	mu         sync.RWMutex
	data       map[barKey]*domain.Observation
	watermarks *WatermarkStore
}

// NewRawSeriesStore creates a new in-memory raw series store that advances watermarks in wm.
func NewRawSeriesStore(wm *WatermarkStore) *RawSeriesStore {
	return &RawSeriesStore{
		data:       make(map[barKey]*domain.Observation),
		watermarks: wm,
	}
}

// CommitBatch inserts new bars, skips existing keys and advances the watermark atomically.
func (s *RawSeriesStore) CommitBatch(_ context.Context, assetID string, obs []*domain.Observation) (*domain.CommitResult, error) {
	if assetID == "" {
		return nil, storage.ErrInvalidInput
	}

	// Validate the whole batch before touching state
	for _, o := range obs {
		if o == nil || o.AssetID != assetID || o.Timestamp.IsZero() {
			return nil, storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.watermarks.mu.Lock()
	defer s.watermarks.mu.Unlock()

	result := &domain.CommitResult{}
	for _, o := range obs {
		key := barKey{assetID: assetID, timestampMs: o.Timestamp.UnixMilli()}
		if _, exists := s.data[key]; exists {
			result.Duplicates++
			continue
		}
		obsCopy := copyObservation(o)
		s.data[key] = obsCopy
		result.Inserted++
	}

	if len(obs) > 0 {
		result.Watermark = s.watermarks.advanceLocked(assetID, domain.MaxTimestamp(obs))
	} else if wm, ok := s.watermarks.data[assetID]; ok && wm.LastTimestamp != nil {
		result.Watermark = *wm.LastTimestamp
	}

	return result, nil
}

// LoadAllCloses returns closes for all bars ordered by (asset_id, timestamp).
func (s *RawSeriesStore) LoadAllCloses(_ context.Context) ([]*domain.RawClose, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.RawClose, 0, len(s.data))
	for _, o := range s.data {
		c := o.Close
		result = append(result, &domain.RawClose{
			AssetID:   o.AssetID,
			Timestamp: o.Timestamp,
			Close:     &c,
		})
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].AssetID != result[j].AssetID {
			return result[i].AssetID < result[j].AssetID
		}
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// GetByTimeRange retrieves bars for an asset within [start, end] (inclusive).
func (s *RawSeriesStore) GetByTimeRange(_ context.Context, assetID string, start, end time.Time) ([]*domain.Observation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Observation
	for _, o := range s.data {
		if o.AssetID == assetID && !o.Timestamp.Before(start) && !o.Timestamp.After(end) {
			result = append(result, copyObservation(o))
		}
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})

	return result, nil
}

// Count returns the number of stored bars for an asset.
func (s *RawSeriesStore) Count(_ context.Context, assetID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for k := range s.data {
		if k.assetID == assetID {
			n++
		}
	}
	return n, nil
}

func copyObservation(o *domain.Observation) *domain.Observation {
	c := *o
	c.Open = copyFloat(o.Open)
	c.High = copyFloat(o.High)
	c.Low = copyFloat(o.Low)
	return &c
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}

var (
	_ storage.RawSeriesStore = (*RawSeriesStore)(nil)
	_ storage.IngestionStore = (*RawSeriesStore)(nil)
)
