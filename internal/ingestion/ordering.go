package ingestion

import (
	"errors"
	"sort"

	"crypto-feature-store/internal/domain"
)

// ErrInvalidOrdering is returned when observations are not strictly ordered by timestamp.
var ErrInvalidOrdering = errors.New("observations are not in strict timestamp order")

// SortObservations orders observations by (asset_id ASC, timestamp ASC).
// The sort is stable so equal keys keep their source order.
func SortObservations(obs []*domain.Observation) {
	sort.SliceStable(obs, func(i, j int) bool {
		return compareObservations(obs[i], obs[j]) < 0
	})
}

// DedupeSorted collapses runs of equal (asset_id, timestamp) keys in sorted input,
// keeping the last occurrence. The provider occasionally repeats the final point.
func DedupeSorted(obs []*domain.Observation) []*domain.Observation {
	if len(obs) < 2 {
		return obs
	}

	out := obs[:0:0]
	for i, o := range obs {
		if i+1 < len(obs) && compareObservations(o, obs[i+1]) == 0 {
			continue
		}
		out = append(out, o)
	}
	return out
}

// ValidateObservationOrdering checks that keys are strictly increasing.
// Returns ErrInvalidOrdering if not.
func ValidateObservationOrdering(obs []*domain.Observation) error {
	for i := 1; i < len(obs); i++ {
		if compareObservations(obs[i-1], obs[i]) >= 0 {
			return ErrInvalidOrdering
		}
	}
	return nil
}

// compareObservations returns:
//   - negative if a < b
//   - zero if a == b
//   - positive if a > b
//
// Order: (asset_id ASC, timestamp ASC)
func compareObservations(a, b *domain.Observation) int {
	if a.AssetID != b.AssetID {
		if a.AssetID < b.AssetID {
			return -1
		}
		return 1
	}
	return a.Timestamp.Compare(b.Timestamp)
}
