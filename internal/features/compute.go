// Package features derives rolling statistical features from raw price bars.
package features

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"

	"crypto-feature-store/internal/domain"
)

// Partition is the ordered raw series of one asset.
type Partition struct {
	AssetID string
	Rows    []*domain.RawClose
}

// PartitionByAsset groups rows by asset_id.
// Partitions are ordered by asset_id and rows within a partition by timestamp, so
// the result does not depend on input order.
func PartitionByAsset(rows []*domain.RawClose) []Partition {
	byAsset := make(map[string][]*domain.RawClose)
	for _, r := range rows {
		byAsset[r.AssetID] = append(byAsset[r.AssetID], r)
	}

	parts := make([]Partition, 0, len(byAsset))
	for assetID, series := range byAsset {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
		parts = append(parts, Partition{AssetID: assetID, Rows: series})
	}
	sort.Slice(parts, func(i, j int) bool { return parts[i].AssetID < parts[j].AssetID })

	return parts
}

// ComputeFeatures computes features for every partition sequentially.
//
// Per partition, with c the close series and W the window:
//   - return_1[i] = (c[i] - c[i-1]) / c[i-1], NULL for the first row or when c[i-1] is 0 or NULL
//   - rolling_mean_24[i] = mean(c[max(0, i-W+1)..i]), a trailing window that shrinks at the start
//   - rolling_std_24[i] = sample standard deviation (n-1) over the same window, NULL with fewer than 2 points
//
// Rows with a NULL close get NULL features and are left out of every window.
// Non-finite results are stored as NULL.
func ComputeFeatures(rows []*domain.RawClose, window int) []*domain.FeatureRow {
	parts := PartitionByAsset(rows)

	result := make([]*domain.FeatureRow, 0, len(rows))
	for _, p := range parts {
		result = append(result, computePartition(p.Rows, window)...)
	}
	return result
}

// ComputeFeaturesParallel is ComputeFeatures with partitions processed by up to workers goroutines.
// Output order is identical to ComputeFeatures. workers <= 0 uses GOMAXPROCS.
func ComputeFeaturesParallel(ctx context.Context, rows []*domain.RawClose, window, workers int) ([]*domain.FeatureRow, int, error) {
	parts := PartitionByAsset(rows)
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	computed := make([][]*domain.FeatureRow, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for idx, p := range parts {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			computed[idx] = computePartition(p.Rows, window)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	result := make([]*domain.FeatureRow, 0, len(rows))
	for _, c := range computed {
		result = append(result, c...)
	}
	return result, len(parts), nil
}

// computePartition computes features for one asset's rows sorted by timestamp.
func computePartition(series []*domain.RawClose, window int) []*domain.FeatureRow {
	if window < 1 {
		window = domain.FeatureWindow
	}

	out := make([]*domain.FeatureRow, len(series))
	for i, r := range series {
		row := &domain.FeatureRow{
			AssetID:   r.AssetID,
			Timestamp: r.Timestamp,
			Close:     copyFloat(r.Close),
		}

		if r.Close != nil {
			if i > 0 {
				row.Return1 = pctChange(series[i-1].Close, *r.Close)
			}
			row.RollingMean24, row.RollingStd24 = windowStats(series[max(0, i-window+1) : i+1])
		}

		out[i] = row
	}
	return out
}

// pctChange returns (cur - prev) / prev, or nil when undefined.
func pctChange(prev *float64, cur float64) *float64 {
	if prev == nil || *prev == 0 {
		return nil
	}
	return finite((cur - *prev) / *prev)
}

// windowStats returns the mean and sample standard deviation of the non-NULL closes in w.
func windowStats(w []*domain.RawClose) (mean, std *float64) {
	var sum float64
	var n int
	for _, r := range w {
		if r.Close != nil {
			sum += *r.Close
			n++
		}
	}
	if n == 0 {
		return nil, nil
	}

	m := sum / float64(n)
	mean = finite(m)
	if n < 2 {
		return mean, nil
	}

	// Two-pass variance, the window is small.
	var sq float64
	for _, r := range w {
		if r.Close != nil {
			d := *r.Close - m
			sq += d * d
		}
	}
	std = finite(math.Sqrt(sq / float64(n-1)))
	return mean, std
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func copyFloat(v *float64) *float64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
