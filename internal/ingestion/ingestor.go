// Package ingestion implements the incremental, watermark-based ingestion cycle.
package ingestion

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"
	"time"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/observability"
	"crypto-feature-store/internal/pricesource"
	"crypto-feature-store/internal/runlock"
	"crypto-feature-store/internal/storage"
)

// DefaultLookbackDays is the window requested from the source on every cycle.
const DefaultLookbackDays = 1

// Ingestor fetches new observations since the watermark and commits them atomically.
type Ingestor struct {
	assets       map[string]domain.Asset
	source       pricesource.Source
	watermarks   storage.WatermarkStore
	store        storage.IngestionStore
	locker       runlock.Locker
	lookbackDays int
	metrics      *observability.Metrics
	logger       *log.Logger
}

// Options contains configuration for creating an Ingestor.
type Options struct {
	Assets         []domain.Asset
	Source         pricesource.Source
	WatermarkStore storage.WatermarkStore
	IngestionStore storage.IngestionStore

	// Optional
	Locker       runlock.Locker // defaults to an in-process locker
	LookbackDays int            // defaults to DefaultLookbackDays
	Metrics      *observability.Metrics
	Logger       *log.Logger
}

// NewIngestor creates a new Ingestor.
func NewIngestor(opts Options) *Ingestor {
	assets := make(map[string]domain.Asset, len(opts.Assets))
	for _, a := range opts.Assets {
		assets[a.ID] = a
	}

	i := &Ingestor{
		assets:       assets,
		source:       opts.Source,
		watermarks:   opts.WatermarkStore,
		store:        opts.IngestionStore,
		locker:       opts.Locker,
		lookbackDays: opts.LookbackDays,
		metrics:      opts.Metrics,
		logger:       opts.Logger,
	}
	if i.locker == nil {
		i.locker = runlock.NewLocal()
	}
	if i.lookbackDays <= 0 {
		i.lookbackDays = DefaultLookbackDays
	}
	if i.logger == nil {
		i.logger = log.Default()
	}
	return i
}

// Assets returns the configured assets ordered by id.
func (i *Ingestor) Assets() []domain.Asset {
	list := make([]domain.Asset, 0, len(i.assets))
	for _, a := range i.assets {
		list = append(list, a)
	}
	sort.Slice(list, func(a, b int) bool { return list[a].ID < list[b].ID })
	return list
}

// FetchIncremental returns observations strictly newer than lastSeen, sorted and deduplicated by timestamp.
// A nil lastSeen keeps the whole lookback window. An empty result is not an error.
// Source failures and malformed points are returned as domain.ErrSourceUnavailable kinds.
func (i *Ingestor) FetchIncremental(ctx context.Context, asset domain.Asset, lastSeen *time.Time) ([]*domain.Observation, error) {
	start := time.Now()
	points, err := i.source.FetchPrices(ctx, asset, i.lookbackDays)
	i.metrics.ObserveFetch(asset.ID, time.Since(start))
	if err != nil {
		if !errors.Is(err, domain.ErrSourceUnavailable) {
			err = fmt.Errorf("%w: %w", domain.ErrSourceUnavailable, err)
		}
		return nil, err
	}

	var boundary time.Time
	if lastSeen != nil {
		boundary = domain.NormalizeTimestamp(*lastSeen)
	}

	obs := make([]*domain.Observation, 0, len(points))
	for _, p := range points {
		o := domain.ObservationFromPricePoint(asset.ID, p)
		if err := o.Validate(); err != nil {
			return nil, err
		}
		// Ties on the watermark were committed by an earlier cycle.
		if lastSeen != nil && !o.Timestamp.After(boundary) {
			continue
		}
		obs = append(obs, o)
	}

	SortObservations(obs)
	return DedupeSorted(obs), nil
}

// RunCycle executes one ingestion cycle for assetID.
// The returned result is never nil; on failure its Outcome is CycleFailed and the
// error wraps the matching domain sentinel. The watermark is unchanged on failure.
func (i *Ingestor) RunCycle(ctx context.Context, assetID string) (*domain.CycleResult, error) {
	result := &domain.CycleResult{AssetID: assetID}

	fail := func(err error) (*domain.CycleResult, error) {
		result.Outcome = domain.CycleFailed
		result.Failure = domain.ClassifyError(err)
		i.metrics.RecordCycle(result)
		i.logger.Printf("ingest %s: failed (%s): %v", assetID, result.Failure, err)
		return result, err
	}

	asset, ok := i.assets[assetID]
	if !ok {
		return fail(fmt.Errorf("%w: %s", domain.ErrUnknownAsset, assetID))
	}

	release, err := i.locker.Acquire(ctx, assetID)
	if err != nil {
		return fail(fmt.Errorf("acquire run lock: %w", err))
	}
	defer release()

	wm, err := i.watermarks.Get(ctx, assetID)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fail(fmt.Errorf("%w: read watermark: %w", domain.ErrPersistence, err))
	default:
		result.PreviousWatermark = wm.LastTimestamp
	}

	obs, err := i.FetchIncremental(ctx, asset, result.PreviousWatermark)
	if err != nil {
		return fail(fmt.Errorf("fetch %s: %w", asset.CoinID, err))
	}
	result.Fetched = len(obs)

	if len(obs) == 0 {
		result.Outcome = domain.CycleNoOp
		result.Watermark = result.PreviousWatermark
		i.metrics.RecordCycle(result)
		i.logger.Printf("ingest %s: no new data (watermark %s)", assetID, formatWatermark(result.PreviousWatermark))
		return result, nil
	}

	commit, err := i.store.CommitBatch(ctx, assetID, obs)
	if err != nil {
		return fail(fmt.Errorf("%w: commit batch: %w", domain.ErrPersistence, err))
	}

	watermark := commit.Watermark
	result.Outcome = domain.CycleIngested
	result.Inserted = commit.Inserted
	result.Duplicates = commit.Duplicates
	result.Watermark = &watermark

	i.metrics.RecordCycle(result)
	i.logger.Printf("ingest %s: inserted %d rows (%d duplicates) up to %s",
		assetID, result.Inserted, result.Duplicates, formatWatermark(result.Watermark))

	return result, nil
}

func formatWatermark(ts *time.Time) string {
	if ts == nil {
		return "none"
	}
	return ts.Format(time.RFC3339Nano)
}
