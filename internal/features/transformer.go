package features

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/observability"
	"crypto-feature-store/internal/storage"
)

// Transformer rebuilds the feature table from the full raw series.
type Transformer struct {
	raw         storage.RawSeriesStore
	sink        storage.FeatureStore
	mirror      storage.FeatureStore
	window      int
	parallelism int
	metrics     *observability.Metrics
	logger      *log.Logger
}

// TransformerOptions contains configuration for creating a Transformer.
type TransformerOptions struct {
	Raw  storage.RawSeriesStore
	Sink storage.FeatureStore

	// Optional
	Mirror      storage.FeatureStore // refreshed after Sink with the same rows
	Window      int                  // defaults to domain.FeatureWindow
	Parallelism int                  // partitions computed concurrently; defaults to GOMAXPROCS
	Metrics     *observability.Metrics
	Logger      *log.Logger
}

// NewTransformer creates a new Transformer.
func NewTransformer(opts TransformerOptions) *Transformer {
	t := &Transformer{
		raw:         opts.Raw,
		sink:        opts.Sink,
		mirror:      opts.Mirror,
		window:      opts.Window,
		parallelism: opts.Parallelism,
		metrics:     opts.Metrics,
		logger:      opts.Logger,
	}
	if t.window <= 0 {
		t.window = domain.FeatureWindow
	}
	if t.logger == nil {
		t.logger = log.Default()
	}
	return t
}

// Run executes one transform:
//  1. Load all raw closes
//  2. Skip the write if there are none
//  3. Compute features per asset partition
//  4. Validate against FeatureSchema
//  5. Full-refresh the sink, then the mirror
//
// A validation failure aborts before any write, so the feature table keeps its previous contents.
// The returned result is never nil.
func (t *Transformer) Run(ctx context.Context) (*domain.TransformResult, error) {
	start := time.Now()
	result := &domain.TransformResult{RunID: uuid.NewString()}

	finish := func(outcome domain.TransformOutcome, err error) (*domain.TransformResult, error) {
		result.Outcome = outcome
		result.Failure = domain.ClassifyError(err)
		result.Duration = time.Since(start)
		t.metrics.RecordTransform(result)
		if err != nil {
			t.logger.Printf("transform %s: failed (%s): %v", result.RunID, result.Failure, err)
		}
		return result, err
	}

	raw, err := t.raw.LoadAllCloses(ctx)
	if err != nil {
		return finish(domain.TransformFailed, fmt.Errorf("%w: load raw series: %w", domain.ErrPersistence, err))
	}
	result.RawRows = len(raw)

	if len(raw) == 0 {
		t.logger.Printf("transform %s: source table is empty, feature table left unchanged", result.RunID)
		return finish(domain.TransformSkippedEmpty, nil)
	}

	rows, partitions, err := ComputeFeaturesParallel(ctx, raw, t.window, t.parallelism)
	if err != nil {
		return finish(domain.TransformFailed, fmt.Errorf("compute features: %w", err))
	}
	result.Partitions = partitions

	valid, err := Validate(rows)
	if err != nil {
		return finish(domain.TransformFailed, err)
	}

	if err := t.sink.WriteFullRefresh(ctx, valid); err != nil {
		return finish(domain.TransformFailed, fmt.Errorf("%w: write features: %w", domain.ErrPersistence, err))
	}
	if t.mirror != nil {
		if err := t.mirror.WriteFullRefresh(ctx, valid); err != nil {
			return finish(domain.TransformFailed, fmt.Errorf("%w: write feature mirror: %w", domain.ErrPersistence, err))
		}
	}
	result.FeatureRows = len(valid)

	res, err := finish(domain.TransformWritten, nil)
	t.logger.Printf("transform %s: wrote %d feature rows for %d assets in %s",
		res.RunID, res.FeatureRows, res.Partitions, res.Duration.Round(time.Millisecond))
	return res, err
}
