// Package orchestrator runs ingestion for every asset followed by the feature transform.
// Flow: ingestion (per asset, retried) → transform (only when every asset succeeded)
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/observability"
)

// ErrIngestionFailed is returned by RunOnce when at least one asset failed to ingest.
// The transform is not run in that case.
var ErrIngestionFailed = errors.New("ingestion step failed")

// Retry defaults.
const (
	DefaultMaxAttempts     = 3
	DefaultInitialInterval = 500 * time.Millisecond
	DefaultMaxInterval     = 10 * time.Second
)

// Ingester runs ingestion cycles. Implemented by *ingestion.Ingestor.
type Ingester interface {
	Assets() []domain.Asset
	RunCycle(ctx context.Context, assetID string) (*domain.CycleResult, error)
}

// Transformer rebuilds the feature table. Implemented by *features.Transformer.
type Transformer interface {
	Run(ctx context.Context) (*domain.TransformResult, error)
}

// Orchestrator coordinates ingestion and transform runs.
type Orchestrator struct {
	ingester    Ingester
	transformer Transformer
	notifier    Notifier
	metrics     *observability.Metrics
	logger      *log.Logger

	maxAttempts     int
	initialInterval time.Duration
	maxInterval     time.Duration

	mu     sync.Mutex
	status Status
}

// Options for creating Orchestrator.
type Options struct {
	Ingester    Ingester
	Transformer Transformer

	// Optional
	Notifier        Notifier
	Metrics         *observability.Metrics
	Logger          *log.Logger
	MaxAttempts     int           // attempts per step, defaults to DefaultMaxAttempts
	InitialInterval time.Duration // first retry delay, defaults to DefaultInitialInterval
	MaxInterval     time.Duration // retry delay cap, defaults to DefaultMaxInterval
}

// New creates a new Orchestrator.
func New(opts Options) *Orchestrator {
	o := &Orchestrator{
		ingester:        opts.Ingester,
		transformer:     opts.Transformer,
		notifier:        opts.Notifier,
		metrics:         opts.Metrics,
		logger:          opts.Logger,
		maxAttempts:     opts.MaxAttempts,
		initialInterval: opts.InitialInterval,
		maxInterval:     opts.MaxInterval,
	}
	if o.logger == nil {
		o.logger = log.Default()
	}
	if o.maxAttempts <= 0 {
		o.maxAttempts = DefaultMaxAttempts
	}
	if o.initialInterval <= 0 {
		o.initialInterval = DefaultInitialInterval
	}
	if o.maxInterval <= 0 {
		o.maxInterval = DefaultMaxInterval
	}
	return o
}

// Report contains results from one RunOnce call.
type Report struct {
	StartedAt time.Time
	Duration  time.Duration
	Cycles    []*domain.CycleResult
	Transform *domain.TransformResult // nil when ingestion failed
}

// Inserted returns the number of rows inserted across all assets.
func (r *Report) Inserted() int {
	var n int
	for _, c := range r.Cycles {
		n += c.Inserted
	}
	return n
}

// RunOnce executes one full pipeline run.
// Phases:
//  1. Ingest every configured asset, retrying transient failures
//  2. Stop if any asset failed
//  3. Run the transform, retrying persistence failures
//
// The returned report is never nil.
func (o *Orchestrator) RunOnce(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}
	defer func() { report.Duration = time.Since(report.StartedAt) }()

	// Phase 1: Ingestion
	ingestStart := time.Now()
	var errs []error
	for _, asset := range o.ingester.Assets() {
		res, attempts, err := o.ingestAsset(ctx, asset.ID)
		report.Cycles = append(report.Cycles, res)
		o.notify(cycleEvent(res, attempts, err))
		if err != nil {
			errs = append(errs, fmt.Errorf("asset %s: %w", asset.ID, err))
		}
	}

	// Phase 2: Gate
	if len(errs) > 0 {
		o.metrics.RecordPipelineRun("ingestion", "failed", time.Since(ingestStart))
		err := fmt.Errorf("%w: %w", ErrIngestionFailed, errors.Join(errs...))
		o.logger.Printf("run: %d of %d assets failed, transform skipped", len(errs), len(report.Cycles))
		return report, err
	}
	o.metrics.RecordPipelineRun("ingestion", "success", time.Since(ingestStart))

	// Phase 3: Transform
	transformStart := time.Now()
	res, attempts, err := o.transform(ctx)
	report.Transform = res
	o.notify(transformEvent(res, attempts, err))
	if err != nil {
		o.metrics.RecordPipelineRun("transform", "failed", time.Since(transformStart))
		return report, fmt.Errorf("transform: %w", err)
	}
	o.metrics.RecordPipelineRun("transform", "success", time.Since(transformStart))

	o.logger.Printf("run: %d assets ingested (%d new rows), transform %s",
		len(report.Cycles), report.Inserted(), res.Outcome)

	return report, nil
}

// ingestAsset runs one ingestion cycle with retries. Unknown assets are not retried.
func (o *Orchestrator) ingestAsset(ctx context.Context, assetID string) (*domain.CycleResult, int, error) {
	var res *domain.CycleResult
	attempts := 0

	op := func() error {
		attempts++
		r, err := o.ingester.RunCycle(ctx, assetID)
		res = r
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, o.newBackOff(ctx), func(err error, wait time.Duration) {
		o.logger.Printf("ingest %s: attempt %d failed, retrying in %s: %v", assetID, attempts, wait, err)
	})
	if res == nil {
		res = &domain.CycleResult{AssetID: assetID, Outcome: domain.CycleFailed, Failure: domain.ClassifyError(err)}
	}
	return res, attempts, err
}

// transform runs the transformer with retries. Schema failures are not retried.
func (o *Orchestrator) transform(ctx context.Context) (*domain.TransformResult, int, error) {
	var res *domain.TransformResult
	attempts := 0

	op := func() error {
		attempts++
		r, err := o.transformer.Run(ctx)
		res = r
		if err != nil && !retryable(err) {
			return backoff.Permanent(err)
		}
		return err
	}

	err := backoff.RetryNotify(op, o.newBackOff(ctx), func(err error, wait time.Duration) {
		o.logger.Printf("transform: attempt %d failed, retrying in %s: %v", attempts, wait, err)
	})
	if res == nil {
		res = &domain.TransformResult{Outcome: domain.TransformFailed, Failure: domain.ClassifyError(err)}
	}
	return res, attempts, err
}

func (o *Orchestrator) newBackOff(ctx context.Context) backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = o.initialInterval
	b.MaxInterval = o.maxInterval
	b.MaxElapsedTime = 0
	return backoff.WithContext(backoff.WithMaxRetries(b, uint64(o.maxAttempts-1)), ctx)
}

// retryable reports whether a failure may succeed on a later attempt.
func retryable(err error) bool {
	switch domain.ClassifyError(err) {
	case domain.FailureSourceUnavailable, domain.FailurePersistence:
		return true
	default:
		return false
	}
}

func (o *Orchestrator) notify(ev Event) {
	if o.notifier != nil {
		o.notifier.Notify(ev)
	}
}
