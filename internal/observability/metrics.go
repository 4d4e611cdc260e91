// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"crypto-feature-store/internal/domain"
)

// DefaultNamespace prefixes every metric name.
const DefaultNamespace = "crypto_feature_store"

// Metrics holds all Prometheus metrics for the application.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	// Ingestion metrics
	IngestionCycles      *prometheus.CounterVec
	ObservationsInserted *prometheus.CounterVec
	DuplicatesSkipped    *prometheus.CounterVec
	WatermarkTimestamp   *prometheus.GaugeVec
	SourceFetchLatency   *prometheus.HistogramVec

	// Transform metrics
	TransformRuns      *prometheus.CounterVec
	TransformDuration  prometheus.Histogram
	FeatureRowsWritten prometheus.Gauge
	FeaturePartitions  prometheus.Gauge

	// Pipeline metrics
	PipelineRunsTotal *prometheus.CounterVec
	PipelineDuration  *prometheus.HistogramVec
	FailuresTotal     *prometheus.CounterVec

	// Health metrics
	LastSuccessfulIngestion prometheus.Gauge
	LastSuccessfulTransform prometheus.Gauge

	gatherer prometheus.Gatherer
}

// NewMetrics creates metrics registered on a fresh registry.
func NewMetrics(namespace string) *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	return NewMetricsWith(namespace, reg, reg)
}

// NewMetricsWith creates metrics registered on reg and exposed from gatherer.
func NewMetricsWith(namespace string, reg prometheus.Registerer, gatherer prometheus.Gatherer) *Metrics {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	factory := promauto.With(reg)

	return &Metrics{
		IngestionCycles: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "cycles_total",
			Help:      "Total number of ingestion cycles by asset and outcome",
		}, []string{"asset", "outcome"}),
		ObservationsInserted: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "observations_inserted_total",
			Help:      "Total number of raw bars inserted",
		}, []string{"asset"}),
		DuplicatesSkipped: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "duplicates_skipped_total",
			Help:      "Total number of raw bars skipped on (asset_id, timestamp) conflict",
		}, []string{"asset"}),
		WatermarkTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingestion",
			Name:      "watermark_timestamp_seconds",
			Help:      "Unix timestamp of the ingestion watermark per asset",
		}, []string{"asset"}),
		SourceFetchLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "source",
			Name:      "fetch_latency_seconds",
			Help:      "Price source fetch latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"asset"}),

		TransformRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "runs_total",
			Help:      "Total number of feature transform runs by outcome",
		}, []string{"outcome"}),
		TransformDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "duration_seconds",
			Help:      "Feature transform duration in seconds",
			Buckets:   []float64{0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),
		FeatureRowsWritten: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "feature_rows",
			Help:      "Number of feature rows written by the last successful run",
		}),
		FeaturePartitions: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "transform",
			Name:      "partitions",
			Help:      "Number of asset partitions in the last successful run",
		}),

		PipelineRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs by status",
		}, []string{"phase", "status"}),
		PipelineDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "duration_seconds",
			Help:      "Pipeline execution duration in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		}, []string{"phase"}),
		FailuresTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pipeline",
			Name:      "failures_total",
			Help:      "Total number of failures by stage and kind",
		}, []string{"stage", "kind"}),

		LastSuccessfulIngestion: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_ingestion_timestamp",
			Help:      "Unix timestamp of last successful ingestion cycle",
		}),
		LastSuccessfulTransform: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_transform_timestamp",
			Help:      "Unix timestamp of last successful transform run",
		}),

		gatherer: gatherer,
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	if m == nil || m.gatherer == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// ObserveFetch records price source latency.
func (m *Metrics) ObserveFetch(assetID string, d time.Duration) {
	if m == nil {
		return
	}
	m.SourceFetchLatency.WithLabelValues(assetID).Observe(d.Seconds())
}

// RecordCycle records the outcome of one ingestion cycle.
func (m *Metrics) RecordCycle(res *domain.CycleResult) {
	if m == nil || res == nil {
		return
	}

	m.IngestionCycles.WithLabelValues(res.AssetID, string(res.Outcome)).Inc()

	switch res.Outcome {
	case domain.CycleFailed:
		m.FailuresTotal.WithLabelValues("ingestion", string(res.Failure)).Inc()
		return
	case domain.CycleIngested:
		m.ObservationsInserted.WithLabelValues(res.AssetID).Add(float64(res.Inserted))
		m.DuplicatesSkipped.WithLabelValues(res.AssetID).Add(float64(res.Duplicates))
	}

	if res.Watermark != nil {
		m.WatermarkTimestamp.WithLabelValues(res.AssetID).Set(float64(res.Watermark.Unix()))
	}
	m.LastSuccessfulIngestion.SetToCurrentTime()
}

// RecordTransform records the outcome of one transform run.
func (m *Metrics) RecordTransform(res *domain.TransformResult) {
	if m == nil || res == nil {
		return
	}

	m.TransformRuns.WithLabelValues(string(res.Outcome)).Inc()
	m.TransformDuration.Observe(res.Duration.Seconds())

	switch res.Outcome {
	case domain.TransformFailed:
		m.FailuresTotal.WithLabelValues("transform", string(res.Failure)).Inc()
	case domain.TransformWritten:
		m.FeatureRowsWritten.Set(float64(res.FeatureRows))
		m.FeaturePartitions.Set(float64(res.Partitions))
		m.LastSuccessfulTransform.SetToCurrentTime()
	case domain.TransformSkippedEmpty:
		m.LastSuccessfulTransform.SetToCurrentTime()
	}
}

// RecordPipelineRun records a pipeline run.
func (m *Metrics) RecordPipelineRun(phase, status string, d time.Duration) {
	if m == nil {
		return
	}
	m.PipelineRunsTotal.WithLabelValues(phase, status).Inc()
	m.PipelineDuration.WithLabelValues(phase).Observe(d.Seconds())
}
