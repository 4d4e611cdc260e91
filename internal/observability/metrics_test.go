package observability

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"crypto-feature-store/internal/domain"
)

func TestMetrics_RecordCycle(t *testing.T) {
	m := NewMetrics("test")
	wm := time.Unix(1700000000, 0).UTC()

	m.RecordCycle(&domain.CycleResult{
		AssetID:    "BTC",
		Outcome:    domain.CycleIngested,
		Inserted:   3,
		Duplicates: 1,
		Watermark:  &wm,
	})
	m.RecordCycle(&domain.CycleResult{
		AssetID: "BTC",
		Outcome: domain.CycleFailed,
		Failure: domain.FailureSourceUnavailable,
	})

	if got := testutil.ToFloat64(m.ObservationsInserted.WithLabelValues("BTC")); got != 3 {
		t.Errorf("expected 3 inserted, got %v", got)
	}
	if got := testutil.ToFloat64(m.DuplicatesSkipped.WithLabelValues("BTC")); got != 1 {
		t.Errorf("expected 1 duplicate, got %v", got)
	}
	if got := testutil.ToFloat64(m.WatermarkTimestamp.WithLabelValues("BTC")); got != 1700000000 {
		t.Errorf("expected watermark gauge 1700000000, got %v", got)
	}
	if got := testutil.ToFloat64(m.FailuresTotal.WithLabelValues("ingestion", "SOURCE_UNAVAILABLE")); got != 1 {
		t.Errorf("expected 1 source failure, got %v", got)
	}
}

func TestMetrics_RecordTransform(t *testing.T) {
	m := NewMetrics("test")

	m.RecordTransform(&domain.TransformResult{Outcome: domain.TransformWritten, FeatureRows: 42, Partitions: 2})
	m.RecordTransform(&domain.TransformResult{Outcome: domain.TransformFailed, Failure: domain.FailureSchemaValidation})

	if got := testutil.ToFloat64(m.FeatureRowsWritten); got != 42 {
		t.Errorf("expected 42 feature rows, got %v", got)
	}
	if got := testutil.ToFloat64(m.TransformRuns.WithLabelValues("FAILED")); got != 1 {
		t.Errorf("expected 1 failed run, got %v", got)
	}
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	m.RecordCycle(&domain.CycleResult{AssetID: "BTC", Outcome: domain.CycleIngested})
	m.RecordTransform(&domain.TransformResult{Outcome: domain.TransformWritten})
	m.RecordPipelineRun("ingestion", "success", time.Second)
	m.ObserveFetch("BTC", time.Second)
}

func TestMetrics_Handler(t *testing.T) {
	m := NewMetrics("test")
	m.RecordPipelineRun("transform", "success", time.Second)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(rec.Body.String(), "test_pipeline_runs_total") {
		t.Errorf("expected pipeline metric in output")
	}
}
