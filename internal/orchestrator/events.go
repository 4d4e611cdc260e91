package orchestrator

import (
	"time"

	"crypto-feature-store/internal/domain"
)

// Event types published to a Notifier.
const (
	EventIngestionCycle = "ingestion_cycle"
	EventTransformRun   = "transform_run"
)

// Event describes a finished ingestion cycle or transform run.
type Event struct {
	Type        string     `json:"type"`
	Time        time.Time  `json:"time"`
	AssetID     string     `json:"asset_id,omitempty"`
	RunID       string     `json:"run_id,omitempty"`
	Outcome     string     `json:"outcome"`
	Failure     string     `json:"failure,omitempty"`
	Attempts    int        `json:"attempts,omitempty"`
	Inserted    int        `json:"inserted,omitempty"`
	Duplicates  int        `json:"duplicates,omitempty"`
	Watermark   *time.Time `json:"watermark,omitempty"`
	FeatureRows int        `json:"feature_rows,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// Notifier receives pipeline events. Notify must not block for long.
type Notifier interface {
	Notify(Event)
}

func cycleEvent(res *domain.CycleResult, attempts int, err error) Event {
	ev := Event{
		Type:       EventIngestionCycle,
		Time:       time.Now().UTC(),
		AssetID:    res.AssetID,
		Outcome:    string(res.Outcome),
		Failure:    string(res.Failure),
		Attempts:   attempts,
		Inserted:   res.Inserted,
		Duplicates: res.Duplicates,
		Watermark:  res.Watermark,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}

func transformEvent(res *domain.TransformResult, attempts int, err error) Event {
	ev := Event{
		Type:        EventTransformRun,
		Time:        time.Now().UTC(),
		RunID:       res.RunID,
		Outcome:     string(res.Outcome),
		Failure:     string(res.Failure),
		Attempts:    attempts,
		FeatureRows: res.FeatureRows,
	}
	if err != nil {
		ev.Error = err.Error()
	}
	return ev
}
