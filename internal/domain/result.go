package domain

import "time"

// CycleOutcome is the result kind of one ingestion cycle.
type CycleOutcome string

const (
	CycleNoOp     CycleOutcome = "NO_OP"
	CycleIngested CycleOutcome = "INGESTED"
	CycleFailed   CycleOutcome = "FAILED"
)

// CycleResult reports one run_ingestion_cycle call.
type CycleResult struct {
	AssetID           string
	Outcome           CycleOutcome
	Fetched           int // observations newer than the previous watermark
	Inserted          int
	Duplicates        int
	PreviousWatermark *time.Time
	Watermark         *time.Time
	Failure           FailureKind // set when Outcome is FAILED
}

// TransformOutcome is the result kind of one transform run.
type TransformOutcome string

const (
	TransformSkippedEmpty TransformOutcome = "SKIPPED_EMPTY_SOURCE"
	TransformWritten      TransformOutcome = "WRITTEN"
	TransformFailed       TransformOutcome = "FAILED"
)

// TransformResult reports one transform run.
type TransformResult struct {
	RunID       string
	Outcome     TransformOutcome
	RawRows     int
	FeatureRows int
	Partitions  int
	Duration    time.Duration
	Failure     FailureKind
}
