package domain

import (
	"errors"
	"fmt"
)

// Pipeline errors. Callers branch on them with errors.Is.
var (
	// ErrSourceUnavailable is returned when the price source cannot be reached or answers badly.
	ErrSourceUnavailable = errors.New("price source unavailable")

	// ErrMalformedPayload is returned when the source payload cannot be mapped to observations.
	// It is a kind of ErrSourceUnavailable.
	ErrMalformedPayload = fmt.Errorf("%w: malformed payload", ErrSourceUnavailable)

	// ErrPersistence is returned when the storage layer fails inside a unit of work.
	ErrPersistence = errors.New("persistence failure")

	// ErrSchemaValidation is returned when derived rows violate the feature schema.
	ErrSchemaValidation = errors.New("feature schema validation failed")

	// ErrUnknownAsset is returned when an asset id is not in the configured registry.
	ErrUnknownAsset = errors.New("unknown asset")
)

// FailureKind classifies a failure for results and metrics.
type FailureKind string

const (
	FailureNone              FailureKind = ""
	FailureSourceUnavailable FailureKind = "SOURCE_UNAVAILABLE"
	FailurePersistence       FailureKind = "PERSISTENCE_FAILURE"
	FailureSchemaValidation  FailureKind = "SCHEMA_VALIDATION"
	FailureUnknown           FailureKind = "UNKNOWN"
)

// ClassifyError maps an error to its failure kind.
func ClassifyError(err error) FailureKind {
	switch {
	case err == nil:
		return FailureNone
	case errors.Is(err, ErrSourceUnavailable):
		return FailureSourceUnavailable
	case errors.Is(err, ErrSchemaValidation):
		return FailureSchemaValidation
	case errors.Is(err, ErrPersistence):
		return FailurePersistence
	default:
		return FailureUnknown
	}
}
