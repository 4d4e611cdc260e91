package features

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"time"

	"crypto-feature-store/internal/domain"
)

// ColumnKind is the value type of a feature column.
type ColumnKind int

const (
	KindString ColumnKind = iota
	KindTimestamp
	KindFloat
)

// Column describes one column of the feature schema.
type Column struct {
	Name     string
	Kind     ColumnKind
	Nullable bool
}

// Schema is an ordered column set. Records must carry exactly these columns.
type Schema []Column

// FeatureSchema is the schema of the price_features table.
var FeatureSchema = Schema{
	{Name: domain.ColumnAssetID, Kind: KindString},
	{Name: domain.ColumnTimestamp, Kind: KindTimestamp},
	{Name: domain.ColumnClose, Kind: KindFloat},
	{Name: domain.ColumnReturn1, Kind: KindFloat, Nullable: true},
	{Name: domain.ColumnRollingMean24, Kind: KindFloat, Nullable: true},
	{Name: domain.ColumnRollingStd24, Kind: KindFloat, Nullable: true},
}

// Violation is a single schema failure.
type Violation struct {
	Row    int
	Column string
	Reason string
}

func (v Violation) String() string {
	if v.Column == "" {
		return fmt.Sprintf("row %d: %s", v.Row, v.Reason)
	}
	return fmt.Sprintf("row %d column %s: %s", v.Row, v.Column, v.Reason)
}

// maxReportedViolations caps the violations kept in a ValidationError.
const maxReportedViolations = 20

// ValidationError lists the violations found in a batch.
// It matches domain.ErrSchemaValidation with errors.Is.
type ValidationError struct {
	Violations []Violation
	Total      int
}

func (e *ValidationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	msg := fmt.Sprintf("%s: %d violation(s): %s", domain.ErrSchemaValidation, e.Total, strings.Join(parts, "; "))
	if e.Total > len(e.Violations) {
		msg += fmt.Sprintf("; and %d more", e.Total-len(e.Violations))
	}
	return msg
}

func (e *ValidationError) Unwrap() error {
	return domain.ErrSchemaValidation
}

func (e *ValidationError) add(v Violation) {
	e.Total++
	if len(e.Violations) < maxReportedViolations {
		e.Violations = append(e.Violations, v)
	}
}

// ValidateRecords checks records against the schema:
// every column present with the right type, no extra columns,
// non-nullable columns set, floats finite, and (asset_id, timestamp) unique.
func (s Schema) ValidateRecords(records []map[string]any) error {
	verr := &ValidationError{}
	seen := make(map[string]int, len(records))

	for i, rec := range records {
		for _, col := range s {
			val, ok := rec[col.Name]
			if !ok {
				verr.add(Violation{Row: i, Column: col.Name, Reason: "missing column"})
				continue
			}
			if reason := col.check(val); reason != "" {
				verr.add(Violation{Row: i, Column: col.Name, Reason: reason})
			}
		}

		if extra := s.extraColumns(rec); len(extra) > 0 {
			verr.add(Violation{Row: i, Reason: "unexpected columns " + strings.Join(extra, ",")})
		}

		assetID, _ := rec[domain.ColumnAssetID].(string)
		ts, _ := rec[domain.ColumnTimestamp].(time.Time)
		key := assetID + "|" + ts.UTC().Format(time.RFC3339Nano)
		if first, dup := seen[key]; dup {
			verr.add(Violation{Row: i, Reason: fmt.Sprintf("duplicate key (%s, %s), first at row %d",
				assetID, ts.UTC().Format(time.RFC3339), first)})
		} else {
			seen[key] = i
		}
	}

	if verr.Total > 0 {
		return verr
	}
	return nil
}

func (s Schema) extraColumns(rec map[string]any) []string {
	known := make(map[string]struct{}, len(s))
	for _, col := range s {
		known[col.Name] = struct{}{}
	}
	var extra []string
	for name := range rec {
		if _, ok := known[name]; !ok {
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	return extra
}

func (c Column) check(val any) string {
	switch c.Kind {
	case KindString:
		s, ok := val.(string)
		if !ok {
			return fmt.Sprintf("expected string, got %T", val)
		}
		if s == "" && !c.Nullable {
			return "empty value"
		}
	case KindTimestamp:
		ts, ok := val.(time.Time)
		if !ok {
			return fmt.Sprintf("expected timestamp, got %T", val)
		}
		if ts.IsZero() && !c.Nullable {
			return "zero timestamp"
		}
	case KindFloat:
		var f float64
		switch v := val.(type) {
		case nil:
			return c.nullReason()
		case *float64:
			if v == nil {
				return c.nullReason()
			}
			f = *v
		case float64:
			f = v
		default:
			return fmt.Sprintf("expected float, got %T", val)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return fmt.Sprintf("non-finite value %v", f)
		}
	}
	return ""
}

func (c Column) nullReason() string {
	if c.Nullable {
		return ""
	}
	return "null in non-nullable column"
}

// Validate checks feature rows against FeatureSchema and returns them unchanged on success.
// On failure the returned error wraps domain.ErrSchemaValidation.
func Validate(rows []*domain.FeatureRow) ([]*domain.FeatureRow, error) {
	records := make([]map[string]any, len(rows))
	for i, r := range rows {
		records[i] = r.Record()
	}
	if err := FeatureSchema.ValidateRecords(records); err != nil {
		return nil, err
	}
	return rows, nil
}
