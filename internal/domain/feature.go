package domain

import "time"

// Default rolling window length, in observations.
const FeatureWindow = 24

// FeatureRow holds derived features for one observation.
// Corresponds to price_features table. Fully derived, replaced on every transform run.
type FeatureRow struct {
	AssetID       string
	Timestamp     time.Time
	Close         *float64 // copied from raw; must be non-NULL to pass validation
	Return1       *float64 // (close[t]-close[t-1])/close[t-1], NULL on first row or zero previous close
	RollingMean24 *float64 // mean of trailing window, NULL without data points
	RollingStd24  *float64 // sample std of trailing window, NULL with fewer than 2 points
}

// Feature column names, in storage order.
const (
	ColumnAssetID       = "asset_id"
	ColumnTimestamp     = "timestamp"
	ColumnClose         = "close"
	ColumnReturn1       = "return_1"
	ColumnRollingMean24 = "rolling_mean_24"
	ColumnRollingStd24  = "rolling_std_24"
)

// FeatureColumns lists the feature table columns in storage order.
var FeatureColumns = []string{
	ColumnAssetID,
	ColumnTimestamp,
	ColumnClose,
	ColumnReturn1,
	ColumnRollingMean24,
	ColumnRollingStd24,
}

// Record returns the row as a column map for schema validation.
func (r *FeatureRow) Record() map[string]any {
	return map[string]any{
		ColumnAssetID:       r.AssetID,
		ColumnTimestamp:     r.Timestamp,
		ColumnClose:         r.Close,
		ColumnReturn1:       r.Return1,
		ColumnRollingMean24: r.RollingMean24,
		ColumnRollingStd24:  r.RollingStd24,
	}
}
