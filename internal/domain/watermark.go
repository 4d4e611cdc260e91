package domain

import "time"

// Watermark is the last ingested observation timestamp for an asset.
// Corresponds to ingestion_state table in PostgreSQL.
type Watermark struct {
	AssetID       string
	LastTimestamp *time.Time // NULL means nothing ingested yet
	UpdatedAt     time.Time
}

// CommitResult describes one atomic insert-and-advance unit of work.
type CommitResult struct {
	Inserted   int       // rows newly written
	Duplicates int       // rows skipped on (asset_id, timestamp) conflict
	Watermark  time.Time // watermark after commit
}

// MaxTimestamp returns the latest timestamp in obs, or the zero time for an empty slice.
func MaxTimestamp(obs []*Observation) time.Time {
	var maxTs time.Time
	for _, o := range obs {
		if o.Timestamp.After(maxTs) {
			maxTs = o.Timestamp
		}
	}
	return maxTs
}
