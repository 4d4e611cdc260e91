package domain

import (
	"fmt"
	"math"
	"time"
)

// Observation is a raw OHLC bar for one asset at one instant.
// Corresponds to price_bars table in PostgreSQL. Unique by (asset_id, timestamp).
type Observation struct {
	AssetID   string    // internal asset code
	Timestamp time.Time // bar instant, UTC, millisecond precision
	Open      *float64  // NULL when unknown
	High      *float64  // NULL when unknown
	Low       *float64  // NULL when unknown
	Close     float64   // required
	Volume    float64   // 0 when unknown
}

// PricePoint is a single (timestamp, price) pair returned by the price source.
type PricePoint struct {
	Timestamp time.Time
	Price     float64
}

// NormalizeTimestamp converts t to UTC truncated to milliseconds.
// Source timestamps are epoch millis, so this is lossless for them.
func NormalizeTimestamp(t time.Time) time.Time {
	return t.UTC().Truncate(time.Millisecond)
}

// ObservationFromPricePoint maps a price point into a bar.
// The source only exposes a single price, so open=high=low=close and volume=0.
func ObservationFromPricePoint(assetID string, p PricePoint) *Observation {
	price := p.Price
	open, high, low := price, price, price
	return &Observation{
		AssetID:   assetID,
		Timestamp: NormalizeTimestamp(p.Timestamp),
		Open:      &open,
		High:      &high,
		Low:       &low,
		Close:     price,
		Volume:    0,
	}
}

// Validate enforces the observation record contract.
func (o *Observation) Validate() error {
	if o == nil {
		return fmt.Errorf("%w: nil observation", ErrMalformedPayload)
	}
	if o.AssetID == "" {
		return fmt.Errorf("%w: empty asset id", ErrMalformedPayload)
	}
	if o.Timestamp.IsZero() {
		return fmt.Errorf("%w: %s: zero timestamp", ErrMalformedPayload, o.AssetID)
	}
	if !isFinite(o.Close) || o.Close < 0 {
		return fmt.Errorf("%w: %s@%s: invalid close %v", ErrMalformedPayload, o.AssetID, o.Timestamp.Format(time.RFC3339), o.Close)
	}
	for i, v := range []*float64{o.Open, o.High, o.Low} {
		if v != nil && !isFinite(*v) {
			return fmt.Errorf("%w: %s@%s: invalid %s %v", ErrMalformedPayload, o.AssetID, o.Timestamp.Format(time.RFC3339), ohlcNames[i], *v)
		}
	}
	if !isFinite(o.Volume) {
		return fmt.Errorf("%w: %s: invalid volume %v", ErrMalformedPayload, o.AssetID, o.Volume)
	}
	return nil
}

// RawClose is the projection of an observation used by the feature transform.
// Close is nullable here because it crosses a storage boundary; validation rejects nil.
type RawClose struct {
	AssetID   string
	Timestamp time.Time
	Close     *float64
}

var ohlcNames = [...]string{"open", "high", "low"}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
