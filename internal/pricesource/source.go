// Package pricesource provides clients for external price-quote providers.
package pricesource

import (
	"context"

	"crypto-feature-store/internal/domain"
)

// Source fetches recent price points for an asset.
// Implementations must bound their own wait time and return
// domain.ErrSourceUnavailable (or a wrapped kind of it) on any failure.
type Source interface {
	// FetchPrices returns (timestamp, price) pairs for the last lookbackDays days, ordered by timestamp.
	FetchPrices(ctx context.Context, asset domain.Asset, lookbackDays int) ([]domain.PricePoint, error)
}
