// Package stub provides an in-memory price source for tests and offline runs.
package stub

import (
	"context"
	"sync"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/pricesource"
)

// Source returns configured points per coin id, or a configured error.
type Source struct {
	mu     sync.Mutex
	points map[string][]domain.PricePoint
	err    error
	calls  int
}

// NewSource creates an empty stub source.
func NewSource() *Source {
	return &Source{points: make(map[string][]domain.PricePoint)}
}

var _ pricesource.Source = (*Source)(nil)

// SetPoints replaces the points returned for coinID.
func (s *Source) SetPoints(coinID string, points []domain.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[coinID] = append([]domain.PricePoint(nil), points...)
}

// AddPoints appends points returned for coinID.
func (s *Source) AddPoints(coinID string, points ...domain.PricePoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.points[coinID] = append(s.points[coinID], points...)
}

// SetError makes every fetch fail with err until cleared with nil.
func (s *Source) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Calls returns the number of FetchPrices calls.
func (s *Source) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// FetchPrices returns a copy of the configured points for asset.CoinID.
func (s *Source) FetchPrices(_ context.Context, asset domain.Asset, _ int) ([]domain.PricePoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	return append([]domain.PricePoint(nil), s.points[asset.CoinID]...), nil
}
