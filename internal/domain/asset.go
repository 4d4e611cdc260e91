package domain

import "fmt"

// Asset identifies a tracked instrument and how to request it from the price source.
type Asset struct {
	ID         string // internal asset code, e.g. BTC
	CoinID     string // provider coin identifier, e.g. bitcoin
	VsCurrency string // quote currency, e.g. usd
}

// Validate checks that all identifiers are set.
func (a Asset) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("asset id is empty")
	}
	if a.CoinID == "" {
		return fmt.Errorf("asset %s: coin id is empty", a.ID)
	}
	if a.VsCurrency == "" {
		return fmt.Errorf("asset %s: vs currency is empty", a.ID)
	}
	return nil
}
