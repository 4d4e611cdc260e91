package pricesource

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"

	"crypto-feature-store/internal/domain"
)

// Default configuration values.
const (
	DefaultBaseURL = "https://api.coingecko.com/api/v3"
	DefaultTimeout = 10 * time.Second
)

// CoinGeckoClient implements Source using the CoinGecko market_chart endpoint.
// It never retries; retry policy belongs to the caller.
type CoinGeckoClient struct {
	client *resty.Client
	apiKey string
}

// ClientOption configures CoinGeckoClient.
type ClientOption func(*CoinGeckoClient)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *CoinGeckoClient) {
		c.client.SetTimeout(d)
	}
}

// WithAPIKey sends a demo API key with every request.
func WithAPIKey(key string) ClientOption {
	return func(c *CoinGeckoClient) {
		c.apiKey = key
	}
}

// NewCoinGeckoClient creates a client against baseURL. Empty baseURL uses DefaultBaseURL.
func NewCoinGeckoClient(baseURL string, opts ...ClientOption) *CoinGeckoClient {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	c := &CoinGeckoClient{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(DefaultTimeout).
			SetHeader("Accept", "application/json"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compile-time interface check.
var _ Source = (*CoinGeckoClient)(nil)

// marketChartResponse is the subset of the market_chart payload we use.
// Each price entry is [epoch_millis, price].
type marketChartResponse struct {
	Prices *[][]float64 `json:"prices"`
}

// FetchPrices requests market_chart for the asset and maps the price pairs.
func (c *CoinGeckoClient) FetchPrices(ctx context.Context, asset domain.Asset, lookbackDays int) ([]domain.PricePoint, error) {
	if lookbackDays < 1 {
		lookbackDays = 1
	}

	req := c.client.R().
		SetContext(ctx).
		SetPathParam("coin", asset.CoinID).
		SetQueryParams(map[string]string{
			"vs_currency": asset.VsCurrency,
			"days":        strconv.Itoa(lookbackDays),
		})
	if c.apiKey != "" {
		req.SetHeader("x-cg-demo-api-key", c.apiKey)
	}

	resp, err := req.Get("/coins/{coin}/market_chart")
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrSourceUnavailable, asset.CoinID, err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("%w: %s: http status %d", domain.ErrSourceUnavailable, asset.CoinID, resp.StatusCode())
	}

	return decodeMarketChart(resp.Body())
}

// decodeMarketChart validates and converts a market_chart body.
func decodeMarketChart(body []byte) ([]domain.PricePoint, error) {
	var payload marketChartResponse
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: decode market chart: %v", domain.ErrMalformedPayload, err)
	}
	if payload.Prices == nil {
		return nil, fmt.Errorf("%w: missing prices field", domain.ErrMalformedPayload)
	}

	points := make([]domain.PricePoint, 0, len(*payload.Prices))
	for i, pair := range *payload.Prices {
		if len(pair) != 2 {
			return nil, fmt.Errorf("%w: price entry %d has %d elements", domain.ErrMalformedPayload, i, len(pair))
		}
		ms, price := pair[0], pair[1]
		if ms <= 0 || ms != math.Trunc(ms) {
			return nil, fmt.Errorf("%w: price entry %d has invalid timestamp %v", domain.ErrMalformedPayload, i, ms)
		}
		points = append(points, domain.PricePoint{
			Timestamp: time.UnixMilli(int64(ms)).UTC(),
			Price:     price,
		})
	}

	return points, nil
}
