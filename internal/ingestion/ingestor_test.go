package ingestion

import (
	"context"
	"errors"
	"io"
	"log"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/pricesource/stub"
	"crypto-feature-store/internal/storage"
	"crypto-feature-store/internal/storage/memory"
)

var (
	btc = domain.Asset{ID: "BTC", CoinID: "bitcoin", VsCurrency: "usd"}
	eth = domain.Asset{ID: "ETH", CoinID: "ethereum", VsCurrency: "usd"}

	t1 = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	t2 = t1.Add(time.Hour)
	t3 = t2.Add(time.Hour)
)

type fixture struct {
	source     *stub.Source
	watermarks *memory.WatermarkStore
	raw        *memory.RawSeriesStore
	ingestor   *Ingestor
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	wm := memory.NewWatermarkStore()
	f := &fixture{
		source:     stub.NewSource(),
		watermarks: wm,
		raw:        memory.NewRawSeriesStore(wm),
	}
	f.ingestor = NewIngestor(Options{
		Assets:         []domain.Asset{btc, eth},
		Source:         f.source,
		WatermarkStore: f.watermarks,
		IngestionStore: f.raw,
		Logger:         log.New(io.Discard, "", 0),
	})
	return f
}

func points(ts []time.Time, prices []float64) []domain.PricePoint {
	out := make([]domain.PricePoint, len(ts))
	for i := range ts {
		out[i] = domain.PricePoint{Timestamp: ts[i], Price: prices[i]}
	}
	return out
}

func TestRunCycle_FirstIngestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2, t3}, []float64{100, 110, 121}))

	res, err := f.ingestor.RunCycle(ctx, "BTC")
	require.NoError(t, err)

	assert.Equal(t, domain.CycleIngested, res.Outcome)
	assert.Nil(t, res.PreviousWatermark)
	assert.Equal(t, 3, res.Fetched)
	assert.Equal(t, 3, res.Inserted)
	require.NotNil(t, res.Watermark)
	assert.True(t, t3.Equal(*res.Watermark))

	wm, err := f.watermarks.Get(ctx, "BTC")
	require.NoError(t, err)
	assert.True(t, t3.Equal(*wm.LastTimestamp))

	count, _ := f.raw.Count(ctx, "BTC")
	assert.Equal(t, 3, count)
}

func TestRunCycle_IdempotentReingestion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2, t3}, []float64{100, 110, 121}))

	first, err := f.ingestor.RunCycle(ctx, "BTC")
	require.NoError(t, err)
	countAfterFirst, _ := f.raw.Count(ctx, "BTC")

	second, err := f.ingestor.RunCycle(ctx, "BTC")
	require.NoError(t, err)
	countAfterSecond, _ := f.raw.Count(ctx, "BTC")

	assert.Equal(t, domain.CycleNoOp, second.Outcome)
	assert.Equal(t, countAfterFirst, countAfterSecond)
	require.NotNil(t, second.Watermark)
	assert.True(t, first.Watermark.Equal(*second.Watermark))
}

func TestRunCycle_WatermarkMonotonic(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	var last time.Time
	for step := 0; step < 5; step++ {
		ts := t1.Add(time.Duration(step) * time.Hour)
		f.source.AddPoints("bitcoin", domain.PricePoint{Timestamp: ts, Price: float64(100 + step)})

		res, err := f.ingestor.RunCycle(ctx, "BTC")
		require.NoError(t, err)
		require.NotNil(t, res.Watermark)
		assert.False(t, res.Watermark.Before(last), "watermark decreased at step %d", step)
		last = *res.Watermark
	}

	assert.True(t, t1.Add(4*time.Hour).Equal(last))
	count, _ := f.raw.Count(ctx, "BTC")
	assert.Equal(t, 5, count)
}

func TestRunCycle_SourceFailureLeavesStateUnchanged(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1}, []float64{100}))
	_, err := f.ingestor.RunCycle(ctx, "BTC")
	require.NoError(t, err)

	f.source.SetError(errors.New("connection refused"))
	res, err := f.ingestor.RunCycle(ctx, "BTC")

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSourceUnavailable)
	assert.Equal(t, domain.CycleFailed, res.Outcome)
	assert.Equal(t, domain.FailureSourceUnavailable, res.Failure)

	wm, _ := f.watermarks.Get(ctx, "BTC")
	assert.True(t, t1.Equal(*wm.LastTimestamp))
}

func TestRunCycle_MalformedPayload(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2}, []float64{100, math.NaN()}))

	res, err := f.ingestor.RunCycle(ctx, "BTC")

	assert.ErrorIs(t, err, domain.ErrMalformedPayload)
	assert.Equal(t, domain.FailureSourceUnavailable, res.Failure)
	count, _ := f.raw.Count(ctx, "BTC")
	assert.Equal(t, 0, count, "no row of a malformed batch may be stored")
}

// failingStore rejects every commit.
type failingStore struct{}

func (failingStore) CommitBatch(context.Context, string, []*domain.Observation) (*domain.CommitResult, error) {
	return nil, errors.New("connection reset")
}

func TestRunCycle_PersistenceFailure(t *testing.T) {
	wm := memory.NewWatermarkStore()
	source := stub.NewSource()
	source.SetPoints("bitcoin", points([]time.Time{t1}, []float64{100}))

	ing := NewIngestor(Options{
		Assets:         []domain.Asset{btc},
		Source:         source,
		WatermarkStore: wm,
		IngestionStore: failingStore{},
		Logger:         log.New(io.Discard, "", 0),
	})

	res, err := ing.RunCycle(context.Background(), "BTC")

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.FailurePersistence, res.Failure)
	_, err = wm.Get(context.Background(), "BTC")
	assert.ErrorIs(t, err, storage.ErrNotFound)
}

// staleWatermarks pretends no watermark was ever committed, as after a crash
// between a committed insert and an unobserved watermark read.
type staleWatermarks struct{ storage.WatermarkStore }

func (staleWatermarks) Get(context.Context, string) (*domain.Watermark, error) {
	return nil, storage.ErrNotFound
}

func TestRunCycle_RetryAfterStaleWatermarkSkipsDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2, t3}, []float64{100, 110, 121}))
	_, err := f.ingestor.RunCycle(ctx, "BTC")
	require.NoError(t, err)

	retry := NewIngestor(Options{
		Assets:         []domain.Asset{btc},
		Source:         f.source,
		WatermarkStore: staleWatermarks{f.watermarks},
		IngestionStore: f.raw,
		Logger:         log.New(io.Discard, "", 0),
	})

	res, err := retry.RunCycle(ctx, "BTC")
	require.NoError(t, err, "duplicate rows must not fail the cycle")
	assert.Equal(t, 0, res.Inserted)
	assert.Equal(t, 3, res.Duplicates)

	count, _ := f.raw.Count(ctx, "BTC")
	assert.Equal(t, 3, count)
}

func TestRunCycle_UnknownAsset(t *testing.T) {
	f := newFixture(t)

	res, err := f.ingestor.RunCycle(context.Background(), "DOGE")
	assert.ErrorIs(t, err, domain.ErrUnknownAsset)
	assert.Equal(t, domain.CycleFailed, res.Outcome)
	assert.Equal(t, 0, f.source.Calls())
}

func TestRunCycle_ConcurrentSameAssetNoDuplicates(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2, t3}, []float64{100, 110, 121}))

	var wg sync.WaitGroup
	results := make([]*domain.CycleResult, 6)
	for n := range results {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			res, err := f.ingestor.RunCycle(ctx, "BTC")
			assert.NoError(t, err)
			results[n] = res
		}(n)
	}
	wg.Wait()

	inserted := 0
	for _, r := range results {
		inserted += r.Inserted
	}
	assert.Equal(t, 3, inserted, "exactly one cycle should insert the batch")

	count, _ := f.raw.Count(ctx, "BTC")
	assert.Equal(t, 3, count)
}

func TestRunCycle_AssetsAreIndependent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2}, []float64{100, 110}))
	f.source.SetPoints("ethereum", points([]time.Time{t3}, []float64{10}))

	_, err := f.ingestor.RunCycle(ctx, "BTC")
	require.NoError(t, err)
	_, err = f.ingestor.RunCycle(ctx, "ETH")
	require.NoError(t, err)

	btcWM, _ := f.watermarks.Get(ctx, "BTC")
	ethWM, _ := f.watermarks.Get(ctx, "ETH")
	assert.True(t, t2.Equal(*btcWM.LastTimestamp))
	assert.True(t, t3.Equal(*ethWM.LastTimestamp))
}

func TestFetchIncremental_ExcludesWatermarkTies(t *testing.T) {
	f := newFixture(t)
	f.source.SetPoints("bitcoin", points([]time.Time{t3, t1, t2}, []float64{121, 100, 110}))

	obs, err := f.ingestor.FetchIncremental(context.Background(), btc, &t2)
	require.NoError(t, err)
	require.Len(t, obs, 1)
	assert.True(t, t3.Equal(obs[0].Timestamp))
	assert.Equal(t, 121.0, obs[0].Close)
}

func TestFetchIncremental_NilWatermarkKeepsAllSorted(t *testing.T) {
	f := newFixture(t)
	f.source.SetPoints("bitcoin", points([]time.Time{t3, t1, t2, t2}, []float64{121, 100, 109, 110}))

	obs, err := f.ingestor.FetchIncremental(context.Background(), btc, nil)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	require.NoError(t, ValidateObservationOrdering(obs))
	assert.Equal(t, 110.0, obs[1].Close, "last duplicate wins")

	// open=high=low=close, volume=0
	require.NotNil(t, obs[0].Open)
	assert.Equal(t, obs[0].Close, *obs[0].Open)
	assert.Equal(t, obs[0].Close, *obs[0].High)
	assert.Equal(t, obs[0].Close, *obs[0].Low)
	assert.Equal(t, 0.0, obs[0].Volume)
}

func TestFetchIncremental_NothingNewIsEmptyNotError(t *testing.T) {
	f := newFixture(t)
	f.source.SetPoints("bitcoin", points([]time.Time{t1, t2}, []float64{100, 110}))

	obs, err := f.ingestor.FetchIncremental(context.Background(), btc, &t3)
	require.NoError(t, err)
	assert.Empty(t, obs)
}

func TestAssetsOrdered(t *testing.T) {
	f := newFixture(t)
	assets := f.ingestor.Assets()
	require.Len(t, assets, 2)
	assert.Equal(t, "BTC", assets[0].ID)
	assert.Equal(t, "ETH", assets[1].ID)
}
