package features

import (
	"context"
	"errors"
	"io"
	"log"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"crypto-feature-store/internal/domain"
	"crypto-feature-store/internal/storage/memory"
)

// stubRawStore serves fixed rows, including rows that the real stores would reject.
type stubRawStore struct {
	rows []*domain.RawClose
	err  error
}

func (s *stubRawStore) LoadAllCloses(context.Context) ([]*domain.RawClose, error) {
	return s.rows, s.err
}

func (s *stubRawStore) GetByTimeRange(context.Context, string, time.Time, time.Time) ([]*domain.Observation, error) {
	return nil, nil
}

func (s *stubRawStore) Count(context.Context, string) (int, error) {
	return len(s.rows), nil
}

// failingFeatureStore wraps a FeatureStore and fails every write.
type failingFeatureStore struct {
	*memory.FeatureStore
}

func (failingFeatureStore) WriteFullRefresh(context.Context, []*domain.FeatureRow) error {
	return errors.New("disk full")
}

func quietLogger() *log.Logger {
	return log.New(io.Discard, "", 0)
}

func seedRaw(t *testing.T, store *memory.RawSeriesStore, assetID string, closes ...float64) {
	t.Helper()
	obs := make([]*domain.Observation, len(closes))
	for i, c := range closes {
		obs[i] = &domain.Observation{AssetID: assetID, Timestamp: t0.Add(time.Duration(i) * time.Hour), Close: c}
	}
	_, err := store.CommitBatch(context.Background(), assetID, obs)
	require.NoError(t, err)
}

func TestTransformer_WritesFeatures(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewRawSeriesStore(memory.NewWatermarkStore())
	sink := memory.NewFeatureStore()
	seedRaw(t, raw, "BTC", 100, 110, 121)

	tr := NewTransformer(TransformerOptions{Raw: raw, Sink: sink, Logger: quietLogger()})
	res, err := tr.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.TransformWritten, res.Outcome)
	assert.NotEmpty(t, res.RunID)
	assert.Equal(t, 3, res.RawRows)
	assert.Equal(t, 3, res.FeatureRows)
	assert.Equal(t, 1, res.Partitions)

	rows, err := sink.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Nil(t, rows[0].Return1)
	require.NotNil(t, rows[1].Return1)
	require.NotNil(t, rows[2].Return1)
	assert.InDelta(t, 0.10, *rows[1].Return1, 1e-9)
	assert.InDelta(t, 0.10, *rows[2].Return1, 1e-9)
}

func TestTransformer_FullRefreshReplacesKeySet(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewRawSeriesStore(memory.NewWatermarkStore())
	sink := memory.NewFeatureStore()

	// Stale row that no longer exists in the raw series.
	require.NoError(t, sink.WriteFullRefresh(ctx, []*domain.FeatureRow{validRow("OLD", 0, 1)}))

	seedRaw(t, raw, "A", 1, 2)
	seedRaw(t, raw, "B", 3)

	_, err := NewTransformer(TransformerOptions{Raw: raw, Sink: sink, Logger: quietLogger()}).Run(ctx)
	require.NoError(t, err)

	rows, err := sink.GetAll(ctx)
	require.NoError(t, err)

	var keys []string
	for _, r := range rows {
		keys = append(keys, r.AssetID+"@"+r.Timestamp.Format(time.RFC3339))
	}
	assert.Equal(t, []string{
		"A@2024-01-01T00:00:00Z",
		"A@2024-01-01T01:00:00Z",
		"B@2024-01-01T00:00:00Z",
	}, keys)
}

func TestTransformer_EmptySourceSkipsWrite(t *testing.T) {
	ctx := context.Background()
	sink := memory.NewFeatureStore()
	require.NoError(t, sink.WriteFullRefresh(ctx, []*domain.FeatureRow{validRow("A", 0, 1)}))

	tr := NewTransformer(TransformerOptions{Raw: &stubRawStore{}, Sink: sink, Logger: quietLogger()})
	res, err := tr.Run(ctx)
	require.NoError(t, err)

	assert.Equal(t, domain.TransformSkippedEmpty, res.Outcome)
	assert.Equal(t, 1, sink.Writes())

	rows, err := sink.GetAll(ctx)
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}

func TestTransformer_ValidationGateKeepsPreviousTable(t *testing.T) {
	ctx := context.Background()
	sink := memory.NewFeatureStore()
	previous := []*domain.FeatureRow{validRow("A", 0, 1), validRow("A", 1, 2)}
	require.NoError(t, sink.WriteFullRefresh(ctx, previous))

	one := 1.0
	raw := &stubRawStore{rows: []*domain.RawClose{
		{AssetID: "A", Timestamp: t0, Close: &one},
		{AssetID: "A", Timestamp: t0.Add(time.Hour), Close: nil},
	}}

	tr := NewTransformer(TransformerOptions{Raw: raw, Sink: sink, Logger: quietLogger()})
	res, err := tr.Run(ctx)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrSchemaValidation)
	assert.Equal(t, domain.TransformFailed, res.Outcome)
	assert.Equal(t, domain.FailureSchemaValidation, res.Failure)
	assert.Equal(t, 1, sink.Writes())

	rows, err := sink.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, 2.0, *rows[1].Close)
}

func TestTransformer_LoadFailure(t *testing.T) {
	tr := NewTransformer(TransformerOptions{
		Raw:    &stubRawStore{err: errors.New("connection refused")},
		Sink:   memory.NewFeatureStore(),
		Logger: quietLogger(),
	})

	res, err := tr.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.FailurePersistence, res.Failure)
}

func TestTransformer_WriteFailure(t *testing.T) {
	raw := memory.NewRawSeriesStore(memory.NewWatermarkStore())
	seedRaw(t, raw, "A", 1)

	tr := NewTransformer(TransformerOptions{
		Raw:    raw,
		Sink:   failingFeatureStore{memory.NewFeatureStore()},
		Logger: quietLogger(),
	})

	res, err := tr.Run(context.Background())

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.TransformFailed, res.Outcome)
}

func TestTransformer_Mirror(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewRawSeriesStore(memory.NewWatermarkStore())
	seedRaw(t, raw, "A", 1, 2, 3)
	sink := memory.NewFeatureStore()
	mirror := memory.NewFeatureStore()

	_, err := NewTransformer(TransformerOptions{Raw: raw, Sink: sink, Mirror: mirror, Logger: quietLogger()}).Run(ctx)
	require.NoError(t, err)

	want, err := sink.GetAll(ctx)
	require.NoError(t, err)
	got, err := mirror.GetAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestTransformer_MirrorFailureAfterSink(t *testing.T) {
	ctx := context.Background()
	raw := memory.NewRawSeriesStore(memory.NewWatermarkStore())
	seedRaw(t, raw, "A", 1)
	sink := memory.NewFeatureStore()

	res, err := NewTransformer(TransformerOptions{
		Raw:    raw,
		Sink:   sink,
		Mirror: failingFeatureStore{memory.NewFeatureStore()},
		Logger: quietLogger(),
	}).Run(ctx)

	assert.ErrorIs(t, err, domain.ErrPersistence)
	assert.Equal(t, domain.TransformFailed, res.Outcome)
	assert.Equal(t, 1, sink.Writes())
}
