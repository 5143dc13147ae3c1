package storage

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInsertEventKeyClaimsOnce(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	inserted, err := m.InsertEventKey(ctx, nil, "sess-1:PAGE_LOAD:1", at)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = m.InsertEventKey(ctx, nil, "sess-1:PAGE_LOAD:1", at)
	require.NoError(t, err)
	assert.False(t, inserted)
}

func TestSaveRecordDeduplicatesByKey(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	rec := Record{EventKey: "k1", EntityID: "srv-1", Metric: "cpu", Value: 80}
	require.NoError(t, m.SaveRecord(ctx, nil, rec))
	rec.Value = 99
	require.NoError(t, m.SaveRecord(ctx, nil, rec))

	records := m.Records()
	require.Len(t, records, 1)
	assert.Equal(t, 80.0, records[0].Value)
}

func TestSamplesOrderedSince(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i, v := range []float64{3, 1, 2} {
		require.NoError(t, m.SaveRecord(ctx, nil, Record{
			EventKey:  string(rune('a' + i)),
			EntityID:  "srv-1",
			Metric:    "cpu",
			Value:     v,
			Timestamp: base.Add(time.Duration(v) * time.Minute),
		}))
	}

	samples, err := m.Samples(ctx, MetricKey{EntityID: "srv-1", Metric: "cpu"}, base)
	require.NoError(t, err)
	require.Len(t, samples, 3)
	assert.Equal(t, []float64{1, 2, 3}, []float64{samples[0].Value, samples[1].Value, samples[2].Value})

	// A later cutoff filters the old ones.
	samples, err = m.Samples(ctx, MetricKey{EntityID: "srv-1", Metric: "cpu"}, base.Add(2*time.Minute))
	require.NoError(t, err)
	assert.Len(t, samples, 2)
}

func TestMetricKeysSkipEmptyMetric(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveRecord(ctx, nil, Record{EventKey: "a", EntityID: "srv-1", Metric: "cpu", Timestamp: at}))
	require.NoError(t, m.SaveRecord(ctx, nil, Record{EventKey: "b", EntityID: "srv-1", Metric: "", Timestamp: at}))

	keys, err := m.MetricKeys(ctx, at.Add(-time.Hour))
	require.NoError(t, err)
	require.Len(t, keys, 1)
	assert.Equal(t, MetricKey{EntityID: "srv-1", Metric: "cpu"}, keys[0])
}

func TestCleanupRespectsSeparateRetentions(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, m.SaveRecord(ctx, nil, Record{EventKey: "old", Timestamp: now.Add(-40 * 24 * time.Hour)}))
	require.NoError(t, m.SaveRecord(ctx, nil, Record{EventKey: "new", Timestamp: now}))
	require.NoError(t, m.SavePrediction(ctx, nil, Prediction{Model: "old", MadeAt: now.Add(-100 * 24 * time.Hour)}))
	require.NoError(t, m.SavePrediction(ctx, nil, Prediction{Model: "new", MadeAt: now}))

	removed, err := m.Cleanup(ctx, now.Add(-30*24*time.Hour), now.Add(-90*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	assert.Len(t, m.Records(), 1)
	preds := m.Predictions()
	require.Len(t, preds, 1)
	assert.Equal(t, "new", preds[0].Model)
}

func TestPassthroughUnitOfWork(t *testing.T) {
	uow := NewPassthroughUnitOfWork()

	called := false
	err := uow.Do(context.Background(), func(ctx context.Context, db DBTX) error {
		called = true
		assert.Nil(t, db)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, called)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	err = uow.Do(cancelled, func(ctx context.Context, db DBTX) error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
}
