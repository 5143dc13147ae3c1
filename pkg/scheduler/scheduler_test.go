package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
	"github.com/sentinelops/telemetry-engine/pkg/observability"
)

func newTestScheduler(t *testing.T, clk clock.Clock) *Scheduler {
	t.Helper()
	s, err := New(observability.New(), clk)
	require.NoError(t, err)
	return s
}

func TestEveryValidation(t *testing.T) {
	s := newTestScheduler(t, clock.NewFake(time.Now()))

	assert.Error(t, s.Every("", time.Minute, 0, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Every("t", 0, 0, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Every("t", time.Minute, 1.5, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Every("t", time.Minute, 0, nil))

	require.NoError(t, s.Every("t", time.Minute, 0.1, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Every("t", time.Minute, 0.1, func(ctx context.Context) error { return nil }))
}

func TestTaskFiresOnPeriod(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)

	var runs atomic.Int32
	fired := make(chan struct{}, 10)
	require.NoError(t, s.Every("tick", time.Minute, 0, func(ctx context.Context) error {
		runs.Add(1)
		fired <- struct{}{}
		return nil
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	// Give the job goroutine a moment to park on the timer before advancing.
	time.Sleep(50 * time.Millisecond)
	clk.Advance(time.Minute)

	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire after advancing the clock")
	}
	assert.Equal(t, int32(1), runs.Load())
}

func TestTaskPanicIsContained(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)

	fired := make(chan struct{}, 10)
	require.NoError(t, s.Every("panicky", time.Minute, 0, func(ctx context.Context) error {
		fired <- struct{}{}
		panic("boom")
	}))

	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	time.Sleep(50 * time.Millisecond)
	clk.Advance(time.Minute)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire")
	}

	// The scheduler survives and schedules the next run.
	time.Sleep(50 * time.Millisecond)
	clk.Advance(time.Minute)
	select {
	case <-fired:
	case <-time.After(2 * time.Second):
		t.Fatal("task did not fire again after a panic")
	}
}

func TestShutdownStopsJobs(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := newTestScheduler(t, clk)

	require.NoError(t, s.Every("tick", time.Minute, 0, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Shutdown(context.Background()))

	health := s.Health(context.Background())
	assert.Equal(t, StatusStopped, health.Status)
	assert.Equal(t, 1, health.RegisteredTasks)

	// Shutdown is idempotent.
	assert.NoError(t, s.Shutdown(context.Background()))
}

func TestCannotRegisterWhileRunning(t *testing.T) {
	s := newTestScheduler(t, clock.NewFake(time.Now()))
	require.NoError(t, s.Every("a", time.Minute, 0, func(ctx context.Context) error { return nil }))
	require.NoError(t, s.Start(context.Background()))
	defer s.Shutdown(context.Background())

	assert.Error(t, s.Every("b", time.Minute, 0, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Start(context.Background()))
}

func TestDelayJitterBounds(t *testing.T) {
	s := newTestScheduler(t, clock.NewFake(time.Now()))
	j := &job{name: "t", period: time.Minute, jitter: 0.1}

	for i := 0; i < 200; i++ {
		d := s.delay(j)
		assert.GreaterOrEqual(t, d, 54*time.Second)
		assert.LessOrEqual(t, d, 66*time.Second)
	}
}
