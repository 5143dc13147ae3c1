package idempotency

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sentinelops/telemetry-engine/pkg/clock"
)

func TestSeenAfterRecord(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(clk)

	assert.False(t, c.Seen("order-1:CREATED:1"))
	c.Record("order-1:CREATED:1")
	assert.True(t, c.Seen("order-1:CREATED:1"))
}

func TestTTLExpiry(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(clk, WithTTL(time.Hour))

	c.Record("k")
	clk.Advance(59 * time.Minute)
	assert.True(t, c.Seen("k"))

	clk.Advance(2 * time.Minute)
	assert.False(t, c.Seen("k"))
	// The expired lookup also removes the entry.
	assert.Equal(t, 0, c.Len())
}

func TestSweepOnThreshold(t *testing.T) {
	clk := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	c := New(clk, WithTTL(time.Hour), WithSweepThreshold(10))

	for i := 0; i < 10; i++ {
		c.Record(fmt.Sprintf("old-%d", i))
	}
	clk.Advance(2 * time.Hour)

	// Crossing the threshold sweeps the expired entries.
	c.Record("fresh")
	assert.Equal(t, 1, c.Len())
	assert.True(t, c.Seen("fresh"))
}
