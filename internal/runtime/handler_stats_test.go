package runtime

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPercentile(t *testing.T) {
	samples := []int64{10, 20, 30, 40, 50}
	assert.Equal(t, int64(10), percentile(samples, 0))
	assert.Equal(t, int64(30), percentile(samples, 0.5))
	assert.Equal(t, int64(50), percentile(samples, 1))
	assert.Equal(t, int64(40), percentile(samples, 0.75))
	assert.Zero(t, percentile(nil, 0.5))
}

func TestLatencyWindowWrapsAround(t *testing.T) {
	lw := newLatencyWindow(3)
	for _, d := range []time.Duration{1, 2, 3, 4} {
		lw.add(d)
	}
	snap := lw.snapshot()
	assert.Equal(t, 3, snap.SampleSize)
	assert.Equal(t, int64(3), snap.AverageNs)
	assert.Equal(t, int64(4), snap.LastNs)
	assert.Equal(t, int64(3), snap.P50Ns)
}

func TestThroughputWindowDropsOldSamples(t *testing.T) {
	tw := newThroughputWindow(time.Second)
	base := time.Now()
	tw.addAndSnapshot(base)
	tw.addAndSnapshot(base.Add(500 * time.Millisecond))
	snap := tw.addAndSnapshot(base.Add(1200 * time.Millisecond))
	assert.Equal(t, 2, snap.Count)
	assert.InDelta(t, 0.7, snap.WindowSeconds, 0.001)
}

func TestClassifyError(t *testing.T) {
	assert.Equal(t, ErrorCategoryNone, classifyError(nil))
	assert.Equal(t, ErrorCategoryUnprocessable, classifyError(fmt.Errorf("wrapped: %w", &UnprocessableMessageError{Err: errors.New("x")})))
	assert.Equal(t, ErrorCategoryDownstream, classifyError(context.DeadlineExceeded))
	assert.Equal(t, ErrorCategoryOther, classifyError(errors.New("x")))
}

func TestStatsRegistryHooks(t *testing.T) {
	binding := HandlerBinding{Name: "OrderPlacedConsumer", WireType: "urn:message:test:OrderPlaced"}
	stats := newStatsRegistry([]Endpoint{{Name: "order-placed", Bindings: []HandlerBinding{binding}}})
	hooks := stats.hooks()

	hc := HandlerContext{HandlerName: "OrderPlacedConsumer"}
	require.NoError(t, hooks.runWithHooks(hc, func() error { return nil }))
	require.Error(t, hooks.runWithHooks(hc, func() error { return errors.New("boom") }))
	// unknown handlers are ignored
	require.NoError(t, hooks.runWithHooks(HandlerContext{HandlerName: "other"}, func() error { return nil }))

	snap := stats.snapshot()
	require.Len(t, snap, 1)
	s := snap[0]
	assert.Equal(t, "order-placed", s.Endpoint)
	assert.Equal(t, "urn:message:test:OrderPlaced", s.MessageType)
	assert.Equal(t, uint64(2), s.MessagesProcessed)
	assert.Equal(t, uint64(1), s.MessagesFailed)
	assert.Equal(t, uint64(1), s.Errors.Other)
	assert.Equal(t, "boom", s.Errors.LastError)
	assert.Zero(t, s.InFlight)
	assert.Equal(t, uint64(1), s.MaxInFlight)
	assert.Equal(t, 2, s.Latency.SampleSize)
	assert.False(t, s.LastProcessedAt.IsZero())
}
