package runtime

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"
	"time"
)

const (
	latencySampleSize    = 256
	throughputWindowSize = time.Minute
)

// ErrorCategory groups handler failures for statistics.
type ErrorCategory string

const (
	ErrorCategoryNone          ErrorCategory = "none"
	ErrorCategoryUnprocessable ErrorCategory = "unprocessable"
	ErrorCategoryDownstream    ErrorCategory = "downstream"
	ErrorCategoryOther         ErrorCategory = "other"
)

func classifyError(err error) ErrorCategory {
	switch {
	case err == nil:
		return ErrorCategoryNone
	case IsUnprocessable(err):
		return ErrorCategoryUnprocessable
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, context.Canceled):
		return ErrorCategoryDownstream
	default:
		return ErrorCategoryOther
	}
}

// HandlerStats is a snapshot of one binding's invocations since the bus
// started.
type HandlerStats struct {
	Name        string `json:"name"`
	Endpoint    string `json:"endpoint"`
	MessageType string `json:"message_type"`

	MessagesProcessed uint64    `json:"messages_processed"`
	MessagesFailed    uint64    `json:"messages_failed"`
	InFlight          uint64    `json:"in_flight"`
	MaxInFlight       uint64    `json:"max_in_flight"`
	LastProcessedAt   time.Time `json:"last_processed_at"`

	Latency    LatencyMetrics    `json:"latency"`
	Throughput ThroughputMetrics `json:"throughput"`
	Errors     ErrorBreakdown    `json:"errors"`
}

type LatencyMetrics struct {
	AverageNs  int64 `json:"average_ns"`
	P50Ns      int64 `json:"p50_ns"`
	P95Ns      int64 `json:"p95_ns"`
	P99Ns      int64 `json:"p99_ns"`
	LastNs     int64 `json:"last_ns"`
	SampleSize int   `json:"sample_size"`
}

type ThroughputMetrics struct {
	CurrentRPS       float64 `json:"current_rps"`
	WindowSeconds    float64 `json:"window_seconds"`
	MessagesInWindow uint64  `json:"messages_in_window"`
}

type ErrorBreakdown struct {
	Unprocessable uint64 `json:"unprocessable"`
	Downstream    uint64 `json:"downstream"`
	Other         uint64 `json:"other"`
	LastError     string `json:"last_error,omitempty"`
}

func (e *ErrorBreakdown) record(err error) {
	switch classifyError(err) {
	case ErrorCategoryNone:
		return
	case ErrorCategoryUnprocessable:
		e.Unprocessable++
	case ErrorCategoryDownstream:
		e.Downstream++
	default:
		e.Other++
	}
	e.LastError = err.Error()
}

// handlerStats accumulates HandlerStats for one binding.
type handlerStats struct {
	mu         sync.Mutex
	snapshot   HandlerStats
	latency    *latencyWindow
	throughput *throughputWindow
}

func newHandlerStats(binding HandlerBinding, endpoint string) *handlerStats {
	return &handlerStats{
		snapshot: HandlerStats{
			Name:        binding.Name,
			Endpoint:    endpoint,
			MessageType: binding.WireType,
		},
		latency:    newLatencyWindow(latencySampleSize),
		throughput: newThroughputWindow(throughputWindowSize),
	}
}

func (h *handlerStats) start() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshot.InFlight++
	if h.snapshot.InFlight > h.snapshot.MaxInFlight {
		h.snapshot.MaxInFlight = h.snapshot.InFlight
	}
}

func (h *handlerStats) finish(now time.Time, duration time.Duration, err error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.snapshot.InFlight > 0 {
		h.snapshot.InFlight--
	}
	h.snapshot.MessagesProcessed++
	if err != nil {
		h.snapshot.MessagesFailed++
		h.snapshot.Errors.record(err)
	}
	h.snapshot.LastProcessedAt = now
	h.latency.add(duration)
	h.snapshot.Latency = h.latency.snapshot()
	tp := h.throughput.addAndSnapshot(now)
	h.snapshot.Throughput = ThroughputMetrics{
		CurrentRPS:       tp.CurrentRPS,
		WindowSeconds:    tp.WindowSeconds,
		MessagesInWindow: uint64(tp.Count),
	}
}

func (h *handlerStats) get() HandlerStats {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.snapshot
}

// statsRegistry keeps one handlerStats per binding name.
type statsRegistry struct {
	order    []string
	handlers map[string]*handlerStats
}

func newStatsRegistry(endpoints []Endpoint) *statsRegistry {
	r := &statsRegistry{handlers: make(map[string]*handlerStats)}
	for _, ep := range endpoints {
		for _, b := range ep.Bindings {
			r.order = append(r.order, b.Name)
			r.handlers[b.Name] = newHandlerStats(b, ep.Name)
		}
	}
	return r
}

// hooks feeds the registry from handler invocations.
func (r *statsRegistry) hooks() HandlerHooks {
	return HandlerHooks{
		OnHandlerStart: func(ctx HandlerContext) {
			if h := r.handlers[ctx.HandlerName]; h != nil {
				h.start()
			}
		},
		OnHandlerDone: func(ctx HandlerContext) {
			if h := r.handlers[ctx.HandlerName]; h != nil {
				h.finish(time.Now(), ctx.Duration, nil)
			}
		},
		OnHandlerError: func(ctx HandlerContext, err error) {
			if h := r.handlers[ctx.HandlerName]; h != nil {
				h.finish(time.Now(), ctx.Duration, err)
			}
		},
	}
}

func (r *statsRegistry) snapshot() []HandlerStats {
	out := make([]HandlerStats, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.handlers[name].get())
	}
	return out
}

type latencyWindow struct {
	samples []int64
	next    int
	filled  int
	last    int64
}

func newLatencyWindow(size int) *latencyWindow {
	if size <= 0 {
		size = latencySampleSize
	}
	return &latencyWindow{samples: make([]int64, size)}
}

func (lw *latencyWindow) add(d time.Duration) {
	lw.samples[lw.next] = int64(d)
	lw.last = int64(d)
	lw.next = (lw.next + 1) % len(lw.samples)
	if lw.filled < len(lw.samples) {
		lw.filled++
	}
}

func (lw *latencyWindow) snapshot() LatencyMetrics {
	metrics := LatencyMetrics{LastNs: lw.last}
	if lw.filled == 0 {
		return metrics
	}
	samples := make([]int64, lw.filled)
	for i := 0; i < lw.filled; i++ {
		idx := lw.next - lw.filled + i
		if idx < 0 {
			idx += len(lw.samples)
		}
		samples[i] = lw.samples[idx]
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	metrics.SampleSize = lw.filled
	metrics.P50Ns = percentile(samples, 0.50)
	metrics.P95Ns = percentile(samples, 0.95)
	metrics.P99Ns = percentile(samples, 0.99)
	var sum int64
	for _, v := range samples {
		sum += v
	}
	metrics.AverageNs = sum / int64(len(samples))
	return metrics
}

func percentile(samples []int64, quantile float64) int64 {
	if len(samples) == 0 {
		return 0
	}
	if quantile <= 0 {
		return samples[0]
	}
	if quantile >= 1 {
		return samples[len(samples)-1]
	}
	pos := quantile * float64(len(samples)-1)
	lower := int(math.Floor(pos))
	upper := int(math.Ceil(pos))
	if lower == upper {
		return samples[lower]
	}
	frac := pos - float64(lower)
	return samples[lower] + int64(float64(samples[upper]-samples[lower])*frac)
}

type throughputWindow struct {
	horizon time.Duration
	samples []time.Time
}

type throughputSnapshot struct {
	Count         int
	WindowSeconds float64
	CurrentRPS    float64
}

func newThroughputWindow(horizon time.Duration) *throughputWindow {
	return &throughputWindow{horizon: horizon, samples: make([]time.Time, 0, 64)}
}

func (tw *throughputWindow) addAndSnapshot(now time.Time) throughputSnapshot {
	tw.samples = append(tw.samples, now)

	cutoff := now.Add(-tw.horizon)
	idx := 0
	for idx < len(tw.samples) && tw.samples[idx].Before(cutoff) {
		idx++
	}
	if idx > 0 {
		tw.samples = append(tw.samples[:0], tw.samples[idx:]...)
	}

	span := now.Sub(tw.samples[0])
	if span <= 0 {
		span = time.Nanosecond
	}
	count := len(tw.samples)
	return throughputSnapshot{
		Count:         count,
		WindowSeconds: span.Seconds(),
		CurrentRPS:    float64(count) / span.Seconds(),
	}
}
