package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Reasons a delivery leaves its endpoint for a side queue.
const (
	MovedFaulted = "faulted"
	MovedSkipped = "skipped"
)

// QueueStats counts the deliveries an endpoint moved to its error and
// skipped queues.
type QueueStats struct {
	Faulted     uint64    `json:"faulted"`
	Skipped     uint64    `json:"skipped"`
	LastMovedAt time.Time `json:"last_moved_at,omitempty"`
}

// QueueMetrics tracks deliveries moved to "<endpoint>_error" and
// "<endpoint>_skipped". The counters are exported to Prometheus when the bus
// has metrics enabled.
type QueueMetrics struct {
	mu        sync.Mutex
	endpoints map[string]*QueueStats

	movedTotal *prometheus.CounterVec
	ageSeconds *prometheus.HistogramVec
}

func NewQueueMetrics() *QueueMetrics {
	return &QueueMetrics{
		endpoints: make(map[string]*QueueStats),
		movedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "busworker",
			Subsystem: "queue",
			Name:      "moved_total",
			Help:      "Deliveries moved from an endpoint to its error or skipped queue",
		}, []string{"endpoint", "reason"}),
		ageSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "busworker",
			Subsystem: "queue",
			Name:      "moved_message_age_seconds",
			Help:      "Time between sending a message and moving it to a side queue",
			Buckets:   []float64{1, 5, 10, 30, 60, 300, 600, 1800, 3600},
		}, []string{"endpoint", "reason"}),
	}
}

// Register adds the collectors to registerer. Registering twice is not an
// error.
func (m *QueueMetrics) Register(registerer prometheus.Registerer) error {
	for _, c := range []prometheus.Collector{m.movedTotal, m.ageSeconds} {
		if err := registerer.Register(c); err != nil {
			var already prometheus.AlreadyRegisteredError
			if !errors.As(err, &already) {
				return err
			}
		}
	}
	return nil
}

// Record counts one delivery of endpoint moved for reason. sentAt is the
// envelope's send time; a zero value skips the age observation.
func (m *QueueMetrics) Record(endpoint, reason string, sentAt time.Time) {
	now := time.Now()

	m.mu.Lock()
	stats := m.endpoints[endpoint]
	if stats == nil {
		stats = &QueueStats{}
		m.endpoints[endpoint] = stats
	}
	switch reason {
	case MovedFaulted:
		stats.Faulted++
	case MovedSkipped:
		stats.Skipped++
	}
	stats.LastMovedAt = now
	m.mu.Unlock()

	m.movedTotal.WithLabelValues(endpoint, reason).Inc()
	if !sentAt.IsZero() {
		m.ageSeconds.WithLabelValues(endpoint, reason).Observe(now.Sub(sentAt).Seconds())
	}
}

// Snapshot returns a copy of the per-endpoint counts.
func (m *QueueMetrics) Snapshot() map[string]QueueStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]QueueStats, len(m.endpoints))
	for name, stats := range m.endpoints {
		out[name] = *stats
	}
	return out
}
