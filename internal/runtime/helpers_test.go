package runtime

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/stretchr/testify/require"

	configpkg "github.com/drblury/busworker/internal/runtime/config"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	"github.com/drblury/busworker/transport"
	_ "github.com/drblury/busworker/transport/channel"
)

type OrderPlaced struct {
	OrderID string `json:"orderId"`
}

type OrderShipped struct {
	OrderID string `json:"orderId"`
}

type InvoiceRequested struct {
	InvoiceID int `json:"invoiceId"`
}

type ChargeCard struct {
	Amount int `json:"amount"`
}

type Reminder struct {
	Note string `json:"note"`
}

type Unrelated struct {
	Value string `json:"value"`
}

func newTestSlogLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func newTestLogger() loggingpkg.ServiceLogger {
	return loggingpkg.NewSlogServiceLogger(newTestSlogLogger())
}

// testConfig returns a configuration for the in-memory channel transport.
func testConfig(limit int) configpkg.Config {
	conf := configpkg.Default()
	conf.Broker.ConcurrencyLimit = limit
	conf.Worker.PubSubSystem = "channel"
	conf.Worker.RetryMaxRetries = 0
	conf.Worker.StartTimeout = 5 * time.Second
	return conf
}

func mustRegistry(t *testing.T, modules ...Module) *HandlerRegistry {
	t.Helper()
	r, err := NewHandlerRegistry(modules...)
	require.NoError(t, err)
	return r
}

// startTestWorker starts a worker on the channel transport and stops it when
// the test ends.
func startTestWorker(t *testing.T, conf configpkg.Config, deps WorkerDependencies) *Worker {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	w, err := StartWorker(ctx, conf, newTestLogger(), deps)
	require.NoError(t, err)
	t.Cleanup(func() { w.StopWithTimeout(5 * time.Second) })
	return w
}

// overlapProbe records how many handlers run at the same time.
type overlapProbe struct {
	active  atomic.Int32
	max     atomic.Int32
	handled atomic.Int32
}

func (p *overlapProbe) run(d time.Duration) {
	n := p.active.Add(1)
	for {
		m := p.max.Load()
		if n <= m || p.max.CompareAndSwap(m, n) {
			break
		}
	}
	time.Sleep(d)
	p.active.Add(-1)
	p.handled.Add(1)
}

// recordingRegistry builds a transport registry that counts builds and
// delegates to the channel transport.
type recordingRegistry struct {
	*transport.Registry
	mu     sync.Mutex
	builds int
}

func newRecordingRegistry() *recordingRegistry {
	r := &recordingRegistry{Registry: transport.NewRegistry()}
	r.RegisterWithCapabilities("channel", func(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
		r.mu.Lock()
		r.builds++
		r.mu.Unlock()
		return transport.DefaultRegistry.Build(ctx, cfg, logger)
	}, transport.ChannelCapabilities)
	return r
}

func (r *recordingRegistry) Builds() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.builds
}

type outboxRecord struct {
	messageType string
	uuid        string
	payload     string
}

type testOutbox struct {
	mu      sync.Mutex
	records []outboxRecord
	err     error
}

func (o *testOutbox) StoreOutgoingMessage(_ context.Context, messageType, uuid, payload string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.records = append(o.records, outboxRecord{messageType: messageType, uuid: uuid, payload: payload})
	return nil
}

func (o *testOutbox) Records() []outboxRecord {
	o.mu.Lock()
	defer o.mu.Unlock()
	clone := make([]outboxRecord, len(o.records))
	copy(clone, o.records)
	return clone
}
