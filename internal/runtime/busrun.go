package runtime

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"reflect"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/components/metrics"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/semaphore"

	"github.com/drblury/busworker/internal/runtime/envelope"
	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	metadatapkg "github.com/drblury/busworker/internal/runtime/metadata"
	"github.com/drblury/busworker/internal/runtime/naming"
	"github.com/drblury/busworker/transport"
)

// routerCloseTimeout bounds how long closing the router waits for in-flight
// handlers. The worker's stop timeout is usually much shorter; the close keeps
// going in the background after the worker gave up waiting.
const routerCloseTimeout = 30 * time.Second

const metricsShutdownTimeout = 5 * time.Second

// Bus is a materialized BusDescriptor: a transport connection, a router with
// one handler per endpoint subscription, and the concurrency limiter shared by
// every handler invocation.
type Bus struct {
	desc            BusDescriptor
	logger          loggingpkg.ServiceLogger
	watermillLogger watermill.LoggerAdapter
	transport       transport.Transport
	caps            transport.Capabilities
	router          *message.Router
	limiter         *semaphore.Weighted
	scheduler       *scheduler
	metrics         *busMetrics
	stats           *statsRegistry
	queues          *QueueMetrics
	hooks           HandlerHooks
	provisioned     []message.Subscriber

	// runMu orders Run against Close. Closing a router that never ran blocks
	// until routerCloseTimeout, so Close skips it unless Run was entered.
	runMu      sync.Mutex
	runStarted bool
	closing    bool

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

type busMetrics struct {
	registry   *prometheus.Registry
	middleware message.HandlerMiddleware
	server     *http.Server
}

// Build connects to the broker described by desc and wires the router. It
// does not start consuming; call Run.
func (c *BusConfigurator) Build(ctx context.Context, desc BusDescriptor) (*Bus, error) {
	wmLogger := loggingpkg.NewWatermillAdapter(c.logger)
	settings := desc.Transport()

	tr, err := c.opts.Transports.Build(ctx, settings, wmLogger)
	if err != nil {
		return nil, fmt.Errorf("connect %s transport: %w", settings.System, err)
	}

	b := &Bus{
		desc:            desc,
		logger:          c.logger,
		watermillLogger: wmLogger,
		transport:       tr,
		caps:            c.opts.Transports.GetCapabilities(settings.System),
		limiter:         semaphore.NewWeighted(int64(desc.ConcurrencyLimit())),
		stats:           newStatsRegistry(desc.Endpoints()),
		queues:          NewQueueMetrics(),
	}
	b.hooks = b.stats.hooks().Merge(desc.hooks())
	if err := b.wire(); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

func (b *Bus) wire() error {
	router, err := message.NewRouter(message.RouterConfig{CloseTimeout: routerCloseTimeout}, b.watermillLogger)
	if err != nil {
		return fmt.Errorf("create router: %w", err)
	}
	b.router = router

	if m := b.desc.Metrics(); m.Enabled {
		if err := b.setupMetrics(m); err != nil {
			return err
		}
	}
	if b.desc.SchedulingEnabled() {
		b.scheduler = newScheduler(b.desc.SchedulerQueue(), b.transport.Publisher, b.logger)
	}

	for _, ep := range b.desc.Endpoints() {
		if err := b.addEndpoint(ep); err != nil {
			return fmt.Errorf("endpoint %s: %w", ep.Name, err)
		}
	}
	return nil
}

func (b *Bus) setupMetrics(settings MetricsSettings) error {
	registry := prometheus.NewRegistry()
	builder := metrics.NewPrometheusMetricsBuilder(registry, "busworker", b.desc.Transport().System)
	builder.AddPrometheusRouterMetrics(b.router)
	if err := b.queues.Register(registry); err != nil {
		return fmt.Errorf("register queue metrics: %w", err)
	}

	b.metrics = &busMetrics{
		registry:   registry,
		middleware: builder.NewRouterMiddleware().Middleware,
	}
	if settings.Port > 0 {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
		mux.HandleFunc(StatsPath, b.handleGetStats)
		b.metrics.server = &http.Server{
			Addr:              net.JoinHostPort("", strconv.Itoa(settings.Port)),
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		}
	}
	return nil
}

// addEndpoint subscribes the endpoint to each of its topics. Transports with
// competing consumers get one subscription per concurrency slot.
func (b *Bus) addEndpoint(ep Endpoint) error {
	sub, err := b.transport.Subscribe(ep.Name)
	if err != nil {
		return err
	}

	var handlerFunc message.NoPublishHandlerFunc
	copies := b.caps.SubscriptionsPerEndpoint(b.desc.ConcurrencyLimit())
	if ep.Scheduler {
		handlerFunc = b.scheduler.handle
		copies = 1
	} else {
		handlerFunc = b.endpointHandler(ep)
	}

	var mws []message.HandlerMiddleware
	for _, reg := range b.desc.middlewares() {
		mw, err := reg.build(b, ep)
		if err != nil {
			return err
		}
		if mw != nil {
			mws = append(mws, mw)
		}
	}

	for _, topic := range ep.Topics {
		for i := 0; i < copies; i++ {
			name := fmt.Sprintf("%s/%s/%d", ep.Name, topic, i)
			h := b.router.AddNoPublisherHandler(name, topic, sub, handlerFunc)
			h.AddMiddleware(mws...)
		}
	}

	if !ep.Scheduler {
		b.provision(ep.Name + ErrorQueueSuffix)
		b.provision(ep.Name + SkippedQueueSuffix)
	}
	return nil
}

// provision declares the durable queue behind topic on brokers that have
// one, so faulted messages are kept even before anyone reads them.
func (b *Bus) provision(topic string) {
	if !b.caps.SupportsNativeDLQ {
		return
	}
	sub, err := b.transport.Subscribe(topic)
	if err != nil {
		b.logger.Error("Failed to provision queue", err, loggingpkg.LogFields{"queue": topic})
		return
	}
	b.provisioned = append(b.provisioned, sub)
	initializer, ok := sub.(message.SubscribeInitializer)
	if !ok {
		return
	}
	if err := initializer.SubscribeInitialize(topic); err != nil {
		b.logger.Error("Failed to provision queue", err, loggingpkg.LogFields{"queue": topic})
	}
}

// endpointHandler dispatches deliveries of ep to the binding matching the
// message type. Each invocation holds one slot of the concurrency limiter.
func (b *Bus) endpointHandler(ep Endpoint) message.NoPublishHandlerFunc {
	logger := b.logger.With(loggingpkg.LogFields{"endpoint": ep.Name})

	return func(msg *message.Message) error {
		env, err := envelope.Open(msg)
		if err != nil {
			return &UnprocessableMessageError{MessageID: msg.UUID, Err: err}
		}

		binding, ok := matchBinding(ep.Bindings, env)
		if !ok {
			logger.Warn("No handler for message type, moving to skipped queue", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"message_type": env.MessageType,
			})
			if err := b.transport.Publisher.Publish(ep.Name+SkippedQueueSuffix, msg.Copy()); err != nil {
				return err
			}
			b.queues.Record(ep.Name, MovedSkipped, env.SentTime)
			return nil
		}

		ctx := msg.Context()
		if err := b.limiter.Acquire(ctx, 1); err != nil {
			return err
		}
		defer b.limiter.Release(1)

		hc := HandlerContext{
			HandlerName: binding.Name,
			Endpoint:    ep.Name,
			MessageType: binding.WireType,
			MessageUUID: msg.UUID,
			Metadata:    msg.Metadata,
			Context:     ctx,
		}
		return b.hooks.runWithHooks(hc, func() error {
			return b.invoke(ctx, ep, binding, env, logger)
		})
	}
}

func matchBinding(bindings []HandlerBinding, env *envelope.Envelope) (HandlerBinding, bool) {
	for _, urn := range env.MessageType {
		for _, b := range bindings {
			if b.WireType == urn {
				return b, true
			}
		}
	}
	return HandlerBinding{}, false
}

// invoke runs the binding inside a transaction when the bus is transactional.
func (b *Bus) invoke(ctx context.Context, ep Endpoint, binding HandlerBinding, env *envelope.Envelope, logger loggingpkg.ServiceLogger) error {
	d := &delivery{
		bus:      b,
		endpoint: ep,
		envelope: env,
		out:      b,
		sagas:    b.desc.SagaRepository(),
		logger:   logger,
	}
	if !b.desc.Transactional() {
		return binding.invoke(ctx, d)
	}

	tx := newTransaction(b)
	d.out = tx
	if err := binding.invoke(ctx, d); err != nil {
		if n := tx.rollback(); n > 0 {
			logger.Debug("Discarded outgoing messages of failed handler", loggingpkg.LogFields{
				"message_id": env.MessageID,
				"discarded":  n,
			})
		}
		return err
	}
	return tx.commit(ctx)
}

// dispatch records each message in the outbox, when there is one, and
// publishes it.
func (b *Bus) dispatch(ctx context.Context, msgs ...outgoing) error {
	if b.closed.Load() {
		return errspkg.ErrBusNotRunning
	}
	outbox := b.desc.outbox()
	for _, out := range msgs {
		if outbox != nil {
			if err := outbox.StoreOutgoingMessage(ctx, out.messageType, out.msg.UUID, string(out.msg.Payload)); err != nil {
				return fmt.Errorf("store outgoing %s: %w", out.messageType, err)
			}
		}
		out.msg.SetContext(ctx)
		if err := b.transport.Publisher.Publish(out.topic, out.msg); err != nil {
			return fmt.Errorf("publish %s to %s: %w", out.messageType, out.topic, err)
		}
	}
	return nil
}

func (b *Bus) prepare(payload any, r route, parent *envelope.Envelope, source string) (outgoing, error) {
	urn := naming.MessageURN(reflect.TypeOf(payload))
	if urn == "" {
		return outgoing{}, errspkg.ErrMessageTypeRequired
	}
	out := envelope.Outgoing{
		MessageType:          urn,
		SourceAddress:        source,
		DestinationAddress:   r.address,
		IgnoreReferenceLoops: b.desc.IgnoreReferenceLoops(),
	}
	if parent != nil {
		out.CorrelationID = parent.CorrelationID
		out.ConversationID = parent.ConversationID
		out.InitiatorID = parent.MessageID
	}
	msg, err := envelope.Wrap(payload, out)
	if err != nil {
		return outgoing{}, err
	}
	return outgoing{topic: r.topic, messageType: urn, msg: msg}, nil
}

// prepareScheduled wraps payload for r and redirects it to the scheduler
// queue, which releases it after delay.
func (b *Bus) prepareScheduled(payload any, r route, delay time.Duration, parent *envelope.Envelope, source string) (outgoing, error) {
	if !b.desc.SchedulingEnabled() {
		return outgoing{}, errspkg.ErrSchedulerDisabled
	}
	out, err := b.prepare(payload, r, parent, source)
	if err != nil {
		return outgoing{}, err
	}
	if delay < 0 {
		delay = 0
	}
	out.msg.Metadata.Set(metadatapkg.KeyScheduledFor, time.Now().Add(delay).UTC().Format(time.RFC3339Nano))
	out.msg.Metadata.Set(metadatapkg.KeyScheduledTopic, out.topic)
	out.topic = b.desc.SchedulerQueue()
	return out, nil
}

// Publish sends msg to every endpoint bound to its type.
func (b *Bus) Publish(ctx context.Context, msg any) error {
	r, err := publishRoute(msg)
	if err != nil {
		return err
	}
	return b.sendRoute(ctx, r, msg)
}

// Send delivers msg to address, "queue:<endpoint>" or "exchange:<name>".
func (b *Bus) Send(ctx context.Context, address string, msg any) error {
	r, err := parseAddress(address)
	if err != nil {
		return err
	}
	return b.sendRoute(ctx, r, msg)
}

// SchedulePublish publishes msg after delay.
func (b *Bus) SchedulePublish(ctx context.Context, delay time.Duration, msg any) error {
	r, err := publishRoute(msg)
	if err != nil {
		return err
	}
	out, err := b.prepareScheduled(msg, r, delay, nil, "")
	if err != nil {
		return err
	}
	return b.dispatch(ctx, out)
}

// ScheduleSend sends msg to address after delay.
func (b *Bus) ScheduleSend(ctx context.Context, address string, delay time.Duration, msg any) error {
	r, err := parseAddress(address)
	if err != nil {
		return err
	}
	out, err := b.prepareScheduled(msg, r, delay, nil, "")
	if err != nil {
		return err
	}
	return b.dispatch(ctx, out)
}

func (b *Bus) sendRoute(ctx context.Context, r route, msg any) error {
	out, err := b.prepare(msg, r, nil, "")
	if err != nil {
		return err
	}
	return b.dispatch(ctx, out)
}

// Descriptor returns the description the bus was built from.
func (b *Bus) Descriptor() BusDescriptor { return b.desc }

// Capabilities reports what the connected transport supports.
func (b *Bus) Capabilities() transport.Capabilities { return b.caps }

// Running is closed once every endpoint subscription is live.
func (b *Bus) Running() chan struct{} { return b.router.Running() }

// Run consumes until ctx is cancelled or the bus is closed.
func (b *Bus) Run(ctx context.Context) error {
	b.runMu.Lock()
	if b.closing || b.runStarted {
		b.runMu.Unlock()
		return errspkg.ErrBusNotRunning
	}
	b.runStarted = true
	b.runMu.Unlock()

	if b.metrics != nil && b.metrics.server != nil {
		go b.serveMetrics(b.metrics.server)
	}
	return b.router.Run(ctx)
}

func (b *Bus) serveMetrics(srv *http.Server) {
	b.logger.Info("Serving metrics", loggingpkg.LogFields{"addr": srv.Addr})
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		b.logger.Error("Metrics server stopped", err, nil)
	}
}

// Close stops consuming, waits for in-flight handlers, puts pending
// scheduled messages back on the scheduler queue and disconnects. It is
// safe to call more than once.
func (b *Bus) Close() error {
	b.closeOnce.Do(func() {
		b.runMu.Lock()
		b.closing = true
		started := b.runStarted
		b.runMu.Unlock()

		var errs []error
		if b.router != nil && started {
			errs = append(errs, b.router.Close())
		}
		if b.scheduler != nil {
			b.scheduler.stop()
		}
		b.closed.Store(true)

		for _, sub := range b.provisioned {
			errs = append(errs, sub.Close())
		}
		if b.transport.Publisher != nil {
			errs = append(errs, b.transport.Publisher.Close())
		}
		errs = append(errs, b.transport.Close())

		if b.metrics != nil && b.metrics.server != nil {
			ctx, cancel := context.WithTimeout(context.Background(), metricsShutdownTimeout)
			errs = append(errs, b.metrics.server.Shutdown(ctx))
			cancel()
		}
		b.closeErr = errors.Join(errs...)
	})
	return b.closeErr
}
