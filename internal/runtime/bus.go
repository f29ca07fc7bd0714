package runtime

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/sony/gobreaker"

	"github.com/drblury/busworker/internal/runtime/config"
	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	"github.com/drblury/busworker/internal/runtime/naming"
	"github.com/drblury/busworker/internal/runtime/saga"
	"github.com/drblury/busworker/transport"
)

// TransportSettings is the broker connection part of a bus. It satisfies
// transport.Config.
type TransportSettings struct {
	// System names the registered transport, e.g. "rabbitmq".
	System    string
	Host      string
	Partition string
	UserName  string
	Password  string
	// PrefetchCount is the number of unacknowledged deliveries the broker
	// may hand to one consumer.
	PrefetchCount int
}

func (t TransportSettings) GetPubSubSystem() string  { return t.System }
func (t TransportSettings) GetHost() string          { return t.Host }
func (t TransportSettings) GetPath() string          { return t.Partition }
func (t TransportSettings) GetUserName() string      { return t.UserName }
func (t TransportSettings) GetPassWord() string      { return t.Password }
func (t TransportSettings) GetConcurrencyLimit() int { return t.PrefetchCount }

func (t TransportSettings) String() string {
	pass := ""
	if t.Password != "" {
		pass = "***REDACTED***"
	}
	return fmt.Sprintf("{System:%s Host:%s Partition:%s UserName:%s Password:%s PrefetchCount:%d}",
		t.System, t.Host, t.Partition, t.UserName, pass, t.PrefetchCount)
}

// RetryPolicy controls redelivery of failed handler invocations. MaxRetries
// zero disables retries.
type RetryPolicy struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// MetricsSettings exposes Prometheus metrics for the bus router.
type MetricsSettings struct {
	Enabled bool
	// Port serves /metrics when greater than zero.
	Port int
}

// BusSpec is the mutable bus description customizations work on. Describe
// freezes it into a BusDescriptor.
type BusSpec struct {
	Transport TransportSettings
	// SchedulerQueue names the scheduler endpoint; empty disables scheduling.
	SchedulerQueue string
	// EndpointFormatter turns binding names into endpoint names.
	EndpointFormatter func(string) string
	// Transactional holds back messages produced by a handler until it
	// succeeds. This is best effort: a crash between the handler and the
	// release of its messages loses them, and a failed release redelivers
	// the input.
	Transactional        bool
	Outbox               OutboxStore
	SagaRepository       saga.Repository
	Bindings             []HandlerBinding
	ConcurrencyLimit     int
	IgnoreReferenceLoops bool
	Retry                RetryPolicy
	Hooks                HandlerHooks
	Metrics              MetricsSettings
	// CircuitBreaker, when set, trips the endpoints' handlers after
	// repeated failures.
	CircuitBreaker *gobreaker.Settings
	// Middlewares wrap every endpoint handler, first entry outermost.
	Middlewares []MiddlewareRegistration
}

// BuildContext is passed to customizations.
type BuildContext struct {
	Config             config.Config
	RunningInContainer bool
	Logger             loggingpkg.ServiceLogger
}

// TransportCustomization adjusts the broker connection settings.
type TransportCustomization func(ctx BuildContext, settings *TransportSettings)

// BusCustomization adjusts the whole bus specification.
type BusCustomization func(ctx BuildContext, spec *BusSpec)

// BusOptions carries everything a BusConfigurator needs besides the
// configuration and the handlers.
type BusOptions struct {
	// TransportCustomizations run in order, before BusCustomizations.
	TransportCustomizations []TransportCustomization
	BusCustomizations       []BusCustomization
	// Transports resolves the transport by name; nil means
	// transport.DefaultRegistry.
	Transports *transport.Registry
	Outbox     OutboxStore
	Hooks      HandlerHooks
	// RunningInContainer overrides container detection.
	RunningInContainer func() bool
}

// BusConfigurator turns configuration and handlers into a bus. Describe does
// no I/O; Build connects.
type BusConfigurator struct {
	conf     config.Config
	registry *HandlerRegistry
	opts     BusOptions
	logger   loggingpkg.ServiceLogger
}

// NewBusConfigurator returns a configurator. A nil registry means a bus
// without handlers, which can still publish.
func NewBusConfigurator(conf config.Config, registry *HandlerRegistry, logger loggingpkg.ServiceLogger, opts BusOptions) *BusConfigurator {
	if logger == nil {
		logger = loggingpkg.NopLogger()
	}
	if opts.Transports == nil {
		opts.Transports = transport.DefaultRegistry
	}
	if opts.RunningInContainer == nil {
		opts.RunningInContainer = config.RunningInContainer
	}
	return &BusConfigurator{conf: conf, registry: registry, opts: opts, logger: logger}
}

// Describe assembles the bus description: scheduler, endpoint naming,
// transactional enlistment, saga storage, handler bindings and transport
// settings, then runs the customizations in order.
func (c *BusConfigurator) Describe() (BusDescriptor, error) {
	broker := c.conf.Broker
	worker := c.conf.Worker

	spec := BusSpec{}
	if name := strings.TrimSpace(worker.SchedulerQueueName); name != "" {
		spec.SchedulerQueue = name
	}
	spec.EndpointFormatter = naming.KebabCase
	spec.Transactional = worker.UseTransactionalBus
	spec.Outbox = c.opts.Outbox
	spec.SagaRepository = saga.NewInMemoryRepository()
	spec.Bindings = c.registry.Bindings()
	spec.Transport = TransportSettings{
		System:        worker.PubSubSystem,
		Host:          broker.Host,
		Partition:     broker.Path,
		UserName:      broker.UserName,
		Password:      broker.PassWord,
		PrefetchCount: broker.ConcurrencyLimit,
	}
	spec.ConcurrencyLimit = broker.ConcurrencyLimit
	spec.IgnoreReferenceLoops = true
	spec.Retry = RetryPolicy{
		MaxRetries:      worker.RetryMaxRetries,
		InitialInterval: worker.RetryInitialInterval,
		MaxInterval:     worker.RetryMaxInterval,
	}
	spec.Hooks = c.opts.Hooks
	spec.Metrics = MetricsSettings{Enabled: worker.MetricsEnabled, Port: worker.MetricsPort}
	spec.Middlewares = DefaultMiddlewares()

	ctx := BuildContext{
		Config:             c.conf,
		RunningInContainer: c.opts.RunningInContainer(),
		Logger:             c.logger,
	}
	for _, customize := range c.opts.TransportCustomizations {
		if customize != nil {
			customize(ctx, &spec.Transport)
		}
	}
	for _, customize := range c.opts.BusCustomizations {
		if customize != nil {
			customize(ctx, &spec)
		}
	}

	return freeze(spec)
}

// freeze validates spec and groups its bindings into endpoints.
func freeze(spec BusSpec) (BusDescriptor, error) {
	if spec.ConcurrencyLimit < 1 {
		return BusDescriptor{}, fmt.Errorf("%w, got %d", errspkg.ErrConcurrencyLimit, spec.ConcurrencyLimit)
	}
	if spec.EndpointFormatter == nil {
		spec.EndpointFormatter = naming.KebabCase
	}
	if spec.SagaRepository == nil {
		spec.SagaRepository = saga.NewInMemoryRepository()
	}
	spec.SchedulerQueue = strings.TrimSpace(spec.SchedulerQueue)
	spec.Bindings = slices.Clone(spec.Bindings)
	spec.Middlewares = slices.Clone(spec.Middlewares)

	var endpoints []Endpoint
	index := make(map[string]int)
	seen := make(map[string]string)
	for _, b := range spec.Bindings {
		if owner, dup := seen[b.WireType]; dup {
			return BusDescriptor{}, fmt.Errorf("%w: %s is handled by %s, cannot bind %s", errspkg.ErrDuplicateHandler, b.WireType, owner, b.Name)
		}
		seen[b.WireType] = b.Name

		name := spec.EndpointFormatter(b.EndpointBase)
		if b.Kind == KindActivity {
			name += ActivityEndpointSuffix
		}
		if name == "" {
			return BusDescriptor{}, fmt.Errorf("%w: binding %s", errspkg.ErrEndpointNameRequired, b.Name)
		}
		if name == spec.SchedulerQueue {
			return BusDescriptor{}, fmt.Errorf("endpoint %q of %s collides with the scheduler queue", name, b.Name)
		}

		i, ok := index[name]
		if !ok {
			i = len(endpoints)
			index[name] = i
			endpoints = append(endpoints, Endpoint{
				Name:    name,
				Address: QueueAddress(name),
				Topics:  []string{name},
			})
		}
		ep := &endpoints[i]
		ep.Bindings = append(ep.Bindings, b)
		if !slices.Contains(ep.Topics, b.Topic) {
			ep.Topics = append(ep.Topics, b.Topic)
		}
	}

	if spec.SchedulerQueue != "" {
		endpoints = append(endpoints, Endpoint{
			Name:      spec.SchedulerQueue,
			Address:   QueueAddress(spec.SchedulerQueue),
			Topics:    []string{spec.SchedulerQueue},
			Scheduler: true,
		})
	}

	return BusDescriptor{spec: spec, endpoints: endpoints}, nil
}

// Endpoint is a receive endpoint: one queue (or consumer group) reading the
// topics of the messages bound to it plus its own send address.
type Endpoint struct {
	Name    string
	Address string
	Topics  []string
	// Bindings is empty on the scheduler endpoint.
	Bindings  []HandlerBinding
	Scheduler bool
}

func (e Endpoint) clone() Endpoint {
	e.Topics = slices.Clone(e.Topics)
	e.Bindings = slices.Clone(e.Bindings)
	return e
}

// BusDescriptor is the frozen bus description. Accessors return copies.
type BusDescriptor struct {
	spec      BusSpec
	endpoints []Endpoint
}

func (d BusDescriptor) Transport() TransportSettings { return d.spec.Transport }
func (d BusDescriptor) ConcurrencyLimit() int        { return d.spec.ConcurrencyLimit }
func (d BusDescriptor) Transactional() bool          { return d.spec.Transactional }
func (d BusDescriptor) IgnoreReferenceLoops() bool   { return d.spec.IgnoreReferenceLoops }
func (d BusDescriptor) Retry() RetryPolicy           { return d.spec.Retry }
func (d BusDescriptor) Metrics() MetricsSettings     { return d.spec.Metrics }
func (d BusDescriptor) SagaRepository() saga.Repository {
	return d.spec.SagaRepository
}

// SchedulingEnabled reports whether a scheduler endpoint is part of the bus.
func (d BusDescriptor) SchedulingEnabled() bool { return d.spec.SchedulerQueue != "" }

// SchedulerQueue is the scheduler endpoint name, empty when disabled.
func (d BusDescriptor) SchedulerQueue() string { return d.spec.SchedulerQueue }

// SchedulerAddress is "queue:<scheduler>", empty when disabled.
func (d BusDescriptor) SchedulerAddress() string {
	if !d.SchedulingEnabled() {
		return ""
	}
	return QueueAddress(d.spec.SchedulerQueue)
}

// Endpoints lists every receive endpoint, the scheduler last.
func (d BusDescriptor) Endpoints() []Endpoint {
	out := make([]Endpoint, len(d.endpoints))
	for i, ep := range d.endpoints {
		out[i] = ep.clone()
	}
	return out
}

// Endpoint looks up an endpoint by name.
func (d BusDescriptor) Endpoint(name string) (Endpoint, bool) {
	for _, ep := range d.endpoints {
		if ep.Name == name {
			return ep.clone(), true
		}
	}
	return Endpoint{}, false
}

// Bindings lists every handler binding in registration order.
func (d BusDescriptor) Bindings() []HandlerBinding {
	return slices.Clone(d.spec.Bindings)
}

func (d BusDescriptor) hooks() HandlerHooks                   { return d.spec.Hooks }
func (d BusDescriptor) outbox() OutboxStore                   { return d.spec.Outbox }
func (d BusDescriptor) circuitBreaker() *gobreaker.Settings   { return d.spec.CircuitBreaker }
func (d BusDescriptor) middlewares() []MiddlewareRegistration { return d.spec.Middlewares }
