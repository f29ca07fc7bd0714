package busworker

import (
	"github.com/drblury/busworker/internal/host"
	runtimepkg "github.com/drblury/busworker/internal/runtime"
	configpkg "github.com/drblury/busworker/internal/runtime/config"
	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	"github.com/drblury/busworker/internal/runtime/jsoncodec"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	metadatapkg "github.com/drblury/busworker/internal/runtime/metadata"
	"github.com/drblury/busworker/internal/runtime/naming"
	"github.com/drblury/busworker/internal/runtime/saga"
	"github.com/drblury/busworker/transport"
)

type (
	Config       = configpkg.Config
	BrokerConfig = configpkg.BrokerConfig
	WorkerConfig = configpkg.WorkerConfig
	ConfigSource = configpkg.Source
	Fallback     = configpkg.Fallback

	Module          = runtimepkg.Module
	ModuleFunc      = runtimepkg.ModuleFunc
	HandlerRegistry = runtimepkg.HandlerRegistry
	HandlerBinding  = runtimepkg.HandlerBinding
	HandlerKind     = runtimepkg.HandlerKind

	Handler[T any]        = runtimepkg.Handler[T]
	Consumer[T any]       = runtimepkg.Consumer[T]
	Activity[A any]       = runtimepkg.Activity[A]
	ConsumeContext[T any] = runtimepkg.ConsumeContext[T]
	SagaHandler[T, S any] = runtimepkg.SagaHandler[T, S]
	SagaInstance[S any]   = runtimepkg.SagaInstance[S]
	SagaRepository        = saga.Repository

	UnprocessableMessageError = runtimepkg.UnprocessableMessageError

	BusConfigurator        = runtimepkg.BusConfigurator
	BusOptions             = runtimepkg.BusOptions
	BusSpec                = runtimepkg.BusSpec
	BusDescriptor          = runtimepkg.BusDescriptor
	BuildContext           = runtimepkg.BuildContext
	TransportSettings      = runtimepkg.TransportSettings
	TransportCustomization = runtimepkg.TransportCustomization
	BusCustomization       = runtimepkg.BusCustomization
	RetryPolicy            = runtimepkg.RetryPolicy
	MetricsSettings        = runtimepkg.MetricsSettings
	Endpoint               = runtimepkg.Endpoint
	OutboxStore            = runtimepkg.OutboxStore

	Bus          = runtimepkg.Bus
	BusStats     = runtimepkg.BusStats
	HandlerStats = runtimepkg.HandlerStats
	QueueStats   = runtimepkg.QueueStats
	QueueMetrics = runtimepkg.QueueMetrics

	Worker             = runtimepkg.Worker
	WorkerDependencies = runtimepkg.WorkerDependencies
	LifecycleState     = runtimepkg.LifecycleState

	HandlerHooks           = runtimepkg.HandlerHooks
	HandlerContext         = runtimepkg.HandlerContext
	MiddlewareBuilder      = runtimepkg.MiddlewareBuilder
	MiddlewareRegistration = runtimepkg.MiddlewareRegistration
	RetryMiddlewareConfig  = runtimepkg.RetryMiddlewareConfig

	ServiceLogger = loggingpkg.ServiceLogger
	LogFields     = loggingpkg.LogFields
	Metadata      = metadatapkg.Metadata
	MarshalOption = jsoncodec.Option

	Host          = host.Host
	HostOption    = host.Option
	HostLifecycle = host.Lifecycle
	HostRunner    = host.Runner

	TransportRegistry = transport.Registry
	TransportBuilder  = transport.Builder
	TransportConfig   = transport.Config
	Capabilities      = transport.Capabilities
)

const (
	StateCreated  = runtimepkg.StateCreated
	StateStarting = runtimepkg.StateStarting
	StateRunning  = runtimepkg.StateRunning
	StateStopping = runtimepkg.StateStopping
	StateStopped  = runtimepkg.StateStopped
	StateFaulted  = runtimepkg.StateFaulted

	KindConsumer = runtimepkg.KindConsumer
	KindSaga     = runtimepkg.KindSaga
	KindActivity = runtimepkg.KindActivity

	ErrorQueueSuffix   = runtimepkg.ErrorQueueSuffix
	SkippedQueueSuffix = runtimepkg.SkippedQueueSuffix
	StatsPath          = runtimepkg.StatsPath
)

var (
	DefaultConfig      = configpkg.Default
	LoadConfig         = configpkg.Load
	ResolveConfig      = configpkg.Resolve
	ResolveBroker      = configpkg.ResolveBroker
	ArgsSource         = configpkg.ArgsSource
	EnvSource          = configpkg.EnvSource
	FileSource         = configpkg.FileSource
	ValidateConfig     = configpkg.ValidateConfig
	RunningInContainer = configpkg.RunningInContainer

	NewHandlerRegistry = runtimepkg.NewHandlerRegistry
	NewBusConfigurator = runtimepkg.NewBusConfigurator
	NewWorker          = runtimepkg.NewWorker
	StartWorker        = runtimepkg.StartWorker
	QueueAddress       = runtimepkg.QueueAddress
	IsUnprocessable    = runtimepkg.IsUnprocessable

	NewInMemorySagaRepository = saga.NewInMemoryRepository
	NewQueueMetrics           = runtimepkg.NewQueueMetrics

	DefaultMiddlewares       = runtimepkg.DefaultMiddlewares
	CorrelationIDMiddleware  = runtimepkg.CorrelationIDMiddleware
	LogMessagesMiddleware    = runtimepkg.LogMessagesMiddleware
	TracerMiddleware         = runtimepkg.TracerMiddleware
	MetricsMiddleware        = runtimepkg.MetricsMiddleware
	ErrorQueueMiddleware     = runtimepkg.ErrorQueueMiddleware
	RetryMiddleware          = runtimepkg.RetryMiddleware
	CircuitBreakerMiddleware = runtimepkg.CircuitBreakerMiddleware
	RecovererMiddleware      = runtimepkg.RecovererMiddleware
	LoggingHooks             = runtimepkg.LoggingHooks

	NewHost           = host.New
	WithLogger        = host.WithLogger
	WithServiceConfig = host.WithServiceConfig
	WithRunner        = host.WithRunner
	WithExecutableDir = host.WithExecutableDir

	NewSlogServiceLogger      = loggingpkg.NewSlogServiceLogger
	NewWatermillServiceLogger = loggingpkg.NewWatermillServiceLogger
	NopLogger                 = loggingpkg.NopLogger

	NewMetadata = metadatapkg.New

	EndpointName = naming.EndpointName
	KebabCase    = naming.KebabCase

	Marshal     = jsoncodec.Marshal
	IgnoreLoops = jsoncodec.IgnoreLoops
	Unmarshal   = jsoncodec.Unmarshal

	DefaultTransportRegistry = transport.DefaultRegistry
	RegisterTransport        = transport.Register

	ErrRegistryRequired    = errspkg.ErrRegistryRequired
	ErrHandlerRequired     = errspkg.ErrHandlerRequired
	ErrMessageTypeRequired = errspkg.ErrMessageTypeRequired
	ErrDuplicateHandler    = errspkg.ErrDuplicateHandler
	ErrSagaNameRequired    = errspkg.ErrSagaNameRequired
	ErrCorrelationRequired = errspkg.ErrCorrelationRequired
	ErrModuleRequired      = errspkg.ErrModuleRequired
	ErrUnknownAddress      = errspkg.ErrUnknownAddress
	ErrSchedulerDisabled   = errspkg.ErrSchedulerDisabled
	ErrSchedulerStopped    = errspkg.ErrSchedulerStopped
	ErrBusNotRunning       = errspkg.ErrBusNotRunning
	ErrConcurrencyLimit    = errspkg.ErrConcurrencyLimit
	ErrSagaVersionConflict = errspkg.ErrSagaVersionConflict
)

func AddConsumer[T any](r *HandlerRegistry, name string, handler Handler[T]) error {
	return runtimepkg.AddConsumer[T](r, name, handler)
}

func RegisterConsumer[T any](r *HandlerRegistry, c Consumer[T]) error {
	return runtimepkg.RegisterConsumer[T](r, c)
}

func AddActivity[A any](r *HandlerRegistry, name string, activity Activity[A]) error {
	return runtimepkg.AddActivity[A](r, name, activity)
}

func AddSagaHandler[T, S any](r *HandlerRegistry, sagaName string, correlate func(T) string, handler SagaHandler[T, S]) error {
	return runtimepkg.AddSagaHandler[T, S](r, sagaName, correlate, handler)
}

// MessageURN is the wire type of T, as carried in the envelope's
// messageType list.
func MessageURN[T any]() string {
	return naming.URNFor[T]()
}

// WorkerLifecycle adapts a worker to the host's runners.
func WorkerLifecycle(w *Worker) HostLifecycle { return w }
