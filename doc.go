// Package busworker hosts message handlers on a broker through Watermill.
// It reads the broker connection and worker settings from the command line,
// the environment and appsettings.json, builds a bus for the handlers that
// modules register, and drives it through a small start/stop lifecycle that
// never panics or returns errors to the process shell.
//
// Handlers are registered per message type with AddConsumer, RegisterConsumer,
// AddActivity or AddSagaHandler. Message types are routed by their fully
// qualified name, so a type that crosses service boundaries pins its wire
// namespace with a MessageNamespace method. Each handler gets an endpoint
// named after it in kebab case ("RuleEngineCommandConsumer" consumes from
// "rule-engine-command").
//
// # Transports
//
// The transport is chosen by WorkerConfig.PubSubSystem. Import
// transport/transports to register all of them, or a single package:
//   - rabbitmq: the default; durable queues with prefetch set to the
//     concurrency limit
//   - nats: core NATS subjects
//   - kafka: consumer groups
//   - channel: in-memory Go channels for tests and local runs
//
// # Lifecycle
//
// A Worker moves from Created through Starting and Running to Stopping and
// Stopped. A start failure or a stop that does not finish within
// WorkerConfig.StopTimeout leaves it Faulted. At most
// BrokerConfig.ConcurrencyLimit handlers run at the same time across the
// whole bus.
//
// # Hosting
//
// NewHost runs a worker either from a console, until Ctrl+C, or under the
// operating system's service manager; the mode is detected at start.
// WithExecutableDir resolves relative paths such as the settings file next
// to the binary.
//
// # Middleware
//
// Every endpoint handler is wrapped with correlation ids, message logging,
// OpenTelemetry tracing, Prometheus metrics, an error queue for messages
// that still fail after retries, retries with exponential backoff, an
// optional circuit breaker and panic recovery. BusCustomization callbacks
// can replace the chain through BusSpec.Middlewares.
package busworker
