/*
Package runtime provides the bus and worker lifecycle behind busworker.

# Architecture Overview

The runtime package builds a message bus on top of Watermill. Handlers are
registered against Go message types, grouped into receive endpoints, and
served by one router per bus. Every handler invocation shares a single
concurrency limit.

# Package Structure

## Handler Registration (registry.go, saga_handlers.go)

Modules add consumers, saga steps and routing-slip activities to a
HandlerRegistry. A message type may be bound once.

## Bus Description (bus.go)

BusConfigurator.Describe turns configuration and registered handlers into a
frozen BusDescriptor without touching the network:
  - scheduler endpoint (when a scheduler queue is configured)
  - kebab-case endpoint naming
  - transactional enlistment of outgoing messages
  - saga repository
  - transport settings, then transport and bus customizations in order

## Bus (busrun.go, consume.go, routing.go, transaction.go, scheduler.go)

BusConfigurator.Build connects the transport and wires one router handler
per endpoint subscription. Handlers publish and send through their
ConsumeContext; on a transactional bus those messages wait for the handler
to succeed. Scheduled messages pass through the scheduler endpoint.

## Middleware (middleware.go, hooks.go)

Each endpoint handler runs inside this chain, outermost first:
  - CorrelationID: Ensures message traceability
  - LogMessages: Debug logging of message payloads
  - Tracer: OpenTelemetry distributed tracing
  - Metrics: Prometheus metrics collection
  - ErrorQueue: Moves failed deliveries to "<endpoint>_error"
  - Retry: Exponential backoff retry logic
  - CircuitBreaker: Optional, per endpoint
  - Recoverer: Panic recovery

## Stats & Monitoring (handler_stats.go, queue_metrics.go, stats_http.go)

Per-handler latency percentiles, throughput and error categories, and counts
of deliveries moved to side queues. Served on /api/handlers next to /metrics.

## Worker (worker.go)

Worker drives a bus through Created, Starting, Running, Stopping, Stopped and
Faulted. Start and Stop never fail the caller; Stop is bounded by a timeout.

# Sub-packages

  - config/: Broker and worker settings with layered resolution
  - envelope/: Wire envelope encoding
  - errors/: Sentinel errors
  - ids/: ULID and message id generation
  - jsoncodec/: JSON marshaling utilities
  - logging/: Logger interface and adapters
  - metadata/: Message metadata utilities
  - naming/: Endpoint names and message URNs
  - saga/: Saga instance storage

# Usage Example

	registry, err := runtime.NewHandlerRegistry(runtime.ModuleFunc(func(r *runtime.HandlerRegistry) error {
		return runtime.AddConsumer(r, "", func(ctx context.Context, cc *runtime.ConsumeContext[contracts.RuleEngineCommand]) error {
			cc.Logger.Info("Processing", nil)
			return nil
		})
	}))

	worker := runtime.NewWorker(conf, logger, runtime.WorkerDependencies{Registry: registry})
	worker.Start()
	defer worker.Stop()
*/
package runtime
