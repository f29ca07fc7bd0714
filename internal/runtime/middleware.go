package runtime

import (
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/message/router/middleware"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	idspkg "github.com/drblury/busworker/internal/runtime/ids"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	metadatapkg "github.com/drblury/busworker/internal/runtime/metadata"
)

// ErrorQueueSuffix names the queue failed deliveries of an endpoint move to.
const ErrorQueueSuffix = "_error"

// SkippedQueueSuffix names the queue deliveries no binding accepts move to.
const SkippedQueueSuffix = "_skipped"

// MiddlewareBuilder constructs a handler middleware for one endpoint of a bus.
// Returning a nil middleware skips the registration.
type MiddlewareBuilder func(b *Bus, ep Endpoint) (message.HandlerMiddleware, error)

// MiddlewareRegistration captures how a middleware should be attached to the
// endpoint handlers.
type MiddlewareRegistration struct {
	Name       string
	Middleware message.HandlerMiddleware
	Builder    MiddlewareBuilder
}

// RetryMiddlewareConfig customises the retry middleware behaviour.
type RetryMiddlewareConfig struct {
	MaxRetries      int
	InitialInterval time.Duration
	MaxInterval     time.Duration
	RetryIf         func(error) bool
}

func (cfg RetryMiddlewareConfig) withDefaults() RetryMiddlewareConfig {
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	}
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = time.Second
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = 16 * time.Second
	}
	return cfg
}

// DefaultMiddlewares returns the standard chain around every endpoint
// handler. Failed deliveries are retried, then moved to the endpoint's error
// queue, so a failing handler never stops the endpoint.
func DefaultMiddlewares() []MiddlewareRegistration {
	return []MiddlewareRegistration{
		CorrelationIDMiddleware(),
		LogMessagesMiddleware(nil),
		TracerMiddleware(),
		MetricsMiddleware(),
		ErrorQueueMiddleware(nil),
		RetryMiddleware(),
		CircuitBreakerMiddleware(),
		RecovererMiddleware(),
	}
}

// MetricsMiddleware records Prometheus handler metrics when the bus has
// metrics enabled.
func MetricsMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "metrics",
		Builder: func(b *Bus, _ Endpoint) (message.HandlerMiddleware, error) {
			if b.metrics == nil {
				return nil, nil
			}
			return b.metrics.middleware, nil
		},
	}
}

// CorrelationIDMiddleware ensures each processed message carries a correlation identifier.
func CorrelationIDMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "correlation_id",
		Middleware: correlationIDMiddleware,
	}
}

// LogMessagesMiddleware logs the payload and metadata of handled messages at
// debug level. A nil logger uses the bus logger.
func LogMessagesMiddleware(logger loggingpkg.ServiceLogger) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "log_messages",
		Builder: func(b *Bus, ep Endpoint) (message.HandlerMiddleware, error) {
			l := logger
			if l == nil {
				l = b.logger
			}
			if l == nil {
				return nil, errors.New("log messages middleware requires a logger")
			}
			return logMessagesMiddleware(l.With(loggingpkg.LogFields{"endpoint": ep.Name})), nil
		},
	}
}

// TracerMiddleware wraps handler execution in an OpenTelemetry span.
func TracerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "tracer",
		Builder: func(_ *Bus, ep Endpoint) (message.HandlerMiddleware, error) {
			return tracerMiddleware(ep.Name), nil
		},
	}
}

// RetryMiddleware retries failed deliveries using the bus retry policy.
// Unprocessable messages are never retried.
func RetryMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "retry",
		Builder: func(b *Bus, _ Endpoint) (message.HandlerMiddleware, error) {
			policy := b.desc.Retry()
			if policy.MaxRetries <= 0 {
				return nil, nil
			}
			return retryMiddlewareWithConfig(RetryMiddlewareConfig{
				MaxRetries:      policy.MaxRetries,
				InitialInterval: policy.InitialInterval,
				MaxInterval:     policy.MaxInterval,
				RetryIf:         func(err error) bool { return !IsUnprocessable(err) },
			}, b.watermillLogger), nil
		},
	}
}

// ErrorQueueMiddleware moves deliveries whose error matches filter to the
// endpoint's "<endpoint>_error" queue and acknowledges them. A nil filter
// matches every error.
func ErrorQueueMiddleware(filter func(error) bool) MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "error_queue",
		Builder: func(b *Bus, ep Endpoint) (message.HandlerMiddleware, error) {
			f := filter
			if f == nil {
				f = func(error) bool { return true }
			}
			if b.transport.Publisher == nil {
				return nil, errors.New("publisher is required for error queue middleware")
			}
			poison, err := middleware.PoisonQueueWithFilter(b.transport.Publisher, ep.Name+ErrorQueueSuffix, f)
			if err != nil {
				return nil, err
			}
			return func(h message.HandlerFunc) message.HandlerFunc {
				return poison(countFaulted(b.queues, ep.Name, f, h))
			}, nil
		},
	}
}

// countFaulted records deliveries whose error the poison queue is about to
// take.
func countFaulted(queues *QueueMetrics, endpoint string, filter func(error) bool, h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		msgs, err := h(msg)
		if err != nil && filter(err) {
			sent, _ := time.Parse(time.RFC3339Nano, msg.Metadata.Get(metadatapkg.KeySentTime))
			queues.Record(endpoint, MovedFaulted, sent)
		}
		return msgs, err
	}
}

// CircuitBreakerMiddleware stops calling a failing endpoint handler for a
// while when the bus has circuit breaker settings.
func CircuitBreakerMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name: "circuit_breaker",
		Builder: func(b *Bus, ep Endpoint) (message.HandlerMiddleware, error) {
			settings := b.desc.circuitBreaker()
			if settings == nil {
				return nil, nil
			}
			s := *settings
			if s.Name == "" {
				s.Name = ep.Name
			}
			return middleware.NewCircuitBreaker(s).Middleware, nil
		},
	}
}

// RecovererMiddleware converts panics into handler errors so they can be retried or sent to the error queue.
func RecovererMiddleware() MiddlewareRegistration {
	return MiddlewareRegistration{
		Name:       "recoverer",
		Middleware: middleware.Recoverer,
	}
}

func (r MiddlewareRegistration) build(b *Bus, ep Endpoint) (message.HandlerMiddleware, error) {
	switch {
	case r.Middleware != nil:
		return r.Middleware, nil
	case r.Builder != nil:
		mw, err := r.Builder(b, ep)
		if err != nil {
			return nil, fmt.Errorf("middleware %s: %w", r.Name, err)
		}
		return mw, nil
	default:
		return nil, fmt.Errorf("middleware %s: registration requires Middleware or Builder", r.Name)
	}
}

// correlationIDMiddleware injects a correlation ID into the message metadata when missing.
func correlationIDMiddleware(h message.HandlerFunc) message.HandlerFunc {
	return func(msg *message.Message) ([]*message.Message, error) {
		if msg.Metadata.Get(metadatapkg.KeyCorrelationID) == "" {
			msg.Metadata.Set(metadatapkg.KeyCorrelationID, idspkg.NewCorrelationID())
		}
		return h(msg)
	}
}

// logMessagesMiddleware logs all processed messages with their metadata.
func logMessagesMiddleware(logger loggingpkg.ServiceLogger) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			logger.Debug("Processing message", loggingpkg.LogFields{
				"message_uuid": msg.UUID,
				"payload":      string(msg.Payload),
				"metadata":     msg.Metadata,
			})
			return h(msg)
		}
	}
}

func retryMiddlewareWithConfig(cfg RetryMiddlewareConfig, logger watermill.LoggerAdapter) message.HandlerMiddleware {
	normalized := cfg.withDefaults()
	return middleware.Retry{
		MaxRetries:      normalized.MaxRetries,
		InitialInterval: normalized.InitialInterval,
		MaxInterval:     normalized.MaxInterval,
		Multiplier:      2,
		Logger:          logger,
		ShouldRetry: func(params middleware.RetryParams) bool {
			if normalized.RetryIf != nil {
				return normalized.RetryIf(params.Err)
			}
			return true
		},
	}.Middleware
}

// tracerMiddleware wraps message handling with an OpenTelemetry span.
func tracerMiddleware(endpoint string) message.HandlerMiddleware {
	return func(h message.HandlerFunc) message.HandlerFunc {
		return func(msg *message.Message) ([]*message.Message, error) {
			tracer := otel.Tracer("busworker")
			ctx, span := tracer.Start(
				msg.Context(),
				"ProcessMessage",
			)
			defer span.End()
			msg.SetContext(ctx)

			span.SetAttributes(
				attribute.String("message.uuid", msg.UUID),
				attribute.String("message.type", msg.Metadata.Get(metadatapkg.KeyMessageType)),
				attribute.String("messaging.destination", endpoint),
			)
			return h(msg)
		}
	}
}
