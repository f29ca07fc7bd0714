package runtime

import (
	"context"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
)

// HandlerContext provides information about one handler invocation to hooks.
type HandlerContext struct {
	// HandlerName is the name of the binding processing the message.
	HandlerName string
	// Endpoint is the receive endpoint the message was delivered to.
	Endpoint string
	// MessageType is the URN of the message.
	MessageType string
	// MessageUUID is the unique identifier of the message.
	MessageUUID string
	// Metadata contains the message metadata.
	Metadata message.Metadata
	// Context is the context associated with the message.
	Context context.Context
	// StartedAt is when the handler started processing.
	StartedAt time.Time
	// Duration is how long the handler took (only set in OnHandlerDone and OnHandlerError).
	Duration time.Duration
}

// HandlerHooks defines callbacks around handler invocations. Hooks run inside
// the concurrency limit, once per attempt.
// All hooks are optional - nil hooks are simply not called.
type HandlerHooks struct {
	// OnHandlerStart is called before the handler is invoked.
	OnHandlerStart func(ctx HandlerContext)

	// OnHandlerDone is called when a handler successfully completes processing.
	OnHandlerDone func(ctx HandlerContext)

	// OnHandlerError is called when a handler returns an error.
	OnHandlerError func(ctx HandlerContext, err error)
}

// Merge combines two HandlerHooks, creating a new HandlerHooks that calls both.
// The hooks from 'other' are called after the hooks from 'h'.
func (h HandlerHooks) Merge(other HandlerHooks) HandlerHooks {
	return HandlerHooks{
		OnHandlerStart: chainHooks(h.OnHandlerStart, other.OnHandlerStart),
		OnHandlerDone:  chainHooks(h.OnHandlerDone, other.OnHandlerDone),
		OnHandlerError: chainErrorHooks(h.OnHandlerError, other.OnHandlerError),
	}
}

func chainHooks(a, b func(HandlerContext)) func(HandlerContext) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext) {
		a(ctx)
		b(ctx)
	}
}

func chainErrorHooks(a, b func(HandlerContext, error)) func(HandlerContext, error) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx HandlerContext, err error) {
		a(ctx, err)
		b(ctx, err)
	}
}

// runWithHooks invokes fn between the start and completion hooks.
func (h HandlerHooks) runWithHooks(hc HandlerContext, fn func() error) error {
	hc.StartedAt = time.Now()
	if h.OnHandlerStart != nil {
		h.OnHandlerStart(hc)
	}

	// A panic is reported as an error and re-raised for the recoverer.
	defer func() {
		if r := recover(); r != nil {
			h.finish(hc, fmt.Errorf("panic: %v", r))
			panic(r)
		}
	}()

	err := fn()
	h.finish(hc, err)
	return err
}

func (h HandlerHooks) finish(hc HandlerContext, err error) {
	hc.Duration = time.Since(hc.StartedAt)
	if err != nil {
		if h.OnHandlerError != nil {
			h.OnHandlerError(hc, err)
		}
	} else if h.OnHandlerDone != nil {
		h.OnHandlerDone(hc)
	}
}

// LoggingHooks returns pre-built hooks that log handler invocations.
func LoggingHooks(logger loggingpkg.ServiceLogger) HandlerHooks {
	return HandlerHooks{
		OnHandlerStart: func(ctx HandlerContext) {
			logger.Debug("Handler started", loggingpkg.LogFields{
				"handler":      ctx.HandlerName,
				"endpoint":     ctx.Endpoint,
				"message_type": ctx.MessageType,
				"message_uuid": ctx.MessageUUID,
			})
		},
		OnHandlerDone: func(ctx HandlerContext) {
			logger.Info("Handler completed", loggingpkg.LogFields{
				"handler":      ctx.HandlerName,
				"endpoint":     ctx.Endpoint,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
		OnHandlerError: func(ctx HandlerContext, err error) {
			logger.Error("Handler failed", err, loggingpkg.LogFields{
				"handler":      ctx.HandlerName,
				"endpoint":     ctx.Endpoint,
				"message_uuid": ctx.MessageUUID,
				"duration_ms":  ctx.Duration.Milliseconds(),
			})
		},
	}
}
