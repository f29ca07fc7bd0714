package runtime

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/drblury/busworker/internal/runtime/envelope"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	"github.com/drblury/busworker/internal/runtime/saga"
)

// UnprocessableMessageError marks a delivery that can never succeed, such as
// a body that does not decode into the bound message type. It is not retried.
type UnprocessableMessageError struct {
	MessageID string
	Err       error
}

func (e *UnprocessableMessageError) Error() string {
	return "unprocessable message " + e.MessageID + ": " + e.Err.Error()
}

func (e *UnprocessableMessageError) Unwrap() error { return e.Err }

// IsUnprocessable reports whether err, or an error it wraps, is an
// UnprocessableMessageError.
func IsUnprocessable(err error) bool {
	var target *UnprocessableMessageError
	return errors.As(err, &target)
}

// delivery is one received message on its way to a unit of work.
type delivery struct {
	bus      *Bus
	endpoint Endpoint
	envelope *envelope.Envelope
	out      dispatcher
	sagas    saga.Repository
	logger   loggingpkg.ServiceLogger
}

func (d *delivery) publish(ctx context.Context, payload any) error {
	r, err := publishRoute(payload)
	if err != nil {
		return err
	}
	return d.send(ctx, r, payload)
}

func (d *delivery) sendTo(ctx context.Context, address string, payload any) error {
	r, err := parseAddress(address)
	if err != nil {
		return err
	}
	return d.send(ctx, r, payload)
}

func (d *delivery) send(ctx context.Context, r route, payload any) error {
	out, err := d.bus.prepare(payload, r, d.envelope, d.endpoint.Address)
	if err != nil {
		return err
	}
	return d.out.dispatch(ctx, out)
}

func (d *delivery) schedule(ctx context.Context, r route, delay time.Duration, payload any) error {
	out, err := d.bus.prepareScheduled(payload, r, delay, d.envelope, d.endpoint.Address)
	if err != nil {
		return err
	}
	return d.out.dispatch(ctx, out)
}

// ConsumeContext carries a decoded message and lets the handler produce
// follow-up messages. On a transactional bus those messages are held back
// until the handler returns without error.
type ConsumeContext[T any] struct {
	Message T

	MessageID      string
	CorrelationID  string
	ConversationID string
	// MessageType is the URN the message was sent as.
	MessageType        string
	SourceAddress      string
	DestinationAddress string
	Headers            map[string]any
	SentTime           time.Time

	// Endpoint is the receive endpoint that delivered the message.
	Endpoint string
	Logger   loggingpkg.ServiceLogger

	d *delivery
}

func newConsumeContext[T any](d *delivery) (*ConsumeContext[T], error) {
	env := d.envelope
	msg, err := envelope.Decode[T](env)
	if err != nil {
		return nil, &UnprocessableMessageError{MessageID: env.MessageID, Err: err}
	}

	var msgType string
	if len(env.MessageType) > 0 {
		msgType = env.MessageType[0]
	}

	return &ConsumeContext[T]{
		Message:            msg,
		MessageID:          env.MessageID,
		CorrelationID:      env.CorrelationID,
		ConversationID:     env.ConversationID,
		MessageType:        msgType,
		SourceAddress:      env.SourceAddress,
		DestinationAddress: env.DestinationAddress,
		Headers:            env.Headers,
		SentTime:           env.SentTime,
		Endpoint:           d.endpoint.Name,
		Logger: d.logger.With(loggingpkg.LogFields{
			"message_id":     env.MessageID,
			"correlation_id": env.CorrelationID,
		}),
		d: d,
	}, nil
}

// Publish sends msg to every endpoint bound to its type.
func (c *ConsumeContext[T]) Publish(ctx context.Context, msg any) error {
	return c.d.publish(ctx, msg)
}

// Send delivers msg to one address, "queue:<endpoint>" or "exchange:<name>".
func (c *ConsumeContext[T]) Send(ctx context.Context, address string, msg any) error {
	return c.d.sendTo(ctx, address, msg)
}

// SchedulePublish publishes msg after delay through the bus scheduler.
func (c *ConsumeContext[T]) SchedulePublish(ctx context.Context, delay time.Duration, msg any) error {
	r, err := publishRoute(msg)
	if err != nil {
		return err
	}
	return c.d.schedule(ctx, r, delay, msg)
}

// ScheduleSend sends msg to address after delay through the bus scheduler.
func (c *ConsumeContext[T]) ScheduleSend(ctx context.Context, address string, delay time.Duration, msg any) error {
	r, err := parseAddress(address)
	if err != nil {
		return err
	}
	return c.d.schedule(ctx, r, delay, msg)
}

func (c *ConsumeContext[T]) String() string {
	return fmt.Sprintf("%s %s on %s", c.MessageType, c.MessageID, c.Endpoint)
}
