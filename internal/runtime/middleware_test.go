package runtime

import (
	"errors"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	idspkg "github.com/drblury/busworker/internal/runtime/ids"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	metadatapkg "github.com/drblury/busworker/internal/runtime/metadata"
)

func TestCorrelationIDMiddleware(t *testing.T) {
	t.Parallel()

	t.Run("adds missing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.NewCorrelationID(), nil)
		called := false
		_, err := correlationIDMiddleware(func(m *message.Message) ([]*message.Message, error) {
			called = true
			assert.NotEmpty(t, m.Metadata.Get(metadatapkg.KeyCorrelationID))
			return nil, nil
		})(msg)
		require.NoError(t, err)
		assert.True(t, called)
	})

	t.Run("keeps existing id", func(t *testing.T) {
		msg := message.NewMessage(idspkg.NewCorrelationID(), nil)
		msg.Metadata.Set(metadatapkg.KeyCorrelationID, "fixed")
		_, err := correlationIDMiddleware(func(m *message.Message) ([]*message.Message, error) {
			assert.Equal(t, "fixed", m.Metadata.Get(metadatapkg.KeyCorrelationID))
			return nil, nil
		})(msg)
		require.NoError(t, err)
	})
}

func TestRetryMiddlewareSkipsUnprocessable(t *testing.T) {
	t.Parallel()

	mw := retryMiddlewareWithConfig(RetryMiddlewareConfig{
		MaxRetries:      3,
		InitialInterval: time.Millisecond,
		MaxInterval:     time.Millisecond,
		RetryIf:         func(err error) bool { return !IsUnprocessable(err) },
	}, loggingpkg.NewWatermillAdapter(newTestLogger()))

	t.Run("retries transient errors", func(t *testing.T) {
		calls := 0
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			calls++
			return nil, errors.New("transient")
		})(message.NewMessage("1", nil))
		require.Error(t, err)
		assert.Equal(t, 4, calls)
	})

	t.Run("does not retry unprocessable", func(t *testing.T) {
		calls := 0
		_, err := mw(func(*message.Message) ([]*message.Message, error) {
			calls++
			return nil, &UnprocessableMessageError{MessageID: "2", Err: errors.New("bad body")}
		})(message.NewMessage("2", nil))
		require.Error(t, err)
		assert.Equal(t, 1, calls)
	})
}

func TestRetryMiddlewareConfigDefaults(t *testing.T) {
	cfg := RetryMiddlewareConfig{MaxRetries: -1}.withDefaults()
	assert.Zero(t, cfg.MaxRetries)
	assert.Equal(t, time.Second, cfg.InitialInterval)
	assert.Equal(t, 16*time.Second, cfg.MaxInterval)
}

func TestMiddlewareRegistrationBuild(t *testing.T) {
	_, err := MiddlewareRegistration{Name: "empty"}.build(nil, Endpoint{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "empty")

	failing := MiddlewareRegistration{
		Name: "failing",
		Builder: func(*Bus, Endpoint) (message.HandlerMiddleware, error) {
			return nil, errors.New("nope")
		},
	}
	_, err = failing.build(nil, Endpoint{})
	require.ErrorContains(t, err, "middleware failing: nope")

	mw, err := RecovererMiddleware().build(nil, Endpoint{})
	require.NoError(t, err)
	assert.NotNil(t, mw)
}

func TestDefaultMiddlewareOrder(t *testing.T) {
	var names []string
	for _, reg := range DefaultMiddlewares() {
		names = append(names, reg.Name)
	}
	assert.Equal(t, []string{
		"correlation_id",
		"log_messages",
		"tracer",
		"metrics",
		"error_queue",
		"retry",
		"circuit_breaker",
		"recoverer",
	}, names)
}

func TestCountFaulted(t *testing.T) {
	queues := NewQueueMetrics()
	onlyTransient := func(err error) bool { return !IsUnprocessable(err) }

	h := countFaulted(queues, "order-placed", onlyTransient, func(msg *message.Message) ([]*message.Message, error) {
		if msg.UUID == "bad" {
			return nil, &UnprocessableMessageError{MessageID: msg.UUID, Err: errors.New("bad")}
		}
		return nil, errors.New("transient")
	})

	msg := message.NewMessage("1", nil)
	msg.Metadata.Set(metadatapkg.KeySentTime, time.Now().Add(-time.Second).Format(time.RFC3339Nano))
	_, err := h(msg)
	require.Error(t, err)
	_, err = h(message.NewMessage("bad", nil))
	require.Error(t, err)

	assert.Equal(t, uint64(1), queues.Snapshot()["order-placed"].Faulted)
}

func TestTracerMiddlewareKeepsContext(t *testing.T) {
	msg := message.NewMessage("1", nil)
	_, err := tracerMiddleware("order-placed")(func(m *message.Message) ([]*message.Message, error) {
		assert.NotNil(t, m.Context())
		return nil, nil
	})(msg)
	require.NoError(t, err)
}
