package busworker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "github.com/drblury/busworker/transport/channel"
)

type pingSent struct {
	Seq int `json:"seq"`
}

func (pingSent) MessageNamespace() string { return "Busworker.Tests" }

type pingConsumer struct {
	seen chan int
}

func (c pingConsumer) Consume(_ context.Context, cc *ConsumeContext[pingSent]) error {
	c.seen <- cc.Message.Seq
	return nil
}

func TestFacadeRunsAWorker(t *testing.T) {
	conf := DefaultConfig()
	conf.Worker.PubSubSystem = "channel"
	conf.Worker.StartTimeout = 5 * time.Second

	seen := make(chan int, 1)
	module := ModuleFunc(func(r *HandlerRegistry) error {
		return RegisterConsumer[pingSent](r, pingConsumer{seen: seen})
	})

	w, err := StartWorker(context.Background(), conf, NopLogger(), WorkerDependencies{Modules: []Module{module}})
	require.NoError(t, err)
	t.Cleanup(func() { w.StopWithTimeout(5 * time.Second) })
	assert.Equal(t, StateRunning, w.State())

	require.NoError(t, w.Bus().Publish(context.Background(), pingSent{Seq: 7}))
	select {
	case got := <-seen:
		assert.Equal(t, 7, got)
	case <-time.After(5 * time.Second):
		t.Fatal("message not consumed")
	}

	assert.True(t, w.Stop())
	assert.Equal(t, StateStopped, w.State())
}

func TestFacadeGenericsAndErrors(t *testing.T) {
	assert.Equal(t, "urn:message:Busworker.Tests:pingSent", MessageURN[pingSent]())

	r, err := NewHandlerRegistry()
	require.NoError(t, err)
	require.ErrorIs(t, AddConsumer[pingSent](r, "", nil), ErrHandlerRequired)
	require.NoError(t, AddConsumer[pingSent](r, "", func(context.Context, *ConsumeContext[pingSent]) error { return nil }))
	err = AddActivity[pingSent](r, "PingActivity", func(context.Context, *ConsumeContext[pingSent]) error { return nil })
	assert.True(t, errors.Is(err, ErrDuplicateHandler))
}

func TestFacadeLifecycleAdapter(t *testing.T) {
	w := NewWorker(DefaultConfig(), NopLogger(), WorkerDependencies{})
	lc := WorkerLifecycle(w)
	assert.True(t, lc.Stop())
	assert.NoError(t, lc.Err())
	assert.Equal(t, "queue:scheduler", QueueAddress("scheduler"))
}
