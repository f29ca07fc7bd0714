package runtime

import (
	"context"
	"testing"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	metadatapkg "github.com/drblury/busworker/internal/runtime/metadata"
)

func newSchedulerPubSub(t *testing.T) *gochannel.GoChannel {
	t.Helper()
	pubSub := gochannel.NewGoChannel(gochannel.Config{}, loggingpkg.NewWatermillAdapter(newTestLogger()))
	t.Cleanup(func() { _ = pubSub.Close() })
	return pubSub
}

func scheduledMessage(uuid, topic string, due time.Time) *message.Message {
	msg := message.NewMessage(uuid, []byte(`{}`))
	msg.Metadata.Set(metadatapkg.KeyScheduledTopic, topic)
	msg.Metadata.Set(metadatapkg.KeyScheduledFor, due.UTC().Format(time.RFC3339Nano))
	return msg
}

func receive(t *testing.T, ch <-chan *message.Message) *message.Message {
	t.Helper()
	select {
	case msg := <-ch:
		msg.Ack()
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
		return nil
	}
}

func TestSchedulerReleasesWhenDue(t *testing.T) {
	pubSub := newSchedulerPubSub(t)
	target, err := pubSub.Subscribe(context.Background(), "target")
	require.NoError(t, err)

	s := newScheduler("scheduler", pubSub, newTestLogger())
	sent := time.Now()
	require.NoError(t, s.handle(scheduledMessage("m-1", "target", sent.Add(30*time.Millisecond))))
	assert.Equal(t, 1, s.Pending())

	got := receive(t, target)
	assert.GreaterOrEqual(t, time.Since(sent), 25*time.Millisecond)
	assert.Equal(t, "m-1", got.UUID)
	assert.Empty(t, got.Metadata.Get(metadatapkg.KeyScheduledTopic))
	assert.Empty(t, got.Metadata.Get(metadatapkg.KeyScheduledFor))
	assert.Eventually(t, func() bool { return s.Pending() == 0 }, time.Second, 5*time.Millisecond)
}

func TestSchedulerRejectsMissingMetadata(t *testing.T) {
	s := newScheduler("scheduler", newSchedulerPubSub(t), newTestLogger())

	err := s.handle(message.NewMessage("m-1", nil))
	require.Error(t, err)
	assert.True(t, IsUnprocessable(err))

	bad := scheduledMessage("m-2", "target", time.Now())
	bad.Metadata.Set(metadatapkg.KeyScheduledFor, "tomorrow")
	assert.True(t, IsUnprocessable(s.handle(bad)))
	assert.Zero(t, s.Pending())
}

func TestSchedulerRearmsDuplicate(t *testing.T) {
	s := newScheduler("scheduler", newSchedulerPubSub(t), newTestLogger())
	due := time.Now().Add(time.Hour)

	require.NoError(t, s.handle(scheduledMessage("m-1", "target", due)))
	require.NoError(t, s.handle(scheduledMessage("m-1", "target", due)))
	assert.Equal(t, 1, s.Pending())
	s.stop()
}

func TestSchedulerStopRequeuesPending(t *testing.T) {
	pubSub := newSchedulerPubSub(t)
	queue, err := pubSub.Subscribe(context.Background(), "scheduler")
	require.NoError(t, err)

	s := newScheduler("scheduler", pubSub, newTestLogger())
	require.NoError(t, s.handle(scheduledMessage("m-1", "target", time.Now().Add(time.Hour))))

	s.stop()
	assert.Zero(t, s.Pending())

	got := receive(t, queue)
	assert.Equal(t, "m-1", got.UUID)
	assert.Equal(t, "target", got.Metadata.Get(metadatapkg.KeyScheduledTopic))

	err = s.handle(scheduledMessage("m-2", "target", time.Now()))
	require.ErrorIs(t, err, errspkg.ErrSchedulerStopped)
}
