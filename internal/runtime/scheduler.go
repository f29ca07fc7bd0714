package runtime

import (
	"errors"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	loggingpkg "github.com/drblury/busworker/internal/runtime/logging"
	metadatapkg "github.com/drblury/busworker/internal/runtime/metadata"
)

var errScheduleMetadata = errors.New("scheduled message lacks scheduled_for or scheduled_topic")

// scheduler consumes the scheduler endpoint and releases each message to its
// target topic when it falls due. Pending messages live in process memory;
// on shutdown they are put back on the scheduler queue.
type scheduler struct {
	queue     string
	publisher message.Publisher
	logger    loggingpkg.ServiceLogger
	now       func() time.Time

	mu      sync.Mutex
	stopped bool
	pending map[string]*scheduled
}

type scheduled struct {
	timer  *time.Timer
	source *message.Message
	topic  string
	msg    *message.Message
}

func newScheduler(queue string, publisher message.Publisher, logger loggingpkg.ServiceLogger) *scheduler {
	return &scheduler{
		queue:     queue,
		publisher: publisher,
		logger:    logger.With(loggingpkg.LogFields{"endpoint": queue}),
		now:       time.Now,
		pending:   make(map[string]*scheduled),
	}
}

// handle is the scheduler endpoint's handler.
func (s *scheduler) handle(msg *message.Message) error {
	topic := msg.Metadata.Get(metadatapkg.KeyScheduledTopic)
	due, err := time.Parse(time.RFC3339Nano, msg.Metadata.Get(metadatapkg.KeyScheduledFor))
	if topic == "" || err != nil {
		return &UnprocessableMessageError{MessageID: msg.UUID, Err: errScheduleMetadata}
	}

	release := msg.Copy()
	delete(release.Metadata, metadatapkg.KeyScheduledTopic)
	delete(release.Metadata, metadatapkg.KeyScheduledFor)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return errspkg.ErrSchedulerStopped
	}
	if prev, ok := s.pending[msg.UUID]; ok {
		prev.timer.Stop()
	}

	entry := &scheduled{source: msg.Copy(), topic: topic, msg: release}
	id := msg.UUID
	entry.timer = time.AfterFunc(due.Sub(s.now()), func() { s.fire(id, entry) })
	s.pending[id] = entry
	return nil
}

func (s *scheduler) fire(id string, entry *scheduled) {
	s.mu.Lock()
	if s.pending[id] != entry {
		s.mu.Unlock()
		return
	}
	delete(s.pending, id)
	s.mu.Unlock()

	if err := s.publisher.Publish(entry.topic, entry.msg); err != nil {
		s.logger.Error("Failed to release scheduled message", err, loggingpkg.LogFields{
			"message_uuid": id,
			"topic":        entry.topic,
		})
	}
}

// Pending reports how many messages wait for their due time.
func (s *scheduler) Pending() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

// stop cancels every timer and republishes the pending messages to the
// scheduler queue so that a later run releases them.
func (s *scheduler) stop() {
	s.mu.Lock()
	s.stopped = true
	pending := s.pending
	s.pending = make(map[string]*scheduled)
	s.mu.Unlock()

	requeued := 0
	for id, entry := range pending {
		if !entry.timer.Stop() {
			continue
		}
		if err := s.publisher.Publish(s.queue, entry.source); err != nil {
			s.logger.Error("Failed to requeue scheduled message", err, loggingpkg.LogFields{"message_uuid": id})
			continue
		}
		requeued++
	}
	if len(pending) > 0 {
		s.logger.Info("Scheduler stopped", loggingpkg.LogFields{
			"pending":  len(pending),
			"requeued": requeued,
		})
	}
}
