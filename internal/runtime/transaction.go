package runtime

import (
	"context"
	"sync"
)

// OutboxStore records outgoing messages before they are released to the
// broker, as bookkeeping for the transactional bus.
type OutboxStore interface {
	StoreOutgoingMessage(ctx context.Context, messageType, uuid, payload string) error
}

// dispatcher receives the messages a handler produces.
type dispatcher interface {
	dispatch(ctx context.Context, msgs ...outgoing) error
}

// transaction holds back a handler's outgoing messages until commit.
type transaction struct {
	bus *Bus

	mu      sync.Mutex
	pending []outgoing
}

func newTransaction(b *Bus) *transaction {
	return &transaction{bus: b}
}

func (t *transaction) dispatch(_ context.Context, msgs ...outgoing) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.pending = append(t.pending, msgs...)
	return nil
}

// commit releases every held message in the order it was produced.
func (t *transaction) commit(ctx context.Context) error {
	t.mu.Lock()
	pending := t.pending
	t.pending = nil
	t.mu.Unlock()
	if len(pending) == 0 {
		return nil
	}
	return t.bus.dispatch(ctx, pending...)
}

// rollback discards the held messages and reports how many there were.
func (t *transaction) rollback() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	n := len(t.pending)
	t.pending = nil
	return n
}
