// Package ids creates the identifiers stamped on outgoing messages.
package ids

import (
	"crypto/rand"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

// correlationSource hands out ULIDs that sort in creation order, also when
// several are minted within the same millisecond.
type correlationSource struct {
	mu      sync.Mutex
	entropy *ulid.MonotonicEntropy
}

var correlations = &correlationSource{entropy: ulid.Monotonic(rand.Reader, 0)}

func (s *correlationSource) next() ulid.ULID {
	s.mu.Lock()
	defer s.mu.Unlock()
	return ulid.MustNew(ulid.Timestamp(time.Now()), s.entropy)
}

// NewCorrelationID returns a fresh conversation id for a message that did
// not arrive with one.
func NewCorrelationID() string {
	return correlations.next().String()
}

// NewMessageID returns a random RFC 4122 identifier for an outgoing message.
// Envelope readers on the other side of the broker expect GUID-shaped ids.
func NewMessageID() string {
	return uuid.NewString()
}

// IsMessageID reports whether s parses as a message id.
func IsMessageID(s string) bool {
	return uuid.Validate(s) == nil
}
