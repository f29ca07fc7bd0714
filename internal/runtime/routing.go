package runtime

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"

	errspkg "github.com/drblury/busworker/internal/runtime/errors"
	"github.com/drblury/busworker/internal/runtime/naming"
)

// Address schemes understood by Send.
const (
	QueueScheme    = "queue"
	ExchangeScheme = "exchange"
)

// QueueAddress returns the send address of an endpoint.
func QueueAddress(endpoint string) string {
	return QueueScheme + ":" + endpoint
}

// route is where an outgoing message goes: the broker topic and the address
// recorded in the envelope.
type route struct {
	topic   string
	address string
}

// outgoing is a wrapped message ready to publish.
type outgoing struct {
	topic       string
	messageType string
	msg         *message.Message
}

func publishRoute(payload any) (route, error) {
	if payload == nil {
		return route{}, errspkg.ErrMessageTypeRequired
	}
	topic := naming.QualifiedName(reflect.TypeOf(payload))
	if topic == "" {
		return route{}, fmt.Errorf("%w: %T has no type name", errspkg.ErrMessageTypeRequired, payload)
	}
	return route{topic: topic, address: ExchangeScheme + ":" + topic}, nil
}

// parseAddress accepts "queue:<endpoint>" and "exchange:<name>". The name
// may itself contain colons, as qualified message names do.
func parseAddress(address string) (route, error) {
	scheme, name, ok := strings.Cut(strings.TrimSpace(address), ":")
	if !ok || name == "" {
		return route{}, fmt.Errorf("%w: %q", errspkg.ErrUnknownAddress, address)
	}
	scheme = strings.ToLower(scheme)
	switch scheme {
	case QueueScheme, ExchangeScheme:
		return route{topic: name, address: scheme + ":" + name}, nil
	default:
		return route{}, fmt.Errorf("%w: %q", errspkg.ErrUnknownAddress, address)
	}
}
