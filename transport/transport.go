// Package transport defines how the worker reaches a broker. Each broker
// lives in its own sub-package and registers a Builder with the registry
// under the name used by WorkerConfig.PubSubSystem.
package transport

import (
	"context"
	"errors"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
)

// Config provides the broker settings transports need. The worker's
// resolved configuration satisfies it.
type Config interface {
	// GetPubSubSystem returns the transport name.
	GetPubSubSystem() string
	GetHost() string
	// GetPath returns the virtual partition (RabbitMQ virtual host, NATS
	// subject prefix, Kafka topic prefix).
	GetPath() string
	GetUserName() string
	GetPassWord() string
	// GetConcurrencyLimit bounds in-flight deliveries per endpoint.
	GetConcurrencyLimit() int
}

// SubscriberFactory returns a subscriber reading one receive endpoint. Every
// endpoint gets its own queue or consumer group, so messages published to a
// topic reach each bound endpoint once.
type SubscriberFactory func(endpoint string) (message.Subscriber, error)

// Transport combines a publisher with per-endpoint subscribers.
type Transport struct {
	Publisher     message.Publisher
	NewSubscriber SubscriberFactory
	// Closer releases resources shared by the publisher and subscribers,
	// such as a broker connection. It may be nil.
	Closer func() error
}

// Close releases the shared resources. It is safe on a zero Transport.
func (t Transport) Close() error {
	if t.Closer == nil {
		return nil
	}
	return t.Closer()
}

// Builder creates a transport from config. It may dial the broker.
type Builder func(ctx context.Context, cfg Config, logger watermill.LoggerAdapter) (Transport, error)

// CapabilitiesProvider is implemented by transports that can report their capabilities.
type CapabilitiesProvider interface {
	Capabilities() Capabilities
}

// ErrNoSubscriber is returned by Transport values built without subscriber support.
var ErrNoSubscriber = errors.New("transport: subscriber factory is not configured")

// Subscribe is a nil-safe call of t.NewSubscriber.
func (t Transport) Subscribe(endpoint string) (message.Subscriber, error) {
	if t.NewSubscriber == nil {
		return nil, ErrNoSubscriber
	}
	return t.NewSubscriber(endpoint)
}

// AnonymousUser is the development default user name. Brokers without a
// guest account (NATS, Kafka) treat it as "no credentials".
const AnonymousUser = "guest"

// HasCredentials reports whether cfg carries real credentials.
func HasCredentials(cfg Config) bool {
	user := cfg.GetUserName()
	return user != "" && user != AnonymousUser
}
