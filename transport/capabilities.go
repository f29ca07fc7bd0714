package transport

// Capabilities describes the features supported by a transport backend.
type Capabilities struct {
	// Name is the human-readable name of the transport.
	Name string

	// SupportsDelay indicates the transport can natively delay message delivery.
	// When false, the worker's scheduler holds delayed messages in process.
	SupportsDelay bool

	// SupportsNativeDLQ indicates the transport has built-in dead letter queue support.
	SupportsNativeDLQ bool

	// SupportsOrdering indicates the transport guarantees message ordering.
	SupportsOrdering bool

	// SupportsAck indicates the transport supports explicit message acknowledgment.
	SupportsAck bool

	// SupportsNack indicates the transport supports negative acknowledgment (redelivery).
	SupportsNack bool

	// CompetingConsumers indicates that several subscriptions to the same
	// endpoint share its messages instead of each receiving a copy.
	CompetingConsumers bool

	// MaxMessageSize is the maximum message size in bytes (0 = unlimited/unknown).
	MaxMessageSize int64
}

// RequiresDelayEmulation returns true if delayed delivery must be handled by
// the worker.
func (c Capabilities) RequiresDelayEmulation() bool {
	return !c.SupportsDelay
}

// SupportsReliableDelivery returns true if the transport supports at-least-once
// delivery semantics (ack + nack).
func (c Capabilities) SupportsReliableDelivery() bool {
	return c.SupportsAck && c.SupportsNack
}

// SubscriptionsPerEndpoint is how many subscriptions an endpoint should open
// for the given concurrency limit. Transports without competing consumers
// would duplicate deliveries, so they get exactly one.
func (c Capabilities) SubscriptionsPerEndpoint(concurrencyLimit int) int {
	if !c.CompetingConsumers || concurrencyLimit < 1 {
		return 1
	}
	return concurrencyLimit
}

// Predefined capability sets for the built-in transports.
var (
	// ChannelCapabilities for in-memory Go channel transport.
	ChannelCapabilities = Capabilities{
		Name:             "channel",
		SupportsOrdering: true,
		SupportsAck:      true,
		SupportsNack:     true,
	}

	// RabbitMQCapabilities for RabbitMQ/AMQP transport.
	RabbitMQCapabilities = Capabilities{
		Name:               "rabbitmq",
		SupportsNativeDLQ:  true,
		SupportsOrdering:   true,
		SupportsAck:        true,
		SupportsNack:       true,
		CompetingConsumers: true,
	}

	// NATSCapabilities for NATS Core transport with queue groups.
	NATSCapabilities = Capabilities{
		Name:           "nats",
		MaxMessageSize: 1048576, // Default 1MB
	}

	// KafkaCapabilities for Apache Kafka transport.
	KafkaCapabilities = Capabilities{
		Name:             "kafka",
		SupportsOrdering: true,
		SupportsAck:      true,
		MaxMessageSize:   1048576, // Default 1MB
	}
)
