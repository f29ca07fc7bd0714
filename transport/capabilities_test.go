package transport

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCapabilities_RequiresDelayEmulation(t *testing.T) {
	assert.False(t, Capabilities{SupportsDelay: true}.RequiresDelayEmulation())
	assert.True(t, Capabilities{}.RequiresDelayEmulation())
}

func TestCapabilities_SupportsReliableDelivery(t *testing.T) {
	tests := []struct {
		name string
		caps Capabilities
		want bool
	}{
		{"ack and nack", Capabilities{SupportsAck: true, SupportsNack: true}, true},
		{"ack only", Capabilities{SupportsAck: true}, false},
		{"nack only", Capabilities{SupportsNack: true}, false},
		{"neither", Capabilities{}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SupportsReliableDelivery())
		})
	}
}

func TestCapabilities_SubscriptionsPerEndpoint(t *testing.T) {
	tests := []struct {
		name  string
		caps  Capabilities
		limit int
		want  int
	}{
		{"competing consumers follow limit", RabbitMQCapabilities, 4, 4},
		{"competing consumers default limit", RabbitMQCapabilities, 1, 1},
		{"invalid limit", RabbitMQCapabilities, 0, 1},
		{"fan-out transport", ChannelCapabilities, 4, 1},
		{"queue groups", NATSCapabilities, 8, 1},
		{"consumer groups", KafkaCapabilities, 8, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.caps.SubscriptionsPerEndpoint(tt.limit))
		})
	}
}

func TestPredefinedCapabilities(t *testing.T) {
	assert.Equal(t, "rabbitmq", RabbitMQCapabilities.Name)
	assert.True(t, RabbitMQCapabilities.SupportsReliableDelivery())
	assert.Equal(t, "channel", ChannelCapabilities.Name)
	assert.Equal(t, "nats", NATSCapabilities.Name)
	assert.Equal(t, "kafka", KafkaCapabilities.Name)
	assert.Equal(t, int64(1048576), KafkaCapabilities.MaxMessageSize)
}
