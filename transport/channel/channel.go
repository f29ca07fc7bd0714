// Package channel provides an in-memory Go channel transport. Messages never
// leave the process, which makes it the transport of choice for tests and
// local development.
package channel

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"

	"github.com/drblury/busworker/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "channel"

// Factory allows overriding the channel creation for testing.
var Factory = func(cfg gochannel.Config, logger watermill.LoggerAdapter) (message.Publisher, message.Subscriber) {
	pubSub := gochannel.NewGoChannel(cfg, logger)
	return pubSub, pubSub
}

func init() {
	Register()
}

// Register registers the channel transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.ChannelCapabilities)
}

// Build creates a Go channel transport. Every endpoint shares one in-memory
// pub/sub; each topic is consumed by a single subscription, so a message is
// delivered to each endpoint bound to its topic exactly once.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	buffer := int64(cfg.GetConcurrencyLimit())
	if buffer < 1 {
		buffer = 1
	}
	pub, sub := Factory(gochannel.Config{OutputChannelBuffer: buffer}, logger)
	return transport.Transport{
		Publisher: pub,
		NewSubscriber: func(string) (message.Subscriber, error) {
			return sub, nil
		},
		Closer: sub.Close,
	}, nil
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.ChannelCapabilities
}
