// Package nats provides a NATS Core transport. Each receive endpoint is a
// queue group, so a message published on a subject reaches every endpoint
// bound to it once.
package nats

import (
	"context"
	"fmt"
	"net"
	"strings"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	nc "github.com/nats-io/nats.go"

	"github.com/drblury/busworker/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "nats"

// DefaultPort is used when BrokerConfig.Host carries no port.
const DefaultPort = "4222"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg nats.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return nats.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg nats.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return nats.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the NATS transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.NATSCapabilities)
}

// Build creates a NATS transport. Subjects are prefixed with the partition
// path; each endpoint subscriber runs ConcurrencyLimit goroutines.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	url := URL(cfg)
	marshaler := &nats.NATSMarshaler{}
	options := Options(cfg)
	mapper := transport.PrefixedTopic(cfg.GetPath())

	publisher, err := PublisherFactory(
		nats.PublisherConfig{
			URL:         url,
			NatsOptions: options,
			Marshaler:   marshaler,
			JetStream:   nats.JetStreamConfig{Disabled: true},
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	subscribers := cfg.GetConcurrencyLimit()
	if subscribers < 1 {
		subscribers = 1
	}

	return transport.Transport{
		Publisher: transport.MapPublisherTopics(publisher, mapper),
		NewSubscriber: func(endpoint string) (message.Subscriber, error) {
			sub, err := SubscriberFactory(
				nats.SubscriberConfig{
					URL:              url,
					QueueGroupPrefix: endpoint,
					SubscribersCount: subscribers,
					NatsOptions:      options,
					Unmarshaler:      marshaler,
					JetStream:        nats.JetStreamConfig{Disabled: true},
				},
				logger,
			)
			if err != nil {
				return nil, fmt.Errorf("nats subscriber for %s: %w", endpoint, err)
			}
			return transport.MapSubscriberTopics(sub, mapper), nil
		},
		Closer: publisher.Close,
	}, nil
}

// URL builds the server URL from the broker settings. A host that already
// is a URL is used unchanged.
func URL(cfg transport.Config) string {
	host := cfg.GetHost()
	if strings.Contains(host, "://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, DefaultPort)
	}
	return "nats://" + host
}

// Options returns the connection options shared by publisher and subscribers.
func Options(cfg transport.Config) []nc.Option {
	options := []nc.Option{nc.Name("busworker")}
	if transport.HasCredentials(cfg) {
		options = append(options, nc.UserInfo(cfg.GetUserName(), cfg.GetPassWord()))
	}
	return options
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.NATSCapabilities
}
