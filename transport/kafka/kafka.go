// Package kafka provides a Kafka transport. Each receive endpoint is a
// consumer group; topic names are derived from the logical topic with the
// partition path as prefix.
package kafka

import (
	"context"
	"net"
	"strings"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"

	"github.com/drblury/busworker/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "kafka"

// DefaultPort is used when a broker address carries no port.
const DefaultPort = "9092"

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
	return kafka.NewPublisher(cfg, logger)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
	return kafka.NewSubscriber(cfg, logger)
}

func init() {
	Register()
}

// Register registers the Kafka transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.KafkaCapabilities)
}

// Build creates a Kafka transport. BrokerConfig.Host may list several
// brokers separated by commas.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	brokers := Brokers(cfg.GetHost())
	mapper := transport.PrefixedTopic(cfg.GetPath())

	pubSarama := kafka.DefaultSaramaSyncPublisherConfig()
	applyCredentials(pubSarama, cfg)

	publisher, err := PublisherFactory(
		kafka.PublisherConfig{
			Brokers:               brokers,
			Marshaler:             kafka.DefaultMarshaler{},
			OverwriteSaramaConfig: pubSarama,
		},
		logger,
	)
	if err != nil {
		return transport.Transport{}, err
	}

	return transport.Transport{
		Publisher: transport.MapPublisherTopics(publisher, mapper),
		NewSubscriber: func(endpoint string) (message.Subscriber, error) {
			subSarama := kafka.DefaultSaramaSubscriberConfig()
			applyCredentials(subSarama, cfg)

			sub, err := SubscriberFactory(
				kafka.SubscriberConfig{
					Brokers:               brokers,
					Unmarshaler:           kafka.DefaultMarshaler{},
					OverwriteSaramaConfig: subSarama,
					ConsumerGroup:         endpoint,
				},
				logger,
			)
			if err != nil {
				return nil, err
			}
			return transport.MapSubscriberTopics(sub, mapper), nil
		},
		Closer: publisher.Close,
	}, nil
}

// Brokers splits a comma separated host list and adds the default port
// where none is given.
func Brokers(hosts string) []string {
	var brokers []string
	for _, host := range strings.Split(hosts, ",") {
		host = strings.TrimSpace(host)
		if host == "" {
			continue
		}
		if _, _, err := net.SplitHostPort(host); err != nil {
			host = net.JoinHostPort(host, DefaultPort)
		}
		brokers = append(brokers, host)
	}
	return brokers
}

func applyCredentials(conf *sarama.Config, cfg transport.Config) {
	if !transport.HasCredentials(cfg) {
		return
	}
	conf.Net.SASL.Enable = true
	conf.Net.SASL.Mechanism = sarama.SASLTypePlaintext
	conf.Net.SASL.User = cfg.GetUserName()
	conf.Net.SASL.Password = cfg.GetPassWord()
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.KafkaCapabilities
}
