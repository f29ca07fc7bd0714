// Package rabbitmq provides the RabbitMQ/AMQP transport, the worker's default.
//
// Topology: every message type is a durable fanout exchange named after its
// qualified type name. Every receive endpoint is a durable queue of the same
// name as the endpoint, bound to the exchanges of the messages it consumes
// and to an exchange named after the endpoint itself, which is what
// "queue:<endpoint>" addresses publish to.
package rabbitmq

import (
	"context"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-amqp/v3/pkg/amqp"
	"github.com/ThreeDotsLabs/watermill/message"
	amqp091 "github.com/rabbitmq/amqp091-go"

	"github.com/drblury/busworker/transport"
)

// TransportName is the name used to register this transport.
const TransportName = "rabbitmq"

// DefaultPort is used when BrokerConfig.Host carries no port.
const DefaultPort = "5672"

const heartbeat = 10 * time.Second

var hostname = os.Hostname

// ConnectionFactory allows overriding the connection creation for testing.
var ConnectionFactory = func(cfg amqp.ConnectionConfig, logger watermill.LoggerAdapter) (*amqp.ConnectionWrapper, error) {
	return amqp.NewConnection(cfg, logger)
}

// PublisherFactory allows overriding the publisher creation for testing.
var PublisherFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Publisher, error) {
	return amqp.NewPublisherWithConnection(cfg, logger, conn)
}

// SubscriberFactory allows overriding the subscriber creation for testing.
var SubscriberFactory = func(cfg amqp.Config, logger watermill.LoggerAdapter, conn *amqp.ConnectionWrapper) (message.Subscriber, error) {
	return amqp.NewSubscriberWithConnection(cfg, logger, conn)
}

func init() {
	Register()
}

// Register registers the RabbitMQ transport with the default registry.
func Register() {
	transport.RegisterWithCapabilities(TransportName, Build, transport.RabbitMQCapabilities)
}

// Build dials the broker once; the publisher and every endpoint subscriber
// share that connection.
func Build(ctx context.Context, cfg transport.Config, logger watermill.LoggerAdapter) (transport.Transport, error) {
	uri := URI(cfg)

	conn, err := ConnectionFactory(amqp.ConnectionConfig{
		AmqpURI: uri,
		AmqpConfig: &amqp091.Config{
			Heartbeat: heartbeat,
			Locale:    "en_US",
			Properties: amqp091.Table{
				"product":         "busworker",
				"connection_name": connectionName(),
			},
		},
		Reconnect: amqp.DefaultReconnectConfig(),
	}, logger)
	if err != nil {
		return transport.Transport{}, err
	}

	publisher, err := PublisherFactory(EndpointConfig(uri, "", cfg.GetConcurrencyLimit()), logger, conn)
	if err != nil {
		return transport.Transport{}, err
	}

	limit := cfg.GetConcurrencyLimit()
	return transport.Transport{
		Publisher: publisher,
		NewSubscriber: func(endpoint string) (message.Subscriber, error) {
			return SubscriberFactory(EndpointConfig(uri, endpoint, limit), logger, conn)
		},
		Closer: conn.Close,
	}, nil
}

// EndpointConfig is the durable pub/sub config for one receive endpoint.
// The queue name is the endpoint name whatever the topic, and the broker
// hands out at most prefetch unacknowledged deliveries per consumer.
func EndpointConfig(uri, endpoint string, prefetch int) amqp.Config {
	generator := amqp.GenerateQueueNameTopicName
	if endpoint != "" {
		generator = func(string) string { return endpoint }
	}
	conf := amqp.NewDurablePubSubConfig(uri, generator)
	if prefetch < 1 {
		prefetch = 1
	}
	conf.Consume.Qos.PrefetchCount = prefetch
	return conf
}

// URI builds the AMQP URI from the broker settings. A host that already is a
// URI is used unchanged.
func URI(cfg transport.Config) string {
	host := cfg.GetHost()
	if strings.Contains(host, "://") {
		return host
	}
	if _, _, err := net.SplitHostPort(host); err != nil {
		host = net.JoinHostPort(host, DefaultPort)
	}
	u := url.URL{
		Scheme:  "amqp",
		User:    url.UserPassword(cfg.GetUserName(), cfg.GetPassWord()),
		Host:    host,
		Path:    "/" + cfg.GetPath(),
		RawPath: "/" + url.PathEscape(cfg.GetPath()),
	}
	return u.String()
}

func connectionName() string {
	name, err := hostname()
	if err != nil || name == "" {
		return "busworker"
	}
	return "busworker@" + name
}

// Capabilities returns the capabilities of this transport.
func Capabilities() transport.Capabilities {
	return transport.RabbitMQCapabilities
}
