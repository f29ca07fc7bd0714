package kafka

import (
	"context"
	"errors"
	"testing"

	"github.com/IBM/sarama"
	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill-kafka/v3/pkg/kafka"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/drblury/busworker/transport"
)

func TestRegister(t *testing.T) {
	original := transport.DefaultRegistry
	transport.DefaultRegistry = transport.NewRegistry()
	t.Cleanup(func() { transport.DefaultRegistry = original })

	Register()

	caps := transport.GetCapabilities(TransportName)
	assert.Equal(t, "kafka", caps.Name)
	assert.False(t, caps.CompetingConsumers)
	assert.Equal(t, transport.KafkaCapabilities, Capabilities())
}

func TestBrokers(t *testing.T) {
	assert.Equal(t, []string{"localhost:9092"}, Brokers("localhost"))
	assert.Equal(t, []string{"a:9092", "b:9093"}, Brokers(" a , b:9093,"))
	assert.Empty(t, Brokers(""))
}

func TestApplyCredentials(t *testing.T) {
	anonymous := sarama.NewConfig()
	applyCredentials(anonymous, &mockConfig{user: "guest"})
	assert.False(t, anonymous.Net.SASL.Enable)

	authed := sarama.NewConfig()
	applyCredentials(authed, &mockConfig{user: "svc", pass: "secret"})
	assert.True(t, authed.Net.SASL.Enable)
	assert.Equal(t, "svc", authed.Net.SASL.User)
	assert.Equal(t, "secret", authed.Net.SASL.Password)
	assert.Equal(t, sarama.SASLMechanism(sarama.SASLTypePlaintext), authed.Net.SASL.Mechanism)
}

func TestBuild(t *testing.T) {
	t.Run("consumer group per endpoint", func(t *testing.T) {
		overrideFactories(t)

		pub := &recordingPublisher{}
		var groups []string
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			assert.Equal(t, []string{"localhost:9092"}, cfg.Brokers)
			require.NotNil(t, cfg.OverwriteSaramaConfig)
			return pub, nil
		}
		SubscriberFactory = func(cfg kafka.SubscriberConfig, logger watermill.LoggerAdapter) (message.Subscriber, error) {
			groups = append(groups, cfg.ConsumerGroup)
			return &mockSubscriber{}, nil
		}

		tr, err := Build(context.Background(), &mockConfig{host: "localhost", path: "capmatix", user: "guest"}, watermill.NopLogger{})
		require.NoError(t, err)

		_, err = tr.Subscribe("rule-engine-command")
		require.NoError(t, err)
		_, err = tr.Subscribe("scheduler")
		require.NoError(t, err)
		assert.Equal(t, []string{"rule-engine-command", "scheduler"}, groups)

		require.NoError(t, tr.Publisher.Publish("Lpa.Contracts:RuleEngineCommand"))
		assert.Equal(t, []string{"capmatix.Lpa.Contracts.RuleEngineCommand"}, pub.topics)
	})

	t.Run("returns error when publisher factory fails", func(t *testing.T) {
		overrideFactories(t)
		PublisherFactory = func(cfg kafka.PublisherConfig, logger watermill.LoggerAdapter) (message.Publisher, error) {
			return nil, errors.New("publisher error")
		}

		_, err := Build(context.Background(), &mockConfig{host: "localhost"}, watermill.NopLogger{})
		assert.ErrorContains(t, err, "publisher error")
	})
}

func overrideFactories(t *testing.T) {
	t.Helper()
	originalPub, originalSub := PublisherFactory, SubscriberFactory
	t.Cleanup(func() {
		PublisherFactory = originalPub
		SubscriberFactory = originalSub
	})
}

type mockConfig struct {
	host, path, user, pass string
}

func (m *mockConfig) GetPubSubSystem() string  { return TransportName }
func (m *mockConfig) GetHost() string          { return m.host }
func (m *mockConfig) GetPath() string          { return m.path }
func (m *mockConfig) GetUserName() string      { return m.user }
func (m *mockConfig) GetPassWord() string      { return m.pass }
func (m *mockConfig) GetConcurrencyLimit() int { return 1 }

type recordingPublisher struct {
	topics []string
}

func (r *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	r.topics = append(r.topics, topic)
	return nil
}
func (r *recordingPublisher) Close() error { return nil }

type mockSubscriber struct{}

func (m *mockSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return make(chan *message.Message), nil
}
func (m *mockSubscriber) Close() error { return nil }
