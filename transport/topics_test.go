package transport

import (
	"context"
	"testing"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrefixedTopic(t *testing.T) {
	mapper := PrefixedTopic("capmatix")
	assert.Equal(t, "capmatix.Lpa.Capmatix.Contracts.RuleEngineCommand", mapper("Lpa.Capmatix.Contracts:RuleEngineCommand"))
	assert.Equal(t, "capmatix.rule-engine-command", mapper("rule-engine-command"))
	assert.Equal(t, "a_b.c", PrefixedTopic("")("a b:c"))
}

type recordingPublisher struct {
	mockPublisher
	topics []string
}

func (r *recordingPublisher) Publish(topic string, messages ...*message.Message) error {
	r.topics = append(r.topics, topic)
	return nil
}

type recordingSubscriber struct {
	mockSubscriber
	topics []string
}

func (r *recordingSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	r.topics = append(r.topics, topic)
	return r.mockSubscriber.Subscribe(ctx, topic)
}

func TestMappedPublisherAndSubscriber(t *testing.T) {
	pub := &recordingPublisher{}
	sub := &recordingSubscriber{}
	mapper := PrefixedTopic("p")

	require.NoError(t, MapPublisherTopics(pub, mapper).Publish("Ns:Cmd"))
	_, err := MapSubscriberTopics(sub, mapper).Subscribe(context.Background(), "Ns:Cmd")
	require.NoError(t, err)

	assert.Equal(t, []string{"p.Ns.Cmd"}, pub.topics)
	assert.Equal(t, []string{"p.Ns.Cmd"}, sub.topics)
	assert.NoError(t, MapPublisherTopics(pub, mapper).Close())
}

func TestHasCredentials(t *testing.T) {
	assert.False(t, HasCredentials(&mockConfig{}))
	assert.True(t, HasCredentials(&credConfig{user: "svc"}))
	assert.False(t, HasCredentials(&credConfig{user: ""}))
}

type credConfig struct {
	mockConfig
	user string
}

func (c *credConfig) GetUserName() string { return c.user }
