package transport

import (
	"context"
	"strings"

	"github.com/ThreeDotsLabs/watermill/message"
)

// TopicMapper rewrites a logical topic ("Namespace:Name" or an endpoint
// name) into the name the broker accepts.
type TopicMapper func(topic string) string

// PrefixedTopic joins prefix and topic with a dot, replaces ':' with '.',
// and replaces any character outside [A-Za-z0-9._-] with '_'. It suits
// brokers with restricted topic alphabets (Kafka topics, NATS subjects).
func PrefixedTopic(prefix string) TopicMapper {
	return func(topic string) string {
		name := topic
		if prefix != "" {
			name = prefix + "." + topic
		}
		return strings.Map(func(r rune) rune {
			switch {
			case r == ':':
				return '.'
			case r == '.' || r == '_' || r == '-':
				return r
			case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
				return r
			default:
				return '_'
			}
		}, name)
	}
}

type mappedPublisher struct {
	message.Publisher
	mapTopic TopicMapper
}

// MapPublisherTopics returns a publisher that rewrites topics before publishing.
func MapPublisherTopics(pub message.Publisher, mapper TopicMapper) message.Publisher {
	return &mappedPublisher{Publisher: pub, mapTopic: mapper}
}

func (p *mappedPublisher) Publish(topic string, messages ...*message.Message) error {
	return p.Publisher.Publish(p.mapTopic(topic), messages...)
}

type mappedSubscriber struct {
	message.Subscriber
	mapTopic TopicMapper
}

// MapSubscriberTopics returns a subscriber that rewrites topics before subscribing.
func MapSubscriberTopics(sub message.Subscriber, mapper TopicMapper) message.Subscriber {
	return &mappedSubscriber{Subscriber: sub, mapTopic: mapper}
}

func (s *mappedSubscriber) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return s.Subscriber.Subscribe(ctx, s.mapTopic(topic))
}
