package realtime

import (
	"context"
	"encoding/json"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Envelope wraps every message published on a channel topic.
type Envelope struct {
	Channel     string          `json:"channel"`
	Topic       domain.Topic    `json:"topic"`
	Message     json.RawMessage `json:"message"`
	PublishedAt time.Time       `json:"published_at"`
}

// Bus fans messages out over redis pub/sub. Publishing is best-effort:
// failures are logged, subscribers never exert backpressure on publishers, and
// there is no replay for subscribers that reconnect mid-stream.
type Bus struct {
	client redis.UniversalClient
}

func NewBus(client redis.UniversalClient) *Bus {
	return &Bus{client: client}
}

func (b *Bus) Publish(ctx context.Context, channel domain.Channel, topic domain.Topic, message any) error {
	raw, err := json.Marshal(message)
	if err != nil {
		log.Warn().Err(err).
			Str("channel", channel.Name()).
			Str("topic", string(topic)).
			Msg("Failed to marshal realtime message")

		return err
	}

	envelope := Envelope{
		Channel:     channel.Name(),
		Topic:       topic,
		Message:     raw,
		PublishedAt: time.Now().UTC(),
	}

	data, err := json.Marshal(envelope)
	if err != nil {
		return err
	}

	if err := b.client.Publish(ctx, subject(channel, topic), data).Err(); err != nil {
		log.Warn().Err(err).
			Str("channel", channel.Name()).
			Str("topic", string(topic)).
			Msg("Realtime publish failed")

		return err
	}

	return nil
}

// Subscription is a live consumer of one channel's topics. Messages arrive on
// C in publish order per publisher.
type Subscription struct {
	C <-chan Envelope

	pubsub *redis.PubSub
	cancel context.CancelFunc
}

func (s *Subscription) Close() error {
	s.cancel()

	return s.pubsub.Close()
}

// Subscribe attaches to a channel's topics. The returned subscription only
// receives messages published after it attaches.
func (b *Bus) Subscribe(ctx context.Context, channel domain.Channel, topics ...domain.Topic) (*Subscription, error) {
	subjects := make([]string, 0, len(topics))
	for _, topic := range topics {
		subjects = append(subjects, subject(channel, topic))
	}

	pubsub := b.client.Subscribe(ctx, subjects...)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()

		return nil, err
	}

	ctx, cancel := context.WithCancel(ctx)
	out := make(chan Envelope)

	go func() {
		defer close(out)

		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-pubsub.Channel():
				if !ok {
					return
				}

				var envelope Envelope
				if err := json.Unmarshal([]byte(msg.Payload), &envelope); err != nil {
					log.Warn().Err(err).Str("subject", msg.Channel).Msg("Dropping malformed realtime message")
					continue
				}

				select {
				case out <- envelope:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return &Subscription{C: out, pubsub: pubsub, cancel: cancel}, nil
}

func subject(channel domain.Channel, topic domain.Topic) string {
	return channel.Name() + ":" + string(topic)
}
