package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const receiveTimeout = 2 * time.Second

func newTestBus(t *testing.T) (*Bus, *miniredis.Miniredis, redis.UniversalClient) {
	t.Helper()

	server := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	return NewBus(client), server, client
}

func receiveEnvelope(t *testing.T, subscription *Subscription) Envelope {
	t.Helper()

	select {
	case envelope, ok := <-subscription.C:
		require.True(t, ok, "subscription closed before a message arrived")
		return envelope
	case <-time.After(receiveTimeout):
		t.Fatal("timed out waiting for realtime message")
		return Envelope{}
	}
}

func TestBus_PublishSubscribeRoundTrip(t *testing.T) {
	bus, _, _ := newTestBus(t)
	ctx := context.Background()
	channel := domain.ChannelFor("user-1", "wf-1")

	subscription, err := bus.Subscribe(ctx, channel, domain.TopicUpdates)
	require.NoError(t, err)
	defer subscription.Close()

	update := domain.NewUpdate(domain.UpdateTypeStatus, "Workflow run completed", map[string]any{
		"status": "COMPLETED",
	})
	require.NoError(t, bus.Publish(ctx, channel, domain.TopicUpdates, update))

	envelope := receiveEnvelope(t, subscription)
	assert.Equal(t, channel.Name(), envelope.Channel)
	assert.Equal(t, domain.TopicUpdates, envelope.Topic)
	assert.False(t, envelope.PublishedAt.IsZero())

	var received domain.Update
	require.NoError(t, json.Unmarshal(envelope.Message, &received))
	assert.Equal(t, update.Type, received.Type)
	assert.Equal(t, "Workflow run completed", received.Message)
	assert.Equal(t, "COMPLETED", received.Data["status"])
}

func TestBus_DeliversInPublishOrder(t *testing.T) {
	bus, _, _ := newTestBus(t)
	ctx := context.Background()
	channel := domain.ChannelFor("user-1", "wf-1")

	subscription, err := bus.Subscribe(ctx, channel, domain.TopicAIStream)
	require.NoError(t, err)
	defer subscription.Close()

	const count = 20
	for i := 0; i < count; i++ {
		chunk := domain.AIStreamChunk{Chunk: fmt.Sprintf("chunk-%d", i)}
		require.NoError(t, bus.Publish(ctx, channel, domain.TopicAIStream, chunk))
	}

	for i := 0; i < count; i++ {
		envelope := receiveEnvelope(t, subscription)

		var chunk domain.AIStreamChunk
		require.NoError(t, json.Unmarshal(envelope.Message, &chunk))
		assert.Equal(t, fmt.Sprintf("chunk-%d", i), chunk.Chunk)
	}
}

func TestBus_SubscriptionScopedToTopic(t *testing.T) {
	bus, _, _ := newTestBus(t)
	ctx := context.Background()
	channel := domain.ChannelFor("user-1", "wf-1")

	subscription, err := bus.Subscribe(ctx, channel, domain.TopicUpdates)
	require.NoError(t, err)
	defer subscription.Close()

	require.NoError(t, bus.Publish(ctx, channel, domain.TopicAIStream, domain.AIStreamChunk{Chunk: "other topic"}))
	require.NoError(t, bus.Publish(ctx, domain.ChannelFor("user-2", "wf-1"), domain.TopicUpdates, domain.NewUpdate(domain.UpdateTypeStatus, "other channel", nil)))
	require.NoError(t, bus.Publish(ctx, channel, domain.TopicUpdates, domain.NewUpdate(domain.UpdateTypeStatus, "mine", nil)))

	envelope := receiveEnvelope(t, subscription)

	var received domain.Update
	require.NoError(t, json.Unmarshal(envelope.Message, &received))
	assert.Equal(t, "mine", received.Message)
}

func TestBus_MalformedPayloadDropped(t *testing.T) {
	bus, _, client := newTestBus(t)
	ctx := context.Background()
	channel := domain.ChannelFor("user-1", "wf-1")

	subscription, err := bus.Subscribe(ctx, channel, domain.TopicUpdates)
	require.NoError(t, err)
	defer subscription.Close()

	require.NoError(t, client.Publish(ctx, subject(channel, domain.TopicUpdates), "not-json").Err())
	require.NoError(t, bus.Publish(ctx, channel, domain.TopicUpdates, domain.NewUpdate(domain.UpdateTypeStatus, "after garbage", nil)))

	envelope := receiveEnvelope(t, subscription)

	var received domain.Update
	require.NoError(t, json.Unmarshal(envelope.Message, &received))
	assert.Equal(t, "after garbage", received.Message)
}

func TestBus_PublishFailureReturnsError(t *testing.T) {
	bus, server, _ := newTestBus(t)
	channel := domain.ChannelFor("user-1", "wf-1")

	server.Close()

	assert.NotPanics(t, func() {
		err := bus.Publish(context.Background(), channel, domain.TopicUpdates, domain.NewUpdate(domain.UpdateTypeStatus, "lost", nil))
		assert.Error(t, err)
	})
}
