package controllers

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/duramation/duramation/internal/realtime"
	"github.com/duramation/duramation/pkg/domain"

	"github.com/alicebob/miniredis/v2"
	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type relayFixture struct {
	app    *fiber.App
	tokens *realtime.TokenIssuer
	bus    *realtime.Bus
	server *miniredis.Miniredis
}

func newRelayFixture(t *testing.T) *relayFixture {
	t.Helper()

	server := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { client.Close() })

	tokens, err := realtime.NewTokenIssuer("relay-test-signing-key", time.Minute)
	require.NoError(t, err)

	bus := realtime.NewBus(client)

	controller := NewRealtimeController(RealtimeControllerDependencies{
		TokenIssuer: tokens,
		Bus:         bus,
	})

	app := fiber.New()
	app.Get("/realtime/stream", controller.StreamUpdates)

	return &relayFixture{app: app, tokens: tokens, bus: bus, server: server}
}

func (f *relayFixture) streamRequest(channel, topic, token string) *http.Request {
	query := url.Values{}
	if channel != "" {
		query.Set("channel", channel)
	}
	if topic != "" {
		query.Set("topic", topic)
	}
	if token != "" {
		query.Set("token", token)
	}

	return httptest.NewRequest(http.MethodGet, "/realtime/stream?"+query.Encode(), nil)
}

func TestRealtimeController_StreamUpdates_RejectsBadRequests(t *testing.T) {
	f := newRelayFixture(t)

	channel := domain.ChannelFor("user-1", "wf-1")
	ownToken, err := f.tokens.Issue("user-1", channel, nil)
	require.NoError(t, err)

	otherChannel := domain.ChannelFor("user-2", "wf-1")
	otherToken, err := f.tokens.Issue("user-2", otherChannel, nil)
	require.NoError(t, err)

	tests := []struct {
		name       string
		channel    string
		topic      string
		token      string
		wantStatus int
	}{
		{
			name:       "missing channel",
			topic:      "updates",
			token:      ownToken,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "malformed channel",
			channel:    "not-a-channel",
			topic:      "updates",
			token:      ownToken,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "unknown topic",
			channel:    channel.Name(),
			topic:      "audit-log",
			token:      ownToken,
			wantStatus: fiber.StatusBadRequest,
		},
		{
			name:       "garbage token",
			channel:    channel.Name(),
			topic:      "updates",
			token:      "not-a-jwt",
			wantStatus: fiber.StatusUnauthorized,
		},
		{
			name:       "token for another user's channel",
			channel:    channel.Name(),
			topic:      "updates",
			token:      otherToken,
			wantStatus: fiber.StatusUnauthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp, err := f.app.Test(f.streamRequest(tt.channel, tt.topic, tt.token))
			require.NoError(t, err)
			defer resp.Body.Close()

			assert.Equal(t, tt.wantStatus, resp.StatusCode)
		})
	}
}

func TestRealtimeController_StreamUpdates_RelaysPublishedMessages(t *testing.T) {
	f := newRelayFixture(t)

	channel := domain.ChannelFor("user-1", "wf-1")
	token, err := f.tokens.Issue("user-1", channel, []domain.Topic{domain.TopicUpdates})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// keep publishing until the request side has read something
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				update := domain.NewUpdate(domain.UpdateTypeStatus, "run finished", map[string]any{"status": "COMPLETED"})
				_ = f.bus.Publish(ctx, channel, domain.TopicUpdates, update)
			}
		}
	}()

	resp, err := f.app.Test(
		f.streamRequest(channel.Name(), "updates", token),
		fiber.TestConfig{Timeout: time.Second, FailOnTimeout: false},
	)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get(fiber.HeaderContentType))

	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "data: ")
	assert.Contains(t, string(body), "run finished")
	assert.Contains(t, string(body), fmt.Sprintf("%q", channel.Name()))
}

func TestRealtimeController_StreamUpdates_SubscribeFailure(t *testing.T) {
	f := newRelayFixture(t)

	channel := domain.ChannelFor("user-1", "wf-1")
	token, err := f.tokens.Issue("user-1", channel, nil)
	require.NoError(t, err)

	f.server.Close()

	resp, err := f.app.Test(f.streamRequest(channel.Name(), "updates", token))
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
