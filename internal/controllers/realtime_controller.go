package controllers

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"

	"github.com/duramation/duramation/internal/middlewares"
	"github.com/duramation/duramation/internal/realtime"
	"github.com/duramation/duramation/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

type RealtimeController struct {
	tokens *realtime.TokenIssuer
	bus    *realtime.Bus
}

type RealtimeControllerDependencies struct {
	TokenIssuer *realtime.TokenIssuer
	Bus         *realtime.Bus
}

func NewRealtimeController(deps RealtimeControllerDependencies) *RealtimeController {
	return &RealtimeController{tokens: deps.TokenIssuer, bus: deps.Bus}
}

type subscriptionTokenRequest struct {
	WorkflowID string         `json:"workflow_id"`
	Topics     []domain.Topic `json:"topics,omitempty"`
}

// CreateSubscriptionToken mints a short-lived token for the caller's own
// workflow channel.
func (c *RealtimeController) CreateSubscriptionToken(ctx fiber.Ctx) error {
	var req subscriptionTokenRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.WorkflowID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Workflow ID is required")
	}

	userID := middlewares.SessionUserID(ctx)
	channel := domain.ChannelFor(userID, req.WorkflowID)

	token, err := c.tokens.Issue(userID, channel, req.Topics)
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(fiber.Map{
		"token":   token,
		"channel": channel.Name(),
	})
}

// StreamUpdates relays a channel topic over server-sent events. Auth is the
// subscription token alone so browser EventSource clients can connect without
// a session header.
func (c *RealtimeController) StreamUpdates(ctx fiber.Ctx) error {
	channelName := ctx.Query("channel")
	if channelName == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Channel is required")
	}

	channel, err := domain.ParseChannel(channelName)
	if err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid channel name")
	}

	topic := domain.Topic(ctx.Query("topic", string(domain.TopicUpdates)))
	if topic != domain.TopicUpdates && topic != domain.TopicAIStream {
		return fiber.NewError(fiber.StatusBadRequest, "Unknown topic")
	}

	if err := c.tokens.Verify(ctx.Query("token"), channel, topic); err != nil {
		return toHTTPError(err)
	}

	// The subscription must outlive this handler: fiber recycles the request
	// context once the stream writer takes over.
	subscription, err := c.bus.Subscribe(context.Background(), channel, topic)
	if err != nil {
		log.Error().Err(err).Str("channel", channel.Name()).Msg("Failed to subscribe for relay")

		return fiber.NewError(fiber.StatusServiceUnavailable, "Realtime subscription unavailable")
	}

	ctx.Set(fiber.HeaderContentType, "text/event-stream")
	ctx.Set(fiber.HeaderCacheControl, "no-cache")
	ctx.Set(fiber.HeaderConnection, "keep-alive")

	return ctx.SendStreamWriter(func(w *bufio.Writer) {
		defer subscription.Close()

		for envelope := range subscription.C {
			data, err := json.Marshal(envelope)
			if err != nil {
				continue
			}

			if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
				return
			}

			if err := w.Flush(); err != nil {
				return
			}
		}
	})
}
