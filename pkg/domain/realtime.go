package domain

import (
	"context"
	"fmt"
	"strings"
	"time"
)

type Topic string

const (
	TopicUpdates  Topic = "updates"
	TopicAIStream Topic = "ai-stream"
)

// Channel is an addressable realtime scope for one user's one workflow.
// Channels are addressable, not pre-registered; construction is pure.
type Channel struct {
	UserID     string
	WorkflowID string
}

func ChannelFor(userID, workflowID string) Channel {
	return Channel{UserID: userID, WorkflowID: workflowID}
}

func (c Channel) Name() string {
	return fmt.Sprintf("user:%s:workflow:%s", c.UserID, c.WorkflowID)
}

func ParseChannel(name string) (Channel, error) {
	parts := strings.Split(name, ":")
	if len(parts) != 4 || parts[0] != "user" || parts[2] != "workflow" || parts[1] == "" || parts[3] == "" {
		return Channel{}, fmt.Errorf("invalid channel name %q", name)
	}

	return Channel{UserID: parts[1], WorkflowID: parts[3]}, nil
}

type UpdateType string

const (
	UpdateTypeStatus   UpdateType = "status"
	UpdateTypeProgress UpdateType = "progress"
	UpdateTypeLog      UpdateType = "log"
	UpdateTypeResult   UpdateType = "result"
)

// Update is the message shape of the updates topic.
type Update struct {
	Type      UpdateType     `json:"type"`
	Message   string         `json:"message"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

func NewUpdate(updateType UpdateType, message string, data map[string]any) Update {
	return Update{
		Type:      updateType,
		Message:   message,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// AIStreamChunk is the message shape of the ai-stream topic. A logical
// generation is a sequence of chunks terminated by exactly one IsComplete.
type AIStreamChunk struct {
	Chunk      string         `json:"chunk"`
	IsComplete bool           `json:"is_complete"`
	Metadata   map[string]any `json:"metadata,omitempty"`
}

// RealtimeBus publishes messages to all currently subscribed consumers of a
// channel and topic. Delivery is best-effort and at-least-once; ordering is
// preserved per publisher. Publish never blocks on subscriber behavior.
type RealtimeBus interface {
	Publish(ctx context.Context, channel Channel, topic Topic, message any) error
}
