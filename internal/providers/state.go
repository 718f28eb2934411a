package providers

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// State is the envelope round-tripped through the provider's state parameter.
// It is not a secret and must never be trusted as authorization: the callback
// re-derives the authenticated user from its own session and only uses the
// decoded ids to route the resulting credential.
type State struct {
	UserID     string `json:"user_id"`
	WorkflowID string `json:"workflow_id,omitempty"`
}

func EncodeState(state State) (string, error) {
	raw, err := json.Marshal(state)
	if err != nil {
		return "", fmt.Errorf("failed to encode state: %w", err)
	}

	return base64.URLEncoding.EncodeToString(raw), nil
}

func DecodeState(encoded string) (State, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return State{}, fmt.Errorf("failed to decode state: %w", err)
	}

	var state State
	if err := json.Unmarshal(raw, &state); err != nil {
		return State{}, fmt.Errorf("failed to decode state: %w", err)
	}

	if state.UserID == "" {
		return State{}, fmt.Errorf("state is missing user id")
	}

	return state, nil
}
