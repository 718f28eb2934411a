package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// RequestSigner produces authentication headers for outbound engine requests.
type RequestSigner interface {
	SignRequest(method, path string, body []byte) map[string]string
}

type ClientConfig struct {
	BaseURL       string
	EventKey      string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	HTTPClient    *http.Client
	Signer        RequestSigner
}

func DefaultConfig() *ClientConfig {
	return &ClientConfig{
		Timeout:       30 * time.Second,
		RetryAttempts: 2,
		RetryDelay:    time.Second,
	}
}

type ClientOption func(*ClientConfig)

func WithBaseURL(baseURL string) ClientOption {
	return func(c *ClientConfig) { c.BaseURL = baseURL }
}

func WithEventKey(eventKey string) ClientOption {
	return func(c *ClientConfig) { c.EventKey = eventKey }
}

func WithSigner(signer RequestSigner) ClientOption {
	return func(c *ClientConfig) { c.Signer = signer }
}

func WithHTTPClient(httpClient *http.Client) ClientOption {
	return func(c *ClientConfig) { c.HTTPClient = httpClient }
}

func WithRetry(attempts int, delay time.Duration) ClientOption {
	return func(c *ClientConfig) {
		c.RetryAttempts = attempts
		c.RetryDelay = delay
	}
}

// Client sends events to the durable execution engine. The engine matches
// events to workflow functions and calls back on the workspace endpoints.
type Client struct {
	config     *ClientConfig
	httpClient *http.Client
}

func NewClient(options ...ClientOption) *Client {
	config := DefaultConfig()

	for _, option := range options {
		option(config)
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}

	return &Client{
		config:     config,
		httpClient: httpClient,
	}
}

// Event is the engine's trigger envelope. The idempotency key deduplicates
// retried sends on the engine side.
type Event struct {
	Name           string         `json:"name"`
	Data           map[string]any `json:"data"`
	IdempotencyKey string         `json:"idempotency_key,omitempty"`
	Timestamp      int64          `json:"ts,omitempty"`
}

type SendEventResponse struct {
	IDs []string `json:"ids"`
}

func (c *Client) SendEvent(ctx context.Context, event *Event) (*SendEventResponse, error) {
	if event == nil {
		return nil, fmt.Errorf("event is required")
	}

	if event.Timestamp == 0 {
		event.Timestamp = time.Now().UnixMilli()
	}

	path := fmt.Sprintf("/e/%s", c.config.EventKey)

	resp, err := c.doRequest(ctx, http.MethodPost, path, event)
	if err != nil {
		return nil, fmt.Errorf("failed to send event %s: %w", event.Name, err)
	}

	var result SendEventResponse
	if err := c.handleResponse(resp, &result); err != nil {
		return nil, fmt.Errorf("failed to process send event response: %w", err)
	}

	return &result, nil
}

func (c *Client) doRequest(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyBytes []byte

	if body != nil {
		var err error
		bodyBytes, err = json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request body: %w", err)
		}
	}

	url := c.config.BaseURL + path

	var lastErr error
	for attempt := 0; attempt <= c.config.RetryAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(c.config.RetryDelay):
			}

			log.Debug().
				Str("url", url).
				Int("attempt", attempt).
				Msg("Retrying engine request")
		}

		req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(bodyBytes))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}

		req.Header.Set("Content-Type", "application/json")

		if c.config.Signer != nil {
			for name, value := range c.config.Signer.SignRequest(method, path, bodyBytes) {
				req.Header.Set(name, value)
			}
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			lastErr = err
			continue
		}

		// retry server-side failures, hand everything else back
		if resp.StatusCode >= 500 {
			lastErr = fmt.Errorf("engine returned status %d", resp.StatusCode)
			resp.Body.Close()
			continue
		}

		return resp, nil
	}

	return nil, fmt.Errorf("request failed after %d attempts: %w", c.config.RetryAttempts+1, lastErr)
}

func (c *Client) handleResponse(resp *http.Response, result any) error {
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode >= 400 {
		var errorResponse struct {
			Error   string `json:"error"`
			Message string `json:"message"`
		}

		message := string(body)
		if json.Unmarshal(body, &errorResponse) == nil {
			if errorResponse.Error != "" {
				message = errorResponse.Error
			} else if errorResponse.Message != "" {
				message = errorResponse.Message
			}
		}

		return &Error{StatusCode: resp.StatusCode, Message: message}
	}

	if result != nil && len(body) > 0 {
		if err := json.Unmarshal(body, result); err != nil {
			return fmt.Errorf("failed to unmarshal response: %w", err)
		}
	}

	return nil
}

// Error is an HTTP-level failure returned by the engine.
type Error struct {
	StatusCode int
	Message    string
}

func (e *Error) Error() string {
	return fmt.Sprintf("engine request failed with status %d: %s", e.StatusCode, e.Message)
}
