package engine

import "context"

const (
	EventWorkflowRequested = "workflow.run.requested"
	EventWorkflowCancel    = "workflow.run.cancel"
)

// TriggerWorkflow asks the engine to start a workflow run. The engine calls
// back on the workspace execution endpoint with the same envelope fields.
func (c *Client) TriggerWorkflow(ctx context.Context, workflowID, userID, idempotencyKey string, input map[string]any) (*SendEventResponse, error) {
	return c.SendEvent(ctx, &Event{
		Name:           EventWorkflowRequested,
		IdempotencyKey: idempotencyKey,
		Data: map[string]any{
			"workflow_id":     workflowID,
			"user_id":         userID,
			"idempotency_key": idempotencyKey,
			"input":           input,
		},
	})
}

// CancelWorkflow asks the engine to cancel whatever is running for the
// workflow and user. No idempotency key: cancellation targets the current run.
func (c *Client) CancelWorkflow(ctx context.Context, workflowID, userID string) (*SendEventResponse, error) {
	return c.SendEvent(ctx, &Event{
		Name: EventWorkflowCancel,
		Data: map[string]any{
			"workflow_id": workflowID,
			"user_id":     userID,
		},
	})
}
