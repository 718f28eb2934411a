package domain

import (
	"context"
)

// WorkflowBody is the workflow code invoked under the external durable
// execution engine. It receives the execution context built for the run.
type WorkflowBody func(ctx context.Context, execCtx *ExecutionContext) error

type ExecutionContextKey struct{}

// ExecutionContext bundles everything a workflow body needs: the resolved
// credentials, a publish handle bound to the run's channel and a status
// callback. It is carried in the context.Context for code that only has ctx.
type ExecutionContext struct {
	UserID         string
	WorkflowID     string
	EngineRunID    string
	IdempotencyKey string
	Input          map[string]any

	Credentials []DecryptedCredential

	bus     RealtimeBus
	channel Channel
}

type NewExecutionContextParams struct {
	UserID         string
	WorkflowID     string
	EngineRunID    string
	IdempotencyKey string
	Input          map[string]any
	Credentials    []DecryptedCredential
	Bus            RealtimeBus
}

func NewExecutionContext(params NewExecutionContextParams) *ExecutionContext {
	return &ExecutionContext{
		UserID:         params.UserID,
		WorkflowID:     params.WorkflowID,
		EngineRunID:    params.EngineRunID,
		IdempotencyKey: params.IdempotencyKey,
		Input:          params.Input,
		Credentials:    params.Credentials,
		bus:            params.Bus,
		channel:        ChannelFor(params.UserID, params.WorkflowID),
	}
}

// CredentialFor returns the resolved credential for a provider, if any.
func (c *ExecutionContext) CredentialFor(provider Provider) (DecryptedCredential, bool) {
	for _, credential := range c.Credentials {
		if credential.Provider == provider {
			return credential, true
		}
	}

	return DecryptedCredential{}, false
}

// Publish sends a message on the run's channel. Failures are absorbed by the
// bus; publishing never fails the workflow.
func (c *ExecutionContext) Publish(ctx context.Context, topic Topic, message any) {
	if c.bus == nil {
		return
	}

	_ = c.bus.Publish(ctx, c.channel, topic, message)
}

// UpdateStatus publishes a status update on the updates topic.
func (c *ExecutionContext) UpdateStatus(ctx context.Context, message string, data map[string]any) {
	c.Publish(ctx, TopicUpdates, NewUpdate(UpdateTypeStatus, message, data))
}

func (c *ExecutionContext) Channel() Channel {
	return c.channel
}

func NewContextWithExecutionContext(ctx context.Context, execCtx *ExecutionContext) context.Context {
	return context.WithValue(ctx, ExecutionContextKey{}, execCtx)
}

func GetExecutionContext(ctx context.Context) (*ExecutionContext, bool) {
	execCtx, ok := ctx.Value(ExecutionContextKey{}).(*ExecutionContext)

	return execCtx, ok
}
