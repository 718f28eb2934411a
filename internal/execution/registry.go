package execution

import (
	"context"
	"sync"

	"github.com/duramation/duramation/pkg/domain"
)

// BodyRegistry maps engine event names to the workflow bodies they trigger.
// Unknown events fall back to a passthrough body so the service can track runs
// for workflows whose logic lives entirely in the engine.
type BodyRegistry struct {
	mu     sync.RWMutex
	bodies map[string]domain.WorkflowBody
}

func NewBodyRegistry() *BodyRegistry {
	return &BodyRegistry{bodies: map[string]domain.WorkflowBody{}}
}

func (r *BodyRegistry) Register(eventName string, body domain.WorkflowBody) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.bodies[eventName] = body
}

func (r *BodyRegistry) Get(eventName string) domain.WorkflowBody {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if body, ok := r.bodies[eventName]; ok {
		return body
	}

	return passthroughBody
}

func passthroughBody(ctx context.Context, execCtx *domain.ExecutionContext) error {
	execCtx.UpdateStatus(ctx, "Workflow run started", map[string]any{
		"engine_run_id": execCtx.EngineRunID,
	})

	return nil
}
