package execution

import (
	"context"
	"fmt"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/rs/zerolog/log"
)

type BuilderDependencies struct {
	RunTracker  domain.RunTracker
	Credentials domain.CredentialResolver
	Bus         domain.RealtimeBus
}

// Builder assembles everything a run needs before the workflow body executes:
// admission through the run tracker, credential resolution for the workflow's
// linked providers and an execution context bound to the run's channel.
type Builder struct {
	tracker     domain.RunTracker
	credentials domain.CredentialResolver
	bus         domain.RealtimeBus
}

func NewBuilder(deps BuilderDependencies) *Builder {
	return &Builder{
		tracker:     deps.RunTracker,
		credentials: deps.Credentials,
		bus:         deps.Bus,
	}
}

type StartRunParams struct {
	UserID         string
	WorkflowID     string
	IdempotencyKey string
	EngineRunID    string
	Input          map[string]any

	// RequiredProviders fail the run when their credential cannot be resolved.
	RequiredProviders []domain.Provider

	Body domain.WorkflowBody
}

type StartRunResult struct {
	Run          domain.WorkflowRun
	Deduplicated bool
}

// StartRun admits the run and drives the workflow body to a terminal state.
// Deduplicated admissions return immediately without invoking the body. The
// run's terminal status is published on the updates topic unless another
// writer, such as a cancellation, already terminated it.
func (b *Builder) StartRun(ctx context.Context, params StartRunParams) (StartRunResult, error) {
	admission, err := b.tracker.Admit(ctx, domain.AdmitParams{
		WorkflowID:     params.WorkflowID,
		UserID:         params.UserID,
		IdempotencyKey: params.IdempotencyKey,
		EngineRunID:    params.EngineRunID,
	})
	if err != nil {
		return StartRunResult{}, err
	}

	if admission.Deduplicated {
		return StartRunResult{Run: admission.Run, Deduplicated: true}, nil
	}

	run := admission.Run

	resolved, err := b.credentials.Resolve(ctx, params.WorkflowID, params.RequiredProviders)
	if err != nil {
		b.finish(ctx, run, domain.RunStatusFailed, err)

		return StartRunResult{Run: run}, fmt.Errorf("failed to resolve credentials for run: %w", err)
	}

	execCtx := domain.NewExecutionContext(domain.NewExecutionContextParams{
		UserID:         params.UserID,
		WorkflowID:     params.WorkflowID,
		EngineRunID:    run.EngineRunID,
		IdempotencyKey: params.IdempotencyKey,
		Input:          params.Input,
		Credentials:    resolved,
		Bus:            b.bus,
	})

	bodyErr := b.runBody(domain.NewContextWithExecutionContext(ctx, execCtx), execCtx, params.Body)
	if bodyErr != nil {
		b.finish(ctx, run, domain.RunStatusFailed, bodyErr)

		return StartRunResult{Run: run}, bodyErr
	}

	b.finish(ctx, run, domain.RunStatusCompleted, nil)

	return StartRunResult{Run: run}, nil
}

func (b *Builder) runBody(ctx context.Context, execCtx *domain.ExecutionContext, body domain.WorkflowBody) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("workflow body panicked: %v", r)

			log.Error().
				Str("engine_run_id", execCtx.EngineRunID).
				Str("workflow_id", execCtx.WorkflowID).
				Interface("panic", r).
				Msg("Workflow body panicked")
		}
	}()

	if body == nil {
		return fmt.Errorf("workflow body is nil")
	}

	return body(ctx, execCtx)
}

// finish terminal-writes the run and announces the outcome. The tracker's
// transition is a no-op when the run was already terminated, typically by a
// concurrent cancellation, and that earlier outcome stands.
func (b *Builder) finish(ctx context.Context, run domain.WorkflowRun, to domain.RunStatus, cause error) {
	if err := b.tracker.Transition(ctx, run.EngineRunID, to, cause); err != nil {
		log.Error().Err(err).
			Str("engine_run_id", run.EngineRunID).
			Str("status", string(to)).
			Msg("Failed to record run outcome")
	}
}
