package runs

import (
	"context"
	"fmt"
	"time"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

// Tracker owns the run lifecycle state machine. Admission and termination are
// atomic conditional writes in the repository, so the tracker is safe under
// concurrent and redundant invocation.
type Tracker struct {
	runs domain.RunRepository
	bus  domain.RealtimeBus
	now  func() time.Time
}

type TrackerDependencies struct {
	RunRepository domain.RunRepository
	RealtimeBus   domain.RealtimeBus
}

func NewTracker(deps TrackerDependencies) *Tracker {
	return &Tracker{
		runs: deps.RunRepository,
		bus:  deps.RealtimeBus,
		now:  time.Now,
	}
}

// Admit records a run as RUNNING unless one already exists for the same
// (workflow, user, idempotency key) triple, in which case the admission is
// deduplicated and no side effects must be started.
func (t *Tracker) Admit(ctx context.Context, params domain.AdmitParams) (domain.Admission, error) {
	run := domain.WorkflowRun{
		ID:             uuid.NewString(),
		WorkflowID:     params.WorkflowID,
		UserID:         params.UserID,
		EngineRunID:    params.EngineRunID,
		Status:         domain.RunStatusRunning,
		IdempotencyKey: params.IdempotencyKey,
		StartedAt:      t.now().UTC(),
	}

	existing, inserted, err := t.runs.InsertRunning(ctx, run)
	if err != nil {
		return domain.Admission{}, fmt.Errorf("failed to admit run: %w", err)
	}

	if !inserted {
		log.Info().
			Str("workflow_id", params.WorkflowID).
			Str("user_id", params.UserID).
			Str("idempotency_key", params.IdempotencyKey).
			Str("existing_engine_run_id", existing.EngineRunID).
			Str("existing_status", string(existing.Status)).
			Msg("Run admission deduplicated")

		return domain.Admission{Run: existing, Deduplicated: true}, nil
	}

	return domain.Admission{Run: run}, nil
}

// Transition terminal-writes a run. The first terminal write wins; duplicate
// termination signals are logged no-ops because the underlying event bus
// delivers at least once.
func (t *Tracker) Transition(ctx context.Context, engineRunID string, to domain.RunStatus, runErr error) error {
	if !to.Terminal() {
		return &domain.RunStateError{RunID: engineRunID, Reason: fmt.Sprintf("transition target %s is not terminal", to)}
	}

	errMessage := ""
	if runErr != nil {
		errMessage = runErr.Error()
	}

	run, updated, err := t.runs.Terminate(ctx, engineRunID, to, errMessage, t.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to transition run %s: %w", engineRunID, err)
	}

	if !updated {
		log.Info().
			Str("engine_run_id", engineRunID).
			Str("target_status", string(to)).
			Msg("Run already terminal, transition is a no-op")

		return nil
	}

	t.publishTerminal(ctx, run, to, terminalMessage(to))

	return nil
}

func terminalMessage(status domain.RunStatus) string {
	switch status {
	case domain.RunStatusCompleted:
		return "Workflow run completed"
	case domain.RunStatusFailed:
		return "Workflow run failed"
	default:
		return "Workflow run cancelled"
	}
}

// Cancel terminal-writes whatever is currently running for this workflow and
// user. Matching deliberately ignores the idempotency key: a cancellation
// targets the current run of the workflow, not a specific attempt.
func (t *Tracker) Cancel(ctx context.Context, workflowID, userID string) error {
	run, updated, err := t.runs.TerminateCurrent(ctx, workflowID, userID, domain.RunStatusCancelled, t.now().UTC())
	if err != nil {
		return fmt.Errorf("failed to cancel run for workflow %s: %w", workflowID, err)
	}

	if !updated {
		log.Info().
			Str("workflow_id", workflowID).
			Str("user_id", userID).
			Msg("No running run to cancel")

		return nil
	}

	t.publishTerminal(ctx, run, domain.RunStatusCancelled, "Workflow run cancelled")

	return nil
}

// ListRuns returns recent runs of a workflow, newest first.
func (t *Tracker) ListRuns(ctx context.Context, workflowID, userID string, limit int) ([]domain.WorkflowRun, error) {
	return t.runs.ListByWorkflow(ctx, workflowID, userID, limit)
}

func (t *Tracker) publishTerminal(ctx context.Context, run domain.WorkflowRun, status domain.RunStatus, message string) {
	if t.bus == nil {
		return
	}

	channel := domain.ChannelFor(run.UserID, run.WorkflowID)
	update := domain.NewUpdate(domain.UpdateTypeStatus, message, map[string]any{
		"status":        string(status),
		"engine_run_id": run.EngineRunID,
	})

	_ = t.bus.Publish(ctx, channel, domain.TopicUpdates, update)
}
