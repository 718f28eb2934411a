package domain

import (
	"context"
	"time"
)

type RunStatus string

const (
	RunStatusRunning   RunStatus = "RUNNING"
	RunStatusCompleted RunStatus = "COMPLETED"
	RunStatusFailed    RunStatus = "FAILED"
	RunStatusCancelled RunStatus = "CANCELLED"
)

func (s RunStatus) Terminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

type WorkflowRun struct {
	ID             string
	WorkflowID     string
	UserID         string
	EngineRunID    string // id assigned by the external execution engine
	Status         RunStatus
	IdempotencyKey string
	StartedAt      time.Time
	CompletedAt    *time.Time
	Error          string
}

type AdmitParams struct {
	WorkflowID     string
	UserID         string
	IdempotencyKey string
	EngineRunID    string
}

type Admission struct {
	Run WorkflowRun

	// Deduplicated is true when the run was not admitted because a RUNNING
	// run already holds the same (workflow, user, idempotency key) triple, or
	// because the engine redelivered a trigger for an engine run id that was
	// already recorded. The caller must not start duplicate side effects.
	Deduplicated bool
}

// RunTracker owns the run lifecycle state machine. RUNNING is the sole
// non-terminal state; every run transitions exactly once to a terminal state.
type RunTracker interface {
	Admit(ctx context.Context, params AdmitParams) (Admission, error)

	// Transition terminal-writes a run by engine run id. Transitioning an
	// already-terminal run is a logged no-op; duplicate termination signals
	// are expected from at-least-once delivery.
	Transition(ctx context.Context, engineRunID string, to RunStatus, runErr error) error

	// Cancel terminal-writes whatever is currently running for this workflow
	// and user. Matching deliberately ignores the idempotency key.
	Cancel(ctx context.Context, workflowID, userID string) error

	// ListRuns returns recent runs of a workflow, newest first.
	ListRuns(ctx context.Context, workflowID, userID string, limit int) ([]WorkflowRun, error)
}

type RunRepository interface {
	// InsertRunning inserts a RUNNING run unless one already exists for the
	// same (workflow, user, idempotency key) triple, or a run with the same
	// engine run id was already recorded in any state. Returns the existing
	// run and inserted=false on either conflict.
	InsertRunning(ctx context.Context, run WorkflowRun) (existing WorkflowRun, inserted bool, err error)

	// Terminate conditionally moves a run to a terminal state, only if it is
	// still RUNNING. Returns updated=false when the run was already terminal.
	Terminate(ctx context.Context, engineRunID string, to RunStatus, runErr string, completedAt time.Time) (run WorkflowRun, updated bool, err error)

	// TerminateCurrent terminal-writes the RUNNING run matched by workflow and
	// user. Returns updated=false when nothing is running.
	TerminateCurrent(ctx context.Context, workflowID, userID string, to RunStatus, completedAt time.Time) (run WorkflowRun, updated bool, err error)

	ListByWorkflow(ctx context.Context, workflowID, userID string, limit int) ([]WorkflowRun, error)
}
