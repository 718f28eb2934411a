package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeTracker struct {
	mu          sync.Mutex
	admission   domain.Admission
	admitErr    error
	transitions []recordedTransition
}

type recordedTransition struct {
	engineRunID string
	to          domain.RunStatus
	err         error
}

func (t *fakeTracker) Admit(ctx context.Context, params domain.AdmitParams) (domain.Admission, error) {
	if t.admitErr != nil {
		return domain.Admission{}, t.admitErr
	}

	if t.admission.Run.EngineRunID != "" {
		return t.admission, nil
	}

	return domain.Admission{Run: domain.WorkflowRun{
		ID:             "run-row-1",
		WorkflowID:     params.WorkflowID,
		UserID:         params.UserID,
		EngineRunID:    params.EngineRunID,
		IdempotencyKey: params.IdempotencyKey,
		Status:         domain.RunStatusRunning,
	}}, nil
}

func (t *fakeTracker) Transition(ctx context.Context, engineRunID string, to domain.RunStatus, runErr error) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.transitions = append(t.transitions, recordedTransition{engineRunID: engineRunID, to: to, err: runErr})

	return nil
}

func (t *fakeTracker) Cancel(ctx context.Context, workflowID, userID string) error {
	return nil
}

func (t *fakeTracker) ListRuns(ctx context.Context, workflowID, userID string, limit int) ([]domain.WorkflowRun, error) {
	return nil, nil
}

func (t *fakeTracker) recorded() []recordedTransition {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]recordedTransition{}, t.transitions...)
}

type stubResolver struct {
	credentials []domain.DecryptedCredential
	err         error
}

func (r *stubResolver) Resolve(ctx context.Context, workflowID string, required []domain.Provider) ([]domain.DecryptedCredential, error) {
	return r.credentials, r.err
}

func newTestBuilder(tracker *fakeTracker, resolver *stubResolver) *Builder {
	return NewBuilder(BuilderDependencies{
		RunTracker:  tracker,
		Credentials: resolver,
	})
}

func startParams(body domain.WorkflowBody) StartRunParams {
	return StartRunParams{
		UserID:         "user-1",
		WorkflowID:     "wf-1",
		IdempotencyKey: "k1",
		EngineRunID:    "engine-run-1",
		Input:          map[string]any{"query": "hello"},
		Body:           body,
	}
}

func TestBuilder_StartRun_Success(t *testing.T) {
	tracker := &fakeTracker{}
	resolver := &stubResolver{
		credentials: []domain.DecryptedCredential{
			{Credential: domain.Credential{Provider: domain.ProviderFirecrawl}},
		},
	}
	builder := newTestBuilder(tracker, resolver)

	var seen *domain.ExecutionContext
	result, err := builder.StartRun(context.Background(), startParams(func(ctx context.Context, execCtx *domain.ExecutionContext) error {
		seen = execCtx

		fromCtx, ok := domain.GetExecutionContext(ctx)
		require.True(t, ok)
		assert.Same(t, execCtx, fromCtx)

		return nil
	}))
	require.NoError(t, err)
	assert.False(t, result.Deduplicated)

	require.NotNil(t, seen)
	assert.Equal(t, "user-1", seen.UserID)
	assert.Equal(t, "engine-run-1", seen.EngineRunID)
	assert.Equal(t, "hello", seen.Input["query"])

	_, found := seen.CredentialFor(domain.ProviderFirecrawl)
	assert.True(t, found)

	transitions := tracker.recorded()
	require.Len(t, transitions, 1)
	assert.Equal(t, "engine-run-1", transitions[0].engineRunID)
	assert.Equal(t, domain.RunStatusCompleted, transitions[0].to)
}

func TestBuilder_StartRun_DeduplicatedSkipsBody(t *testing.T) {
	tracker := &fakeTracker{
		admission: domain.Admission{
			Run:          domain.WorkflowRun{EngineRunID: "earlier-run", Status: domain.RunStatusRunning},
			Deduplicated: true,
		},
	}
	builder := newTestBuilder(tracker, &stubResolver{})

	bodyRan := false
	result, err := builder.StartRun(context.Background(), startParams(func(ctx context.Context, execCtx *domain.ExecutionContext) error {
		bodyRan = true

		return nil
	}))
	require.NoError(t, err)
	assert.True(t, result.Deduplicated)
	assert.Equal(t, "earlier-run", result.Run.EngineRunID)
	assert.False(t, bodyRan)
	assert.Empty(t, tracker.recorded())
}

func TestBuilder_StartRun_ResolveFailureFailsRun(t *testing.T) {
	tracker := &fakeTracker{}
	resolver := &stubResolver{
		err: &domain.CredentialError{Code: domain.CredentialErrorMissing, Provider: domain.ProviderGoogle},
	}
	builder := newTestBuilder(tracker, resolver)

	bodyRan := false
	_, err := builder.StartRun(context.Background(), startParams(func(ctx context.Context, execCtx *domain.ExecutionContext) error {
		bodyRan = true

		return nil
	}))
	require.Error(t, err)

	var credErr *domain.CredentialError
	assert.ErrorAs(t, err, &credErr)
	assert.False(t, bodyRan)

	transitions := tracker.recorded()
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.RunStatusFailed, transitions[0].to)
}

func TestBuilder_StartRun_BodyErrorFailsRun(t *testing.T) {
	tracker := &fakeTracker{}
	builder := newTestBuilder(tracker, &stubResolver{})

	bodyErr := errors.New("step exploded")
	_, err := builder.StartRun(context.Background(), startParams(func(ctx context.Context, execCtx *domain.ExecutionContext) error {
		return bodyErr
	}))
	require.ErrorIs(t, err, bodyErr)

	transitions := tracker.recorded()
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.RunStatusFailed, transitions[0].to)
	assert.ErrorIs(t, transitions[0].err, bodyErr)
}

func TestBuilder_StartRun_BodyPanicFailsRun(t *testing.T) {
	tracker := &fakeTracker{}
	builder := newTestBuilder(tracker, &stubResolver{})

	_, err := builder.StartRun(context.Background(), startParams(func(ctx context.Context, execCtx *domain.ExecutionContext) error {
		panic("boom")
	}))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panicked")

	transitions := tracker.recorded()
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.RunStatusFailed, transitions[0].to)
}

func TestBuilder_StartRun_NilBodyFailsRun(t *testing.T) {
	tracker := &fakeTracker{}
	builder := newTestBuilder(tracker, &stubResolver{})

	params := startParams(nil)

	_, err := builder.StartRun(context.Background(), params)
	require.Error(t, err)

	transitions := tracker.recorded()
	require.Len(t, transitions, 1)
	assert.Equal(t, domain.RunStatusFailed, transitions[0].to)
}
