package controllers

import (
	"strconv"
	"time"

	"github.com/duramation/duramation/internal/execution"
	"github.com/duramation/duramation/internal/middlewares"
	"github.com/duramation/duramation/pkg/domain"
	"github.com/duramation/duramation/pkg/engine"

	"github.com/gofiber/fiber/v3"
	"github.com/google/uuid"
	"github.com/rs/xid"
	"github.com/rs/zerolog/log"
)

const defaultRunListLimit = 50

// RunController serves the engine-facing execution endpoints and the
// dashboard's run history listing.
type RunController struct {
	builder      *execution.Builder
	bodies       *execution.BodyRegistry
	runTracker   domain.RunTracker
	engineClient *engine.Client
}

type RunControllerDependencies struct {
	Builder      *execution.Builder
	BodyRegistry *execution.BodyRegistry
	RunTracker   domain.RunTracker

	// EngineClient is optional; without it the dashboard trigger endpoint is
	// unavailable and cancellation falls back to direct tracker writes.
	EngineClient *engine.Client
}

func NewRunController(deps RunControllerDependencies) *RunController {
	return &RunController{
		builder:      deps.Builder,
		bodies:       deps.BodyRegistry,
		runTracker:   deps.RunTracker,
		engineClient: deps.EngineClient,
	}
}

type triggerEnvelope struct {
	EventName string      `json:"event_name"`
	Data      triggerData `json:"data"`
}

type triggerData struct {
	WorkflowID        string            `json:"workflow_id"`
	UserID            string            `json:"user_id"`
	IdempotencyKey    string            `json:"idempotency_key"`
	EngineRunID       string            `json:"run_id,omitempty"`
	Input             map[string]any    `json:"input,omitempty"`
	RequiredProviders []domain.Provider `json:"required_providers,omitempty"`
}

// TriggerExecution admits and runs a workflow from an engine trigger envelope.
// Retried deliveries with the same idempotency key collapse onto the already
// running run.
func (c *RunController) TriggerExecution(ctx fiber.Ctx) error {
	var envelope triggerEnvelope

	if err := ctx.Bind().Body(&envelope); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	data := envelope.Data
	if data.WorkflowID == "" || data.UserID == "" || data.IdempotencyKey == "" {
		return fiber.NewError(fiber.StatusBadRequest, "workflow_id, user_id and idempotency_key are required")
	}

	engineRunID := data.EngineRunID
	if engineRunID == "" {
		engineRunID = xid.New().String()
	}

	log.Info().
		Str("event_name", envelope.EventName).
		Str("workflow_id", data.WorkflowID).
		Str("engine_run_id", engineRunID).
		Msg("Starting workflow execution")

	result, err := c.builder.StartRun(ctx.RequestCtx(), execution.StartRunParams{
		UserID:            data.UserID,
		WorkflowID:        data.WorkflowID,
		IdempotencyKey:    data.IdempotencyKey,
		EngineRunID:       engineRunID,
		Input:             data.Input,
		RequiredProviders: data.RequiredProviders,
		Body:              c.bodies.Get(envelope.EventName),
	})
	if err != nil {
		log.Error().Err(err).
			Str("workflow_id", data.WorkflowID).
			Str("engine_run_id", engineRunID).
			Msg("Workflow execution failed")

		// admission itself failed; there is no run to report
		if result.Run.EngineRunID == "" {
			return toHTTPError(err)
		}
	}

	status := result.Run.Status
	if err != nil && !result.Deduplicated {
		status = domain.RunStatusFailed
	}

	return ctx.JSON(fiber.Map{
		"run_id":        result.Run.ID,
		"engine_run_id": result.Run.EngineRunID,
		"status":        status,
		"deduplicated":  result.Deduplicated,
	})
}

type cancellationRequest struct {
	WorkflowID string `json:"workflow_id"`
	UserID     string `json:"user_id"`
}

// CancelExecution cancels whatever is currently running for the workflow and
// user. Cancelling an idle workflow succeeds as a no-op.
func (c *RunController) CancelExecution(ctx fiber.Ctx) error {
	var req cancellationRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	if req.WorkflowID == "" || req.UserID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "workflow_id and user_id are required")
	}

	if err := c.runTracker.Cancel(ctx.RequestCtx(), req.WorkflowID, req.UserID); err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(fiber.Map{"cancelled": true})
}

type triggerWorkflowRequest struct {
	Input map[string]any `json:"input,omitempty"`
}

// TriggerWorkflow sends a run request event to the engine on behalf of the
// authenticated user. The engine calls back on the workspace endpoint.
func (c *RunController) TriggerWorkflow(ctx fiber.Ctx) error {
	if c.engineClient == nil {
		return fiber.NewError(fiber.StatusServiceUnavailable, "Execution engine is not configured")
	}

	workflowID := ctx.Params("workflowID")
	if workflowID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Workflow ID is required")
	}

	var req triggerWorkflowRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	userID := middlewares.SessionUserID(ctx)
	idempotencyKey := uuid.NewString()

	resp, err := c.engineClient.TriggerWorkflow(ctx.RequestCtx(), workflowID, userID, idempotencyKey, req.Input)
	if err != nil {
		log.Error().Err(err).Str("workflow_id", workflowID).Msg("Failed to send trigger event")
		return fiber.NewError(fiber.StatusBadGateway, "Failed to reach execution engine")
	}

	return ctx.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"event_ids":       resp.IDs,
		"idempotency_key": idempotencyKey,
	})
}

// CancelWorkflow cancels the caller's current run of a workflow. When the
// engine is configured the cancellation routes through it so engine-side state
// is cleaned up too; otherwise the tracker is written directly.
func (c *RunController) CancelWorkflow(ctx fiber.Ctx) error {
	workflowID := ctx.Params("workflowID")
	if workflowID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Workflow ID is required")
	}

	userID := middlewares.SessionUserID(ctx)

	if c.engineClient != nil {
		if _, err := c.engineClient.CancelWorkflow(ctx.RequestCtx(), workflowID, userID); err != nil {
			log.Error().Err(err).Str("workflow_id", workflowID).Msg("Failed to send cancel event")
			return fiber.NewError(fiber.StatusBadGateway, "Failed to reach execution engine")
		}

		return ctx.JSON(fiber.Map{"cancelled": true})
	}

	if err := c.runTracker.Cancel(ctx.RequestCtx(), workflowID, userID); err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(fiber.Map{"cancelled": true})
}

type runResponse struct {
	ID          string           `json:"id"`
	WorkflowID  string           `json:"workflow_id"`
	EngineRunID string           `json:"engine_run_id"`
	Status      domain.RunStatus `json:"status"`
	StartedAt   string           `json:"started_at"`
	CompletedAt *string          `json:"completed_at,omitempty"`
	Error       string           `json:"error,omitempty"`
}

// ListRuns returns the caller's recent runs for one workflow, newest first.
func (c *RunController) ListRuns(ctx fiber.Ctx) error {
	workflowID := ctx.Params("workflowID")
	if workflowID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Workflow ID is required")
	}

	limit := defaultRunListLimit
	if raw := ctx.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			return fiber.NewError(fiber.StatusBadRequest, "Invalid limit")
		}

		limit = parsed
	}

	userID := middlewares.SessionUserID(ctx)

	listed, err := c.runTracker.ListRuns(ctx.RequestCtx(), workflowID, userID, limit)
	if err != nil {
		return toHTTPError(err)
	}

	responses := make([]runResponse, 0, len(listed))
	for _, run := range listed {
		responses = append(responses, toRunResponse(run))
	}

	return ctx.JSON(fiber.Map{"runs": responses})
}

func toRunResponse(run domain.WorkflowRun) runResponse {
	response := runResponse{
		ID:          run.ID,
		WorkflowID:  run.WorkflowID,
		EngineRunID: run.EngineRunID,
		Status:      run.Status,
		StartedAt:   run.StartedAt.Format(time.RFC3339),
		Error:       run.Error,
	}

	if run.CompletedAt != nil {
		completedAt := run.CompletedAt.Format(time.RFC3339)
		response.CompletedAt = &completedAt
	}

	return response
}
