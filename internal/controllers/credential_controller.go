package controllers

import (
	"github.com/duramation/duramation/internal/credentials"
	"github.com/duramation/duramation/internal/middlewares"
	"github.com/duramation/duramation/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// CredentialController handles the manual credential endpoints. OAuth
// credentials never pass through here; they are created by the OAuth callback.
type CredentialController struct {
	credentialService *credentials.Service
}

type CredentialControllerDependencies struct {
	CredentialService *credentials.Service
}

func NewCredentialController(deps CredentialControllerDependencies) *CredentialController {
	return &CredentialController{
		credentialService: deps.CredentialService,
	}
}

type createCredentialRequest struct {
	Name     string                `json:"name"`
	Provider domain.Provider       `json:"provider"`
	Type     domain.CredentialType `json:"type"`
	APIKey   string                `json:"api_key"`
	Extra    map[string]string     `json:"extra,omitempty"`
	Config   map[string]any        `json:"config,omitempty"`
}

func (r createCredentialRequest) toParams() domain.CreateCredentialParams {
	return domain.CreateCredentialParams{
		Name:     r.Name,
		Type:     r.Type,
		Provider: r.Provider,
		Secret: domain.SecretPayload{
			APIKey: &domain.APIKeySecret{APIKey: r.APIKey, Extra: r.Extra},
		},
		Config: r.Config,
	}
}

func (c *CredentialController) ListCredentials(ctx fiber.Ctx) error {
	userID := middlewares.SessionUserID(ctx)

	listed, err := c.credentialService.ListForUser(ctx.RequestCtx(), userID)
	if err != nil {
		log.Error().Err(err).Str("user_id", userID).Msg("Failed to list credentials")
		return toHTTPError(err)
	}

	return ctx.JSON(fiber.Map{"credentials": listed})
}

func (c *CredentialController) CreateCredential(ctx fiber.Ctx) error {
	var req createCredentialRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	userID := middlewares.SessionUserID(ctx)

	created, err := c.credentialService.Store(ctx.RequestCtx(), userID, req.toParams())
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(created)
}

func (c *CredentialController) CreateWorkflowCredential(ctx fiber.Ctx) error {
	workflowID := ctx.Params("workflowID")
	if workflowID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Workflow ID is required")
	}

	var req createCredentialRequest

	if err := ctx.Bind().Body(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}

	userID := middlewares.SessionUserID(ctx)

	created, err := c.credentialService.StoreForWorkflow(ctx.RequestCtx(), userID, workflowID, req.toParams())
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.Status(fiber.StatusCreated).JSON(created)
}

func (c *CredentialController) DeleteCredential(ctx fiber.Ctx) error {
	credentialID := ctx.Params("credentialID")
	if credentialID == "" {
		return fiber.NewError(fiber.StatusBadRequest, "Credential ID is required")
	}

	userID := middlewares.SessionUserID(ctx)

	if err := c.credentialService.Delete(ctx.RequestCtx(), credentialID, userID); err != nil {
		return toHTTPError(err)
	}

	return ctx.SendStatus(fiber.StatusNoContent)
}
