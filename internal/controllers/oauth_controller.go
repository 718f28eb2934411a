package controllers

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/duramation/duramation/internal/credentials"
	"github.com/duramation/duramation/internal/middlewares"
	"github.com/duramation/duramation/internal/providers"
	"github.com/duramation/duramation/pkg/domain"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// OAuthController drives the OAuth connect flow: auth URL generation and the
// provider callback. The state envelope only routes the callback; the
// authenticated session decides who owns the resulting credential.
type OAuthController struct {
	registry          *providers.Registry
	credentialService *credentials.Service
	dashboardURL      string
}

type OAuthControllerDependencies struct {
	Registry          *providers.Registry
	CredentialService *credentials.Service
	DashboardURL      string
}

func NewOAuthController(deps OAuthControllerDependencies) *OAuthController {
	return &OAuthController{
		registry:          deps.Registry,
		credentialService: deps.CredentialService,
		dashboardURL:      deps.DashboardURL,
	}
}

func (c *OAuthController) GetAuthURL(ctx fiber.Ctx) error {
	provider := domain.Provider(strings.ToUpper(ctx.Query("provider")))
	workflowID := ctx.Query("workflow_id")

	config, err := c.registry.Get(provider)
	if err != nil {
		return toHTTPError(err)
	}

	handler, err := c.registry.OAuthHandlerFor(provider)
	if err != nil {
		return toHTTPError(err)
	}

	scopes := config.OAuth.DefaultScopes
	if raw := ctx.Query("scopes"); raw != "" {
		scopes = strings.Split(raw, ",")
	}

	state, err := providers.EncodeState(providers.State{
		UserID:     middlewares.SessionUserID(ctx),
		WorkflowID: workflowID,
	})
	if err != nil {
		return toHTTPError(err)
	}

	authURL, err := handler.AuthURL(scopes, state)
	if err != nil {
		return toHTTPError(err)
	}

	return ctx.JSON(fiber.Map{"auth_url": authURL})
}

func (c *OAuthController) HandleCallback(ctx fiber.Ctx) error {
	provider := domain.Provider(strings.ToUpper(ctx.Query("provider")))

	state, err := providers.DecodeState(ctx.Query("state"))
	if err != nil {
		log.Warn().Err(err).Msg("OAuth callback with malformed state")
		return c.redirectError(ctx, state, "invalid_state")
	}

	if providerErr := ctx.Query("error"); providerErr != "" {
		log.Info().
			Str("provider", string(provider)).
			Str("error", providerErr).
			Msg("OAuth consent denied")

		return c.redirectError(ctx, state, providerErr)
	}

	// the session decides ownership; the state user id is routing metadata only
	userID := middlewares.SessionUserID(ctx)
	if state.UserID != userID {
		log.Warn().
			Str("state_user_id", state.UserID).
			Str("session_user_id", userID).
			Msg("OAuth state user does not match session")
	}

	config, err := c.registry.Get(provider)
	if err != nil {
		return c.redirectError(ctx, state, "unknown_provider")
	}

	handler, err := c.registry.OAuthHandlerFor(provider)
	if err != nil {
		return c.redirectError(ctx, state, "unknown_provider")
	}

	secret, err := handler.Exchange(ctx.RequestCtx(), ctx.Query("code"))
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("OAuth code exchange failed")
		return c.redirectError(ctx, state, "exchange_failed")
	}

	_, err = c.credentialService.StoreOAuthCredential(ctx.RequestCtx(), userID, state.WorkflowID, domain.CreateCredentialParams{
		Name:     fmt.Sprintf("%s account", config.Name),
		Type:     domain.CredentialTypeOAuth,
		Provider: provider,
		Secret:   secret,
	})
	if err != nil {
		log.Error().Err(err).Str("provider", string(provider)).Msg("Failed to store OAuth credential")
		return c.redirectError(ctx, state, "storage_failed")
	}

	return ctx.Redirect().To(c.dashboardTarget(state, url.Values{
		"credential_connected": {strings.ToLower(string(provider))},
	}))
}

func (c *OAuthController) redirectError(ctx fiber.Ctx, state providers.State, code string) error {
	return ctx.Redirect().To(c.dashboardTarget(state, url.Values{
		"credential_error": {code},
	}))
}

func (c *OAuthController) dashboardTarget(state providers.State, query url.Values) string {
	target := c.dashboardURL + "/credentials"
	if state.WorkflowID != "" {
		target = fmt.Sprintf("%s/workflows/%s", c.dashboardURL, state.WorkflowID)
	}

	return target + "?" + query.Encode()
}
