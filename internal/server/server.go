package server

import (
	"context"
	"time"

	"github.com/duramation/duramation/internal/auth"
	"github.com/duramation/duramation/internal/controllers"
	"github.com/duramation/duramation/internal/middlewares"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/cors"
	"github.com/gofiber/fiber/v3/middleware/logger"
	"github.com/rs/zerolog/log"
)

type HTTPServerDependencies struct {
	SessionManager       *auth.SessionManager
	EngineVerifier       *auth.EngineSignatureVerifier
	CredentialController *controllers.CredentialController
	OAuthController      *controllers.OAuthController
	RealtimeController   *controllers.RealtimeController
	RunController        *controllers.RunController
}

func NewHTTPServer(ctx context.Context, deps HTTPServerDependencies) *fiber.App {
	router := fiber.New(fiber.Config{
		AppName: "duramation",
	})

	router.Use(cors.New())
	router.Use(logger.New())

	router.Get("/health", func(c fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{
			"status":    "healthy",
			"service":   "duramation",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	})

	if deps.EngineVerifier == nil {
		log.Fatal().Msg("Engine signature verifier is nil, configure the engine public key")
	}

	workspace := router.Group("/workspace")
	workspace.Use(middlewares.EngineSignatureMiddleware(deps.EngineVerifier))

	workspace.Post("/executions", deps.RunController.TriggerExecution)
	workspace.Post("/cancellations", deps.RunController.CancelExecution)

	// authenticated by the subscription token, not the session
	router.Get("/realtime/stream", deps.RealtimeController.StreamUpdates)

	api := router.Group("/api")
	api.Use(middlewares.SessionMiddleware(deps.SessionManager))

	api.Get("/credentials", deps.CredentialController.ListCredentials)
	api.Post("/credentials", deps.CredentialController.CreateCredential)
	api.Delete("/credentials/:credentialID", deps.CredentialController.DeleteCredential)
	api.Post("/workflows/:workflowID/credentials", deps.CredentialController.CreateWorkflowCredential)

	api.Get("/credentials/oauth/auth-url", deps.OAuthController.GetAuthURL)
	api.Get("/credentials/oauth/callback", deps.OAuthController.HandleCallback)

	api.Post("/realtime/subscription-token", deps.RealtimeController.CreateSubscriptionToken)

	api.Get("/workflows/:workflowID/runs", deps.RunController.ListRuns)
	api.Post("/workflows/:workflowID/trigger", deps.RunController.TriggerWorkflow)
	api.Post("/workflows/:workflowID/cancel", deps.RunController.CancelWorkflow)

	return router
}
