package middlewares

import (
	"github.com/duramation/duramation/internal/auth"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

// EngineSignatureMiddleware authenticates requests from the execution engine
// on the workspace endpoints.
func EngineSignatureMiddleware(verifier *auth.EngineSignatureVerifier) fiber.Handler {
	return func(c fiber.Ctx) error {
		signatureHeader := c.Get(auth.SignatureHeader)
		timestampHeader := c.Get(auth.TimestampHeader)

		if signatureHeader == "" || timestampHeader == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing request signature",
			})
		}

		err := verifier.VerifyRequest(c.Method(), c.Path(), signatureHeader, timestampHeader, c.Body())
		if err != nil {
			log.Warn().
				Err(err).
				Str("path", c.Path()).
				Msg("Engine signature verification failed")

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid request signature",
			})
		}

		return c.Next()
	}
}
