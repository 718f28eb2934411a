package middlewares

import (
	"strings"

	"github.com/duramation/duramation/internal/auth"

	"github.com/gofiber/fiber/v3"
	"github.com/rs/zerolog/log"
)

const userIDLocal = "user_id"

// SessionMiddleware authenticates dashboard requests by bearer token and
// stores the user id in request locals.
func SessionMiddleware(sessions *auth.SessionManager) fiber.Handler {
	return func(c fiber.Ctx) error {
		header := c.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Missing bearer token",
			})
		}

		userID, err := sessions.VerifyToken(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			log.Debug().Err(err).Str("path", c.Path()).Msg("Session verification failed")

			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "Invalid session",
			})
		}

		c.Locals(userIDLocal, userID)

		return c.Next()
	}
}

// SessionUserID returns the authenticated user id set by SessionMiddleware.
func SessionUserID(c fiber.Ctx) string {
	userID, _ := c.Locals(userIDLocal).(string)

	return userID
}
