package controllers

import (
	"errors"

	"github.com/duramation/duramation/pkg/domain"

	"github.com/gofiber/fiber/v3"
)

// toHTTPError maps domain errors onto fiber errors so handlers stay terse.
func toHTTPError(err error) error {
	var validationErr *domain.ValidationError
	if errors.As(err, &validationErr) {
		return fiber.NewError(fiber.StatusBadRequest, validationErr.Error())
	}

	var authErr *domain.AuthError
	if errors.As(err, &authErr) {
		switch authErr.Code {
		case domain.AuthErrorUnauthorized:
			return fiber.NewError(fiber.StatusForbidden, "Not allowed")
		case domain.AuthErrorInvalidCode:
			return fiber.NewError(fiber.StatusBadRequest, "Invalid authorization code")
		case domain.AuthErrorUnsupportedOperation:
			return fiber.NewError(fiber.StatusBadRequest, "Operation not supported for this provider")
		default:
			return fiber.NewError(fiber.StatusBadGateway, "Provider unavailable")
		}
	}

	if errors.Is(err, domain.ErrProviderNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Unknown provider")
	}

	if errors.Is(err, domain.ErrCredentialNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Credential not found")
	}

	if errors.Is(err, domain.ErrRunNotFound) {
		return fiber.NewError(fiber.StatusNotFound, "Run not found")
	}

	return fiber.NewError(fiber.StatusInternalServerError, "Internal server error")
}
