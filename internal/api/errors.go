package api

import (
	"errors"

	"github.com/corelink-ai/provider-gateway/internal/models"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"
)

// handleGatewayError maps a service error onto the HTTP surface. Causes are
// stripped so vendor payloads and ciphertext details never leave the process.
func handleGatewayError(c *fiber.Ctx, err error, requestID string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return handleNotFound(c, "resource not found", requestID)
	}

	gwErr := models.SanitizeError(err)
	fiberlog.Warnf("[%s] request failed: %s (%s)", requestID, gwErr.Message, gwErr.Kind)

	return c.Status(gwErr.GetStatusCode()).JSON(fiber.Map{
		"error": fiber.Map{
			"kind":      gwErr.Kind,
			"message":   gwErr.Message,
			"retryable": gwErr.Retryable,
		},
		"request_id": requestID,
	})
}

func handleBadRequest(c *fiber.Ctx, message, requestID string) error {
	fiberlog.Debugf("[%s] bad request: %s", requestID, message)
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
		"error":      fiber.Map{"kind": models.ErrorKindValidation, "message": message},
		"request_id": requestID,
	})
}

func handleNotFound(c *fiber.Ctx, message, requestID string) error {
	return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
		"error":      fiber.Map{"kind": "not_found", "message": message},
		"request_id": requestID,
	})
}
