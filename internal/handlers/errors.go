package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/services"
)

// respondError maps service sentinel errors to the HTTP error taxonomy.
// Version conflicts surface as 412 so If-Match semantics hold.
func respondError(c *fiber.Ctx, err error) error {
	switch {
	case errors.Is(err, services.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
			"error":   "not_found",
			"message": "Unknown identifier",
		})
	case errors.Is(err, services.ErrVersionConflict):
		return c.Status(fiber.StatusPreconditionFailed).JSON(fiber.Map{
			"error":   "version_mismatch",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrValidation):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": err.Error(),
		})
	case errors.Is(err, services.ErrDuplicate):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error":   "conflict",
			"message": err.Error(),
		})
	default:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error":   "internal",
			"message": "Internal server error",
		})
	}
}
