package handlers

import (
	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/jobs"
)

// AdminHandler exposes operational endpoints
type AdminHandler struct {
	purger *jobs.TTLPurger
}

// NewAdminHandler creates a new admin handler
func NewAdminHandler(purger *jobs.TTLPurger) *AdminHandler {
	return &AdminHandler{purger: purger}
}

// Purge triggers a TTL sweep immediately
// POST /admin/purge
func (h *AdminHandler) Purge(c *fiber.Ctx) error {
	purged := h.purger.Sweep(c.Context())
	return c.JSON(fiber.Map{"ok": true, "purged": purged})
}
