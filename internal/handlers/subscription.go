package handlers

import (
	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/middleware"
	"breadcrumbd/internal/models"
	"breadcrumbd/internal/services"
)

// SubscriptionHandler manages durable selector subscriptions. A stream
// connection may attach by subscription ID instead of carrying its
// selector in query parameters.
type SubscriptionHandler struct {
	subscriptions *services.SubscriptionService
}

// NewSubscriptionHandler creates a new subscription handler
func NewSubscriptionHandler(subscriptions *services.SubscriptionService) *SubscriptionHandler {
	return &SubscriptionHandler{subscriptions: subscriptions}
}

// Create stores a subscription for the calling agent
// POST /subscriptions
func (h *SubscriptionHandler) Create(c *fiber.Ctx) error {
	var sel models.Selector
	if err := c.BodyParser(&sel); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)
	sub, err := h.subscriptions.Create(c.Context(), id.AgentID, sel)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(sub)
}

// List returns the calling agent's subscriptions
// GET /subscriptions
func (h *SubscriptionHandler) List(c *fiber.Ctx) error {
	id := middleware.IdentityFromCtx(c)
	subs, err := h.subscriptions.ListByAgent(c.Context(), id.AgentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(subs)
}

// Update replaces the selector of one of the calling agent's subscriptions
// PUT /subscriptions/:id
func (h *SubscriptionHandler) Update(c *fiber.Ctx) error {
	var sel models.Selector
	if err := c.BodyParser(&sel); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)
	sub, err := h.subscriptions.Update(c.Context(), id.AgentID, c.Params("id"), sel)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(sub)
}

// Delete removes one of the calling agent's subscriptions
// DELETE /subscriptions/:id
func (h *SubscriptionHandler) Delete(c *fiber.Ctx) error {
	id := middleware.IdentityFromCtx(c)
	if err := h.subscriptions.Delete(c.Context(), id.AgentID, c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
