package handlers

import (
	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/middleware"
	"breadcrumbd/internal/services"
)

// SecretHandler exposes the secrets guard over HTTP. All routes sit
// behind the curator capability; the reveal path additionally demands
// a reason for the audit trail.
type SecretHandler struct {
	secrets *services.SecretService
}

// NewSecretHandler creates a new secret handler
func NewSecretHandler(secrets *services.SecretService) *SecretHandler {
	return &SecretHandler{secrets: secrets}
}

// List returns secret metadata, never values
// GET /secrets?scope_type=&scope_id=
func (h *SecretHandler) List(c *fiber.Ctx) error {
	secrets, err := h.secrets.List(c.Context(), c.Query("scope_type"), c.Query("scope_id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(secrets)
}

// Create stores a new secret
// POST /secrets
func (h *SecretHandler) Create(c *fiber.Ctx) error {
	var req struct {
		Name      string `json:"name"`
		ScopeType string `json:"scope_type"`
		ScopeID   string `json:"scope_id"`
		Value     string `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)
	secret, err := h.secrets.Create(c.Context(), id.AgentID, req.Name, req.ScopeType, req.ScopeID, req.Value)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(secret)
}

// Update replaces a secret's value
// PUT /secrets/:id
func (h *SecretHandler) Update(c *fiber.Ctx) error {
	var req struct {
		Value  string `json:"value"`
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)
	if err := h.secrets.Update(c.Context(), id.AgentID, c.Params("id"), req.Value, req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Delete removes a secret
// DELETE /secrets/:id
func (h *SecretHandler) Delete(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	_ = c.BodyParser(&req)

	id := middleware.IdentityFromCtx(c)
	if err := h.secrets.Delete(c.Context(), id.AgentID, c.Params("id"), req.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Decrypt reveals a secret value and audits the reveal
// POST /secrets/:id/decrypt
func (h *SecretHandler) Decrypt(c *fiber.Ctx) error {
	var req struct {
		Reason string `json:"reason"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)
	plaintext, err := h.secrets.Decrypt(c.Context(), id.AgentID, c.Params("id"), req.Reason)
	if err != nil {
		return respondError(c, err)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordSecretDecrypt()
	}
	return c.JSON(fiber.Map{"value": plaintext})
}

// Audits returns the audit trail for a secret
// GET /secrets/:id/audit
func (h *SecretHandler) Audits(c *fiber.Ctx) error {
	audits, err := h.secrets.Audits(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(audits)
}
