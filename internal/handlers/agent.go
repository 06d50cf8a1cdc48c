package handlers

import (
	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/services"
)

// AgentHandler manages agent registrations
type AgentHandler struct {
	agents *services.AgentService
}

// NewAgentHandler creates a new agent handler
func NewAgentHandler(agents *services.AgentService) *AgentHandler {
	return &AgentHandler{agents: agents}
}

// Register creates an agent registration
// POST /agents
func (h *AgentHandler) Register(c *fiber.Ctx) error {
	var req struct {
		ID      string   `json:"id"`
		OwnerID string   `json:"owner_id"`
		Roles   []string `json:"roles"`
		Secret  string   `json:"secret"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	agent, err := h.agents.Register(c.Context(), req.ID, req.OwnerID, req.Roles, req.Secret)
	if err != nil {
		return respondError(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(agent)
}

// List returns all registered agents
// GET /agents
func (h *AgentHandler) List(c *fiber.Ctx) error {
	agents, err := h.agents.List(c.Context())
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(agents)
}

// Get returns one agent
// GET /agents/:id
func (h *AgentHandler) Get(c *fiber.Ctx) error {
	agent, err := h.agents.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(agent)
}

// SetRoles replaces an agent's role grants
// PUT /agents/:id/roles
func (h *AgentHandler) SetRoles(c *fiber.Ctx) error {
	var req struct {
		Roles []string `json:"roles"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	agent, err := h.agents.SetRoles(c.Context(), c.Params("id"), req.Roles)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(agent)
}

// SetSecret rotates an agent's credential
// POST /agents/:id/secret
func (h *AgentHandler) SetSecret(c *fiber.Ctx) error {
	var req struct {
		Secret string `json:"secret"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	if err := h.agents.SetSecret(c.Context(), c.Params("id"), req.Secret); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Delete removes an agent registration
// DELETE /agents/:id
func (h *AgentHandler) Delete(c *fiber.Ctx) error {
	if err := h.agents.Delete(c.Context(), c.Params("id")); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}
