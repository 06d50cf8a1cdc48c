package handlers

import (
	"log"
	"time"

	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/logging"
	"breadcrumbd/internal/services"
	"breadcrumbd/pkg/auth"
)

// AuthHandler issues bearer tokens for registered agents
type AuthHandler struct {
	agents    *services.AgentService
	tokenAuth *auth.TokenAuth
}

// NewAuthHandler creates a new auth handler
func NewAuthHandler(agents *services.AgentService, tokenAuth *auth.TokenAuth) *AuthHandler {
	return &AuthHandler{agents: agents, tokenAuth: tokenAuth}
}

// Token exchanges an agent credential for a bearer token
// POST /auth/token
func (h *AuthHandler) Token(c *fiber.Ctx) error {
	var req struct {
		AgentID string `json:"agent_id"`
		Secret  string `json:"secret"`
	}
	if err := c.BodyParser(&req); err != nil || req.AgentID == "" || req.Secret == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "agent_id and secret are required",
		})
	}

	agent, err := h.agents.Authenticate(c.Context(), req.AgentID, req.Secret)
	if err != nil {
		log.Printf("[AUTH] Token request rejected for %s", req.AgentID)
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "Invalid agent credentials",
		})
	}

	token, err := h.tokenAuth.GenerateToken(agent.ID, agent.OwnerID, agent.Roles)
	if err != nil {
		return respondError(c, err)
	}
	logging.WithAgent(agent.ID, agent.OwnerID).Info("token issued", "roles", agent.Roles)

	return c.JSON(fiber.Map{
		"access_token": token,
		"token_type":   "Bearer",
		"expires_in":   int(h.tokenAuth.AccessTokenExpiry / time.Second),
		"roles":        agent.Roles,
	})
}
