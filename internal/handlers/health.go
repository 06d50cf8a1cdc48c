package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/database"
	"breadcrumbd/internal/events"
)

// HealthHandler handles health check requests
type HealthHandler struct {
	db  *database.DB
	bus *events.Bus
}

// NewHealthHandler creates a new health handler
func NewHealthHandler(db *database.DB, bus *events.Bus) *HealthHandler {
	return &HealthHandler{db: db, bus: bus}
}

// Handle responds with server health status
func (h *HealthHandler) Handle(c *fiber.Ctx) error {
	status := "healthy"
	if err := h.db.Ping(); err != nil {
		status = "degraded"
	}
	return c.JSON(fiber.Map{
		"status":      status,
		"subscribers": h.bus.SubscriberCount(),
		"timestamp":   time.Now().Format(time.RFC3339),
	})
}
