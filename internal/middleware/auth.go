package middleware

import (
	"log"

	"github.com/gofiber/fiber/v2"

	"breadcrumbd/pkg/auth"
)

// AuthMiddleware verifies bearer tokens and stores the agent identity
// in request locals. Tokens are accepted from the Authorization header
// or, for stream connections that cannot set headers, the token query
// parameter.
func AuthMiddleware(tokenAuth *auth.TokenAuth) fiber.Handler {
	return func(c *fiber.Ctx) error {
		var token string

		if authHeader := c.Get("Authorization"); authHeader != "" {
			extracted, err := auth.ExtractToken(authHeader)
			if err == nil {
				token = extracted
			}
		}
		if token == "" {
			token = c.Query("token")
		}
		if token == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Missing or invalid authorization token",
			})
		}

		claims, err := tokenAuth.VerifyToken(token)
		if err != nil {
			log.Printf("[AUTH] Token rejected: %v", err)
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error":   "unauthorized",
				"message": "Invalid or expired token",
			})
		}

		c.Locals("agent_id", claims.AgentID)
		c.Locals("owner_id", claims.OwnerID)
		c.Locals("roles", claims.Roles)
		return c.Next()
	}
}

// IdentityFromCtx reads the authenticated identity stored by
// AuthMiddleware. The zero value means no auth context is present.
func IdentityFromCtx(c *fiber.Ctx) auth.Identity {
	id := auth.Identity{}
	if v, ok := c.Locals("agent_id").(string); ok {
		id.AgentID = v
	}
	if v, ok := c.Locals("owner_id").(string); ok {
		id.OwnerID = v
	}
	if v, ok := c.Locals("roles").([]string); ok {
		id.Roles = v
	}
	return id
}
