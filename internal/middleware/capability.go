package middleware

import (
	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/models"
)

// Operation names checked by the capability guard.
const (
	OpCreate    = "breadcrumb.create"
	OpUpdate    = "breadcrumb.update"
	OpDelete    = "breadcrumb.delete"
	OpRead      = "breadcrumb.read"
	OpSearch    = "breadcrumb.search"
	OpSubscribe = "events.subscribe"
	OpSecretUse = "secrets.use"
)

// capabilityTable is the single authorization lookup: operation name to
// required role. Operations absent from the table require auth but no
// particular role. Decisions never consult anything beyond this table
// and the caller's role set.
var capabilityTable = map[string]string{
	OpCreate:    models.RoleEmitter,
	OpUpdate:    models.RoleCurator,
	OpDelete:    models.RoleCurator,
	OpSubscribe: models.RoleSubscriber,
	OpSecretUse: models.RoleCurator,
}

// RequiredRole returns the role an operation demands, or "" when any
// authenticated agent may perform it.
func RequiredRole(operation string) string {
	return capabilityTable[operation]
}

// Allowed reports whether the identity's roles satisfy the operation.
func Allowed(operation string, roles []string) bool {
	required := capabilityTable[operation]
	if required == "" {
		return true
	}
	for _, r := range roles {
		if r == required {
			return true
		}
	}
	return false
}

// RequireCapability rejects requests whose authenticated agent lacks
// the role the operation demands. Must run after AuthMiddleware.
func RequireCapability(operation string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		id := IdentityFromCtx(c)
		if !Allowed(operation, id.Roles) {
			return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
				"error":   "forbidden",
				"message": "Missing required role: " + capabilityTable[operation],
			})
		}
		return c.Next()
	}
}
