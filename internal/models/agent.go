package models

import "time"

// Role capabilities. Roles are additive, not a hierarchy; an agent may
// hold any subset.
const (
	RoleCurator    = "curator"
	RoleEmitter    = "emitter"
	RoleSubscriber = "subscriber"
)

// Agent is a registered client identity with a set of role capabilities
type Agent struct {
	ID        string    `json:"id"`
	OwnerID   string    `json:"owner_id"`
	Roles     []string  `json:"roles"`
	CreatedAt time.Time `json:"created_at"`
}

// HasRole reports whether the agent holds the given role
func (a *Agent) HasRole(role string) bool {
	for _, r := range a.Roles {
		if r == role {
			return true
		}
	}
	return false
}

// ValidRole reports whether s names a known role
func ValidRole(s string) bool {
	return s == RoleCurator || s == RoleEmitter || s == RoleSubscriber
}
