package models

import "time"

// Secret scope types
const (
	ScopeGlobal    = "global"
	ScopeWorkspace = "workspace"
	ScopeAgent     = "agent"
)

// Secret is a named, encrypted value scoped to global, a workspace, or an
// agent. Ciphertext never leaves the secrets service; listings carry
// metadata only.
type Secret struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	ScopeType string    `json:"scope_type"`
	ScopeID   string    `json:"scope_id,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// SecretAudit is one audit record appended per decrypt/update/delete
type SecretAudit struct {
	ID        int64     `json:"id"`
	SecretID  string    `json:"secret_id"`
	AgentID   string    `json:"agent_id,omitempty"`
	Action    string    `json:"action"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// ValidScopeType reports whether s names a known secret scope
func ValidScopeType(s string) bool {
	return s == ScopeGlobal || s == ScopeWorkspace || s == ScopeAgent
}
