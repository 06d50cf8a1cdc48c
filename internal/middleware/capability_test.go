package middleware

import (
	"testing"

	"breadcrumbd/internal/models"
)

func TestCapabilityTable(t *testing.T) {
	tests := []struct {
		operation string
		roles     []string
		want      bool
	}{
		{OpCreate, []string{models.RoleEmitter}, true},
		{OpCreate, []string{models.RoleCurator}, false},
		{OpCreate, []string{models.RoleSubscriber, models.RoleEmitter}, true},
		{OpCreate, nil, false},

		{OpUpdate, []string{models.RoleCurator}, true},
		{OpUpdate, []string{models.RoleEmitter}, false},
		{OpDelete, []string{models.RoleCurator}, true},
		{OpDelete, []string{models.RoleEmitter, models.RoleSubscriber}, false},

		{OpSubscribe, []string{models.RoleSubscriber}, true},
		{OpSubscribe, []string{models.RoleCurator}, false},

		{OpSecretUse, []string{models.RoleCurator}, true},
		{OpSecretUse, []string{models.RoleEmitter}, false},

		// Reads require auth but no role.
		{OpRead, nil, true},
		{OpRead, []string{models.RoleSubscriber}, true},
		{OpSearch, nil, true},

		// Unknown operations fall through to role-free.
		{"unknown.op", nil, true},
	}

	for _, tt := range tests {
		if got := Allowed(tt.operation, tt.roles); got != tt.want {
			t.Errorf("Allowed(%q, %v) = %v, want %v", tt.operation, tt.roles, got, tt.want)
		}
	}
}

func TestRequiredRole(t *testing.T) {
	if got := RequiredRole(OpCreate); got != models.RoleEmitter {
		t.Errorf("RequiredRole(OpCreate) = %q", got)
	}
	if got := RequiredRole(OpRead); got != "" {
		t.Errorf("RequiredRole(OpRead) = %q, want empty", got)
	}
}
