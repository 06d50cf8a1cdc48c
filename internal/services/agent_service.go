package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"breadcrumbd/internal/database"
	"breadcrumbd/internal/models"
	"breadcrumbd/pkg/auth"
)

// AgentService manages registered agent identities, their role grants
// and their hashed credentials for token issuance.
type AgentService struct {
	db *database.DB
}

// NewAgentService creates a new agent service
func NewAgentService(db *database.DB) *AgentService {
	return &AgentService{db: db}
}

// Register creates an agent with the given roles and credential. The
// credential is stored as an Argon2id hash.
func (s *AgentService) Register(ctx context.Context, id, ownerID string, roles []string, secret string) (*models.Agent, error) {
	if strings.TrimSpace(id) == "" {
		return nil, fmt.Errorf("%w: agent id is required", ErrValidation)
	}
	for _, r := range roles {
		if !models.ValidRole(r) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, r)
		}
	}
	if secret == "" {
		return nil, fmt.Errorf("%w: secret is required", ErrValidation)
	}

	var count int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM agents WHERE id = ?`, id).Scan(&count); err != nil {
		return nil, fmt.Errorf("failed to check agent existence: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: agent %q already registered", ErrDuplicate, id)
	}

	hash, err := auth.HashSecret(secret)
	if err != nil {
		return nil, fmt.Errorf("failed to hash agent secret: %w", err)
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, err
	}

	agent := &models.Agent{ID: id, OwnerID: ownerID, Roles: roles, CreatedAt: time.Now().UTC()}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, owner_id, roles, secret_hash, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		agent.ID, agent.OwnerID, string(rolesJSON), hash, agent.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert agent: %w", err)
	}

	log.Printf("[AGENT] Registered %s (roles: %s)", id, strings.Join(roles, ","))
	return agent, nil
}

// Get retrieves an agent by ID.
func (s *AgentService) Get(ctx context.Context, id string) (*models.Agent, error) {
	agent, _, err := s.loadRow(ctx, id)
	return agent, err
}

// List returns all registered agents.
func (s *AgentService) List(ctx context.Context) ([]models.Agent, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, owner_id, roles, created_at FROM agents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	agents := []models.Agent{}
	for rows.Next() {
		var a models.Agent
		var rolesJSON string
		if err := rows.Scan(&a.ID, &a.OwnerID, &rolesJSON, &a.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(rolesJSON), &a.Roles); err != nil {
			return nil, fmt.Errorf("corrupt roles for agent %s: %w", a.ID, err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// SetRoles replaces an agent's role grants.
func (s *AgentService) SetRoles(ctx context.Context, id string, roles []string) (*models.Agent, error) {
	for _, r := range roles {
		if !models.ValidRole(r) {
			return nil, fmt.Errorf("%w: unknown role %q", ErrValidation, r)
		}
	}
	rolesJSON, err := json.Marshal(roles)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET roles = ? WHERE id = ?`, string(rolesJSON), id)
	if err != nil {
		return nil, fmt.Errorf("failed to update agent roles: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// SetSecret replaces an agent's credential. Tokens already issued stay
// valid until they expire.
func (s *AgentService) SetSecret(ctx context.Context, id, secret string) error {
	if secret == "" {
		return fmt.Errorf("%w: secret is required", ErrValidation)
	}
	hash, err := auth.HashSecret(secret)
	if err != nil {
		return fmt.Errorf("failed to hash agent secret: %w", err)
	}
	res, err := s.db.ExecContext(ctx, `UPDATE agents SET secret_hash = ? WHERE id = ?`, hash, id)
	if err != nil {
		return fmt.Errorf("failed to update agent secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	log.Printf("[AGENT] Rotated secret for %s", id)
	return nil
}

// Delete removes an agent registration.
func (s *AgentService) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM agents WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	log.Printf("[AGENT] Deleted %s", id)
	return nil
}

// Authenticate verifies an agent credential and returns the agent on
// success. Unknown agents and bad credentials are indistinguishable to
// the caller.
func (s *AgentService) Authenticate(ctx context.Context, id, secret string) (*models.Agent, error) {
	agent, hash, err := s.loadRow(ctx, id)
	if err != nil {
		return nil, err
	}
	ok, err := auth.VerifySecret(hash, secret)
	if err != nil || !ok {
		return nil, ErrNotFound
	}
	return agent, nil
}

func (s *AgentService) loadRow(ctx context.Context, id string) (*models.Agent, string, error) {
	var a models.Agent
	var rolesJSON, hash string
	err := s.db.QueryRowContext(ctx, `SELECT id, owner_id, roles, secret_hash, created_at FROM agents WHERE id = ?`, id).
		Scan(&a.ID, &a.OwnerID, &rolesJSON, &hash, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load agent: %w", err)
	}
	if err := json.Unmarshal([]byte(rolesJSON), &a.Roles); err != nil {
		return nil, "", fmt.Errorf("corrupt roles for agent %s: %w", a.ID, err)
	}
	return &a, hash, nil
}
