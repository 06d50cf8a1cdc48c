package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"breadcrumbd/internal/database"
	"breadcrumbd/internal/models"
	"breadcrumbd/internal/selector"
)

// SubscriptionService stores durable selector subscriptions. A stream
// connection can attach by subscription ID instead of re-sending its
// selector on every reconnect.
type SubscriptionService struct {
	db *database.DB
}

// NewSubscriptionService creates a new subscription service
func NewSubscriptionService(db *database.DB) *SubscriptionService {
	return &SubscriptionService{db: db}
}

// Create stores a subscription after validating its selector.
func (s *SubscriptionService) Create(ctx context.Context, agentID string, sel models.Selector) (*models.Subscription, error) {
	if err := selector.Validate(sel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	selJSON, err := json.Marshal(sel)
	if err != nil {
		return nil, err
	}

	sub := &models.Subscription{
		ID:        uuid.New().String(),
		AgentID:   agentID,
		Selector:  sel,
		CreatedAt: time.Now().UTC(),
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO subscriptions (id, agent_id, selector, created_at)
		VALUES (?, ?, ?, ?)`,
		sub.ID, sub.AgentID, string(selJSON), sub.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to insert subscription: %w", err)
	}
	return sub, nil
}

// Get retrieves a subscription by ID.
func (s *SubscriptionService) Get(ctx context.Context, id string) (*models.Subscription, error) {
	var sub models.Subscription
	var selJSON string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, agent_id, selector, created_at FROM subscriptions WHERE id = ?`, id).
		Scan(&sub.ID, &sub.AgentID, &selJSON, &sub.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load subscription: %w", err)
	}
	if err := json.Unmarshal([]byte(selJSON), &sub.Selector); err != nil {
		return nil, fmt.Errorf("corrupt selector for subscription %s: %w", id, err)
	}
	return &sub, nil
}

// ListByAgent returns an agent's subscriptions, oldest first.
func (s *SubscriptionService) ListByAgent(ctx context.Context, agentID string) ([]models.Subscription, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, agent_id, selector, created_at FROM subscriptions WHERE agent_id = ? ORDER BY created_at ASC, id ASC`, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list subscriptions: %w", err)
	}
	defer rows.Close()

	subs := []models.Subscription{}
	for rows.Next() {
		var sub models.Subscription
		var selJSON string
		if err := rows.Scan(&sub.ID, &sub.AgentID, &selJSON, &sub.CreatedAt); err != nil {
			return nil, err
		}
		if err := json.Unmarshal([]byte(selJSON), &sub.Selector); err != nil {
			return nil, fmt.Errorf("corrupt selector for subscription %s: %w", sub.ID, err)
		}
		subs = append(subs, sub)
	}
	return subs, rows.Err()
}

// Update replaces the selector of a subscription owned by the given
// agent. Live connections keep the selector they attached with; the new
// selector applies on their next reconnect.
func (s *SubscriptionService) Update(ctx context.Context, agentID, id string, sel models.Selector) (*models.Subscription, error) {
	if err := selector.Validate(sel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	selJSON, err := json.Marshal(sel)
	if err != nil {
		return nil, err
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE subscriptions SET selector = ? WHERE id = ? AND agent_id = ?`,
		string(selJSON), id, agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to update subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrNotFound
	}
	return s.Get(ctx, id)
}

// Delete removes a subscription owned by the given agent.
func (s *SubscriptionService) Delete(ctx context.Context, agentID, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM subscriptions WHERE id = ? AND agent_id = ?`, id, agentID)
	if err != nil {
		return fmt.Errorf("failed to delete subscription: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}
