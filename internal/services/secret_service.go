package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"breadcrumbd/internal/crypto"
	"breadcrumbd/internal/database"
	"breadcrumbd/internal/models"
)

// SecretService stores encrypted secrets and appends an audit record
// for every successful decrypt, update and delete. Read paths never
// return ciphertext or plaintext; Decrypt is the single reveal path.
type SecretService struct {
	db  *database.DB
	enc *crypto.EncryptionService
}

// NewSecretService creates a new secret service
func NewSecretService(db *database.DB, enc *crypto.EncryptionService) *SecretService {
	return &SecretService{db: db, enc: enc}
}

func secretScope(scopeType, scopeID string) string {
	return scopeType + ":" + scopeID
}

// Create encrypts and stores a secret. The (name, scope) pair is
// unique; collisions return ErrDuplicate.
func (s *SecretService) Create(ctx context.Context, actorID, name, scopeType, scopeID, value string) (*models.Secret, error) {
	if strings.TrimSpace(name) == "" {
		return nil, fmt.Errorf("%w: name is required", ErrValidation)
	}
	if !models.ValidScopeType(scopeType) {
		return nil, fmt.Errorf("%w: unknown scope type %q", ErrValidation, scopeType)
	}
	if value == "" {
		return nil, fmt.Errorf("%w: value is required", ErrValidation)
	}

	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM secrets WHERE key_name = ? AND scope_type = ? AND scope_id = ?`,
		name, scopeType, scopeID).Scan(&count)
	if err != nil {
		return nil, fmt.Errorf("failed to check secret existence: %w", err)
	}
	if count > 0 {
		return nil, fmt.Errorf("%w: secret %q already exists in scope %s", ErrDuplicate, name, secretScope(scopeType, scopeID))
	}

	ciphertext, err := s.enc.EncryptString(secretScope(scopeType, scopeID), value)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt secret: %w", err)
	}

	now := time.Now().UTC()
	secret := &models.Secret{
		ID:        uuid.New().String(),
		Name:      name,
		ScopeType: scopeType,
		ScopeID:   scopeID,
		CreatedAt: now,
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO secrets (id, key_name, scope_type, scope_id, ciphertext, created_by, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		secret.ID, name, scopeType, scopeID, ciphertext, actorID, now, now)
	if err != nil {
		return nil, fmt.Errorf("failed to insert secret: %w", err)
	}

	log.Printf("[SECRET] Created %s (%s) by %s", secret.ID, secretScope(scopeType, scopeID), actorID)
	return secret, nil
}

// Get returns secret metadata. Ciphertext is never included.
func (s *SecretService) Get(ctx context.Context, id string) (*models.Secret, error) {
	secret, _, err := s.loadRow(ctx, id)
	return secret, err
}

// List returns secret metadata, optionally filtered by scope.
func (s *SecretService) List(ctx context.Context, scopeType, scopeID string) ([]models.Secret, error) {
	query := `SELECT id, key_name, scope_type, scope_id, created_at FROM secrets WHERE 1=1`
	args := []any{}
	if scopeType != "" {
		query += ` AND scope_type = ?`
		args = append(args, scopeType)
	}
	if scopeID != "" {
		query += ` AND scope_id = ?`
		args = append(args, scopeID)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list secrets: %w", err)
	}
	defer rows.Close()

	secrets := []models.Secret{}
	for rows.Next() {
		var sec models.Secret
		if err := rows.Scan(&sec.ID, &sec.Name, &sec.ScopeType, &sec.ScopeID, &sec.CreatedAt); err != nil {
			return nil, err
		}
		secrets = append(secrets, sec)
	}
	return secrets, rows.Err()
}

// Decrypt reveals a secret's plaintext and appends an audit record.
// The audit write happens on every successful reveal; a reason is
// required so the trail stays meaningful.
func (s *SecretService) Decrypt(ctx context.Context, actorID, id, reason string) (string, error) {
	if strings.TrimSpace(reason) == "" {
		return "", fmt.Errorf("%w: reason is required", ErrValidation)
	}

	secret, ciphertext, err := s.loadRow(ctx, id)
	if err != nil {
		return "", err
	}

	plaintext, err := s.enc.DecryptString(secretScope(secret.ScopeType, secret.ScopeID), ciphertext)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt secret: %w", err)
	}

	if err := s.audit(ctx, id, actorID, "decrypt", reason); err != nil {
		return "", err
	}
	log.Printf("[SECRET] Decrypted %s by %s (reason: %s)", id, actorID, reason)
	return plaintext, nil
}

// Update re-encrypts a secret with a new value and audits the change.
func (s *SecretService) Update(ctx context.Context, actorID, id, value, reason string) error {
	if value == "" {
		return fmt.Errorf("%w: value is required", ErrValidation)
	}
	secret, _, err := s.loadRow(ctx, id)
	if err != nil {
		return err
	}

	ciphertext, err := s.enc.EncryptString(secretScope(secret.ScopeType, secret.ScopeID), value)
	if err != nil {
		return fmt.Errorf("failed to encrypt secret: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `UPDATE secrets SET ciphertext = ?, updated_at = ? WHERE id = ?`,
		ciphertext, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update secret: %w", err)
	}
	return s.audit(ctx, id, actorID, "update", reason)
}

// Delete removes a secret and audits the removal. Audit rows for the
// secret are retained.
func (s *SecretService) Delete(ctx context.Context, actorID, id, reason string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	log.Printf("[SECRET] Deleted %s by %s", id, actorID)
	return s.audit(ctx, id, actorID, "delete", reason)
}

// Audits returns the audit trail for a secret, oldest first.
func (s *SecretService) Audits(ctx context.Context, secretID string) ([]models.SecretAudit, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, secret_id, agent_id, action, reason, created_at
		FROM secret_audit WHERE secret_id = ? ORDER BY id ASC`, secretID)
	if err != nil {
		return nil, fmt.Errorf("failed to load secret audits: %w", err)
	}
	defer rows.Close()

	audits := []models.SecretAudit{}
	for rows.Next() {
		var a models.SecretAudit
		if err := rows.Scan(&a.ID, &a.SecretID, &a.AgentID, &a.Action, &a.Reason, &a.CreatedAt); err != nil {
			return nil, err
		}
		audits = append(audits, a)
	}
	return audits, rows.Err()
}

func (s *SecretService) loadRow(ctx context.Context, id string) (*models.Secret, string, error) {
	var sec models.Secret
	var ciphertext string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, key_name, scope_type, scope_id, ciphertext, created_at FROM secrets WHERE id = ?`, id).
		Scan(&sec.ID, &sec.Name, &sec.ScopeType, &sec.ScopeID, &ciphertext, &sec.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, "", ErrNotFound
	}
	if err != nil {
		return nil, "", fmt.Errorf("failed to load secret: %w", err)
	}
	return &sec, ciphertext, nil
}

func (s *SecretService) audit(ctx context.Context, secretID, agentID, action, reason string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secret_audit (secret_id, agent_id, action, reason, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		secretID, agentID, action, reason, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append secret audit: %w", err)
	}
	return nil
}
