package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"log"
	"strings"
	"sync"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"breadcrumbd/internal/database"
	"breadcrumbd/internal/events"
	"breadcrumbd/internal/models"
	"breadcrumbd/internal/selector"
)

const lockShards = 64

// BreadcrumbService owns breadcrumb persistence, optimistic concurrency
// and event publication. All mutations for a given breadcrumb are
// serialized through a sharded lock so the read-check-write cycle is
// atomic even on drivers without row-level locking.
type BreadcrumbService struct {
	db    *database.DB
	bus   *events.Bus
	locks [lockShards]sync.Mutex
}

// NewBreadcrumbService creates a new breadcrumb service
func NewBreadcrumbService(db *database.DB, bus *events.Bus) *BreadcrumbService {
	return &BreadcrumbService{db: db, bus: bus}
}

// publish hands the post-commit record to the fan-out and times the
// pass for the latency histogram.
func (s *BreadcrumbService) publish(eventType string, bc *models.Breadcrumb) {
	start := time.Now()
	s.bus.Publish(eventType, bc)
	if m := GetMetrics(); m != nil {
		m.RecordFanoutLatency(time.Since(start).Seconds())
	}
}

func (s *BreadcrumbService) lockFor(id string) *sync.Mutex {
	h := fnv.New32a()
	h.Write([]byte(id))
	return &s.locks[h.Sum32()%lockShards]
}

// Create inserts a new breadcrumb at version 1 and publishes a created
// event to matching subscribers.
func (s *BreadcrumbService) Create(ctx context.Context, actorID, ownerID string, draft *models.BreadcrumbDraft) (*models.Breadcrumb, error) {
	if err := validateDraft(draft); err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	bc := &models.Breadcrumb{
		ID:          uuid.New().String(),
		OwnerID:     ownerID,
		Title:       draft.Title,
		Tags:        normalizeTags(draft.Tags),
		SchemaName:  draft.SchemaName,
		Context:     draft.Context,
		LLMHints:    draft.LLMHints,
		Visibility:  draft.Visibility,
		Sensitivity: draft.Sensitivity,
		Version:     1,
		TTL:         draft.TTL,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   actorID,
		UpdatedBy:   actorID,
	}
	if bc.Visibility == "" {
		bc.Visibility = models.VisibilityTeam
	}
	if bc.Sensitivity == "" {
		bc.Sensitivity = models.SensitivityLow
	}
	if bc.Context == nil {
		bc.Context = map[string]any{}
	}

	tagsJSON, contextJSON, hintsJSON, err := encodeFields(bc)
	if err != nil {
		return nil, err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO breadcrumbs
			(id, owner_id, title, tags, schema_name, context, llm_hints,
			 visibility, sensitivity, version, ttl, created_at, updated_at, created_by, updated_by)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		bc.ID, bc.OwnerID, bc.Title, tagsJSON, bc.SchemaName, contextJSON, hintsJSON,
		string(bc.Visibility), string(bc.Sensitivity), bc.Version, bc.TTL, bc.CreatedAt, bc.UpdatedAt,
		bc.CreatedBy, bc.UpdatedBy)
	if err != nil {
		return nil, fmt.Errorf("failed to insert breadcrumb: %w", err)
	}

	log.Printf("[BREADCRUMB] Created %s (schema=%s) by %s", bc.ID, bc.SchemaName, actorID)
	s.publish(models.EventCreated, bc)
	return bc, nil
}

// Get retrieves a breadcrumb by ID. Expired breadcrumbs (past their
// TTL) are reported as not found even if the purge job has not run yet.
func (s *BreadcrumbService) Get(ctx context.Context, id string) (*models.Breadcrumb, error) {
	bc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if bc.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	return bc, nil
}

// Update applies a partial patch under optimistic concurrency.
// expectedVersion <= 0 means unconditional; otherwise a mismatch
// returns ErrVersionConflict. The pre-update state is appended to the
// history table and an updated event is published.
func (s *BreadcrumbService) Update(ctx context.Context, id string, expectedVersion int, patch *models.BreadcrumbPatch, actorID string) (*models.Breadcrumb, error) {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	bc, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if bc.Expired(time.Now().UTC()) {
		return nil, ErrNotFound
	}
	if expectedVersion > 0 && expectedVersion != bc.Version {
		return nil, fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expectedVersion, bc.Version)
	}

	if err := s.appendHistory(ctx, bc); err != nil {
		return nil, err
	}

	if err := applyPatch(bc, patch); err != nil {
		return nil, err
	}
	previousVersion := bc.Version
	bc.Version++
	bc.UpdatedAt = time.Now().UTC()
	bc.UpdatedBy = actorID

	tagsJSON, contextJSON, hintsJSON, err := encodeFields(bc)
	if err != nil {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE breadcrumbs
		SET title = ?, tags = ?, schema_name = ?, context = ?, llm_hints = ?,
		    visibility = ?, sensitivity = ?, version = ?, ttl = ?, updated_at = ?, updated_by = ?
		WHERE id = ? AND version = ?`,
		bc.Title, tagsJSON, bc.SchemaName, contextJSON, hintsJSON,
		string(bc.Visibility), string(bc.Sensitivity), bc.Version, bc.TTL, bc.UpdatedAt, bc.UpdatedBy,
		id, previousVersion)
	if err != nil {
		return nil, fmt.Errorf("failed to update breadcrumb: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		// Lost a race with a writer outside this process.
		return nil, ErrVersionConflict
	}

	log.Printf("[BREADCRUMB] Updated %s to v%d by %s", id, bc.Version, actorID)
	s.publish(models.EventUpdated, bc)
	return bc, nil
}

// Delete removes a breadcrumb under optimistic concurrency and
// publishes a deleted event carrying the last known state.
func (s *BreadcrumbService) Delete(ctx context.Context, id string, expectedVersion int, actorID string) error {
	mu := s.lockFor(id)
	mu.Lock()
	defer mu.Unlock()

	bc, err := s.load(ctx, id)
	if err != nil {
		return err
	}
	if expectedVersion > 0 && expectedVersion != bc.Version {
		return fmt.Errorf("%w: expected %d, current %d", ErrVersionConflict, expectedVersion, bc.Version)
	}

	res, err := s.db.ExecContext(ctx, `DELETE FROM breadcrumbs WHERE id = ? AND version = ?`, id, bc.Version)
	if err != nil {
		return fmt.Errorf("failed to delete breadcrumb: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrVersionConflict
	}

	log.Printf("[BREADCRUMB] Deleted %s (v%d) by %s", id, bc.Version, actorID)
	s.publish(models.EventDeleted, bc)
	return nil
}

// ListOptions filters List results.
type ListOptions struct {
	OwnerID    string
	Tag        string
	SchemaName string
	Limit      int
	Offset     int
}

// List returns breadcrumb summaries ordered by creation time.
func (s *BreadcrumbService) List(ctx context.Context, opts ListOptions) ([]models.BreadcrumbSummary, error) {
	query := `SELECT ` + breadcrumbColumns + ` FROM breadcrumbs WHERE 1=1`
	args := []any{}
	if opts.OwnerID != "" {
		query += ` AND owner_id = ?`
		args = append(args, opts.OwnerID)
	}
	if opts.SchemaName != "" {
		query += ` AND schema_name = ?`
		args = append(args, opts.SchemaName)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list breadcrumbs: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	summaries := []models.BreadcrumbSummary{}
	for rows.Next() {
		bc, err := scanBreadcrumb(rows)
		if err != nil {
			return nil, err
		}
		if bc.Expired(now) {
			continue
		}
		if opts.Tag != "" && !containsTag(bc.Tags, opts.Tag) {
			continue
		}
		summaries = append(summaries, bc.Summary(false))
	}
	return paginate(summaries, opts.Limit, opts.Offset), rows.Err()
}

// Search evaluates a selector against all live breadcrumbs. The schema
// clause is pushed down to SQL; tag and context clauses are evaluated
// by the selector matcher. Results are ordered by creation time then ID.
func (s *BreadcrumbService) Search(ctx context.Context, sel models.Selector, limit, offset int) ([]*models.Breadcrumb, error) {
	if err := selector.Validate(sel); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	query := `SELECT ` + breadcrumbColumns + ` FROM breadcrumbs`
	args := []any{}
	if sel.SchemaName != "" {
		query += ` WHERE schema_name = ?`
		args = append(args, sel.SchemaName)
	}
	query += ` ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to search breadcrumbs: %w", err)
	}
	defer rows.Close()

	now := time.Now().UTC()
	matches := []*models.Breadcrumb{}
	for rows.Next() {
		bc, err := scanBreadcrumb(rows)
		if err != nil {
			return nil, err
		}
		if bc.Expired(now) {
			continue
		}
		if selector.Matches(sel, bc) {
			matches = append(matches, bc)
		}
	}
	return paginate(matches, limit, offset), rows.Err()
}

// History returns prior versions of a breadcrumb, oldest first.
func (s *BreadcrumbService) History(ctx context.Context, id string) ([]models.HistoryEntry, error) {
	if _, err := s.load(ctx, id); err != nil {
		return nil, err
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT breadcrumb_id, version, title, tags, schema_name, context, updated_by, created_at
		FROM breadcrumb_history WHERE breadcrumb_id = ? ORDER BY version ASC`, id)
	if err != nil {
		return nil, fmt.Errorf("failed to load history: %w", err)
	}
	defer rows.Close()

	entries := []models.HistoryEntry{}
	for rows.Next() {
		var e models.HistoryEntry
		var tagsJSON, contextJSON string
		if err := rows.Scan(&e.BreadcrumbID, &e.Version, &e.Title, &tagsJSON, &e.SchemaName, &contextJSON, &e.UpdatedBy, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
			return nil, fmt.Errorf("corrupt history tags for %s v%d: %w", id, e.Version, err)
		}
		if err := json.Unmarshal([]byte(contextJSON), &e.Context); err != nil {
			return nil, fmt.Errorf("corrupt history context for %s v%d: %w", id, e.Version, err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// AddTags appends tags (deduplicated) through the versioned update path.
func (s *BreadcrumbService) AddTags(ctx context.Context, id string, expectedVersion int, tags []string, actorID string) (*models.Breadcrumb, error) {
	bc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	merged := normalizeTags(append(append([]string{}, bc.Tags...), tags...))
	if expectedVersion <= 0 {
		expectedVersion = bc.Version
	}
	return s.Update(ctx, id, expectedVersion, &models.BreadcrumbPatch{Tags: &merged}, actorID)
}

// RemoveTags removes tags through the versioned update path.
func (s *BreadcrumbService) RemoveTags(ctx context.Context, id string, expectedVersion int, tags []string, actorID string) (*models.Breadcrumb, error) {
	bc, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	drop := map[string]bool{}
	for _, t := range tags {
		drop[t] = true
	}
	kept := []string{}
	for _, t := range bc.Tags {
		if !drop[t] {
			kept = append(kept, t)
		}
	}
	if expectedVersion <= 0 {
		expectedVersion = bc.Version
	}
	return s.Update(ctx, id, expectedVersion, &models.BreadcrumbPatch{Tags: &kept}, actorID)
}

// PurgeExpired deletes breadcrumbs past their TTL through the versioned
// delete path so subscribers receive ordinary deleted events. Returns
// the number purged.
func (s *BreadcrumbService) PurgeExpired(ctx context.Context, now time.Time) (int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id, version FROM breadcrumbs WHERE ttl IS NOT NULL AND ttl <= ?`, now)
	if err != nil {
		return 0, fmt.Errorf("failed to query expired breadcrumbs: %w", err)
	}
	type expired struct {
		id      string
		version int
	}
	var batch []expired
	for rows.Next() {
		var e expired
		if err := rows.Scan(&e.id, &e.version); err != nil {
			rows.Close()
			return 0, err
		}
		batch = append(batch, e)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	purged := 0
	for _, e := range batch {
		err := s.Delete(ctx, e.id, e.version, "system")
		if err != nil {
			// Raced with a concurrent writer; next sweep picks it up.
			continue
		}
		purged++
	}
	return purged, nil
}

const breadcrumbColumns = `id, owner_id, title, tags, schema_name, context, llm_hints,
	visibility, sensitivity, version, ttl, created_at, updated_at, created_by, updated_by`

func (s *BreadcrumbService) load(ctx context.Context, id string) (*models.Breadcrumb, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+breadcrumbColumns+` FROM breadcrumbs WHERE id = ?`, id)
	bc, err := scanBreadcrumb(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	return bc, err
}

func (s *BreadcrumbService) appendHistory(ctx context.Context, bc *models.Breadcrumb) error {
	tagsJSON, err := json.Marshal(bc.Tags)
	if err != nil {
		return err
	}
	contextJSON, err := json.Marshal(bc.Context)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO breadcrumb_history (breadcrumb_id, version, title, tags, schema_name, context, updated_by, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		bc.ID, bc.Version, bc.Title, string(tagsJSON), bc.SchemaName, string(contextJSON), bc.UpdatedBy, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to append history: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanBreadcrumb(row rowScanner) (*models.Breadcrumb, error) {
	var bc models.Breadcrumb
	var tagsJSON, contextJSON string
	var hintsJSON sql.NullString
	var visibility, sensitivity string
	var ttl sql.NullTime

	err := row.Scan(&bc.ID, &bc.OwnerID, &bc.Title, &tagsJSON, &bc.SchemaName, &contextJSON, &hintsJSON,
		&visibility, &sensitivity, &bc.Version, &ttl, &bc.CreatedAt, &bc.UpdatedAt, &bc.CreatedBy, &bc.UpdatedBy)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(tagsJSON), &bc.Tags); err != nil {
		return nil, fmt.Errorf("corrupt tags for %s: %w", bc.ID, err)
	}
	if err := json.Unmarshal([]byte(contextJSON), &bc.Context); err != nil {
		return nil, fmt.Errorf("corrupt context for %s: %w", bc.ID, err)
	}
	if hintsJSON.Valid && hintsJSON.String != "" {
		var hints models.LLMHints
		if err := json.Unmarshal([]byte(hintsJSON.String), &hints); err != nil {
			return nil, fmt.Errorf("corrupt llm_hints for %s: %w", bc.ID, err)
		}
		bc.LLMHints = &hints
	}
	bc.Visibility = models.Visibility(visibility)
	bc.Sensitivity = models.Sensitivity(sensitivity)
	if ttl.Valid {
		t := ttl.Time.UTC()
		bc.TTL = &t
	}
	return &bc, nil
}

func encodeFields(bc *models.Breadcrumb) (tagsJSON, contextJSON string, hintsJSON sql.NullString, err error) {
	tags, err := json.Marshal(bc.Tags)
	if err != nil {
		return "", "", sql.NullString{}, err
	}
	ctx, err := json.Marshal(bc.Context)
	if err != nil {
		return "", "", sql.NullString{}, err
	}
	if bc.LLMHints != nil {
		h, err := json.Marshal(bc.LLMHints)
		if err != nil {
			return "", "", sql.NullString{}, err
		}
		hintsJSON = sql.NullString{String: string(h), Valid: true}
	}
	return string(tags), string(ctx), hintsJSON, nil
}

func validateDraft(draft *models.BreadcrumbDraft) error {
	if draft == nil || strings.TrimSpace(draft.Title) == "" {
		return fmt.Errorf("%w: title is required", ErrValidation)
	}
	if draft.Visibility != "" && !models.ValidVisibility(draft.Visibility) {
		return fmt.Errorf("%w: unknown visibility %q", ErrValidation, draft.Visibility)
	}
	if draft.Sensitivity != "" && !models.ValidSensitivity(draft.Sensitivity) {
		return fmt.Errorf("%w: unknown sensitivity %q", ErrValidation, draft.Sensitivity)
	}
	return nil
}

func applyPatch(bc *models.Breadcrumb, patch *models.BreadcrumbPatch) error {
	if patch == nil {
		return fmt.Errorf("%w: empty patch", ErrValidation)
	}
	if patch.Title != nil {
		if strings.TrimSpace(*patch.Title) == "" {
			return fmt.Errorf("%w: title cannot be empty", ErrValidation)
		}
		bc.Title = *patch.Title
	}
	if patch.Tags != nil {
		bc.Tags = normalizeTags(*patch.Tags)
	}
	if patch.SchemaName != nil {
		bc.SchemaName = *patch.SchemaName
	}
	if patch.Context != nil {
		if patch.MergeContext {
			// Deep merge: patch keys win, arrays replaced wholesale.
			merged := cloneMap(bc.Context)
			if err := mergo.Merge(&merged, patch.Context, mergo.WithOverride); err != nil {
				return fmt.Errorf("failed to merge context: %w", err)
			}
			bc.Context = merged
		} else {
			// Shallow merge: named top-level keys are replaced,
			// keys absent from the patch survive.
			merged := cloneMap(bc.Context)
			for k, v := range patch.Context {
				merged[k] = v
			}
			bc.Context = merged
		}
	}
	if patch.LLMHints != nil {
		bc.LLMHints = patch.LLMHints
	}
	if patch.Visibility != nil {
		if !models.ValidVisibility(*patch.Visibility) {
			return fmt.Errorf("%w: unknown visibility %q", ErrValidation, *patch.Visibility)
		}
		bc.Visibility = *patch.Visibility
	}
	if patch.Sensitivity != nil {
		if !models.ValidSensitivity(*patch.Sensitivity) {
			return fmt.Errorf("%w: unknown sensitivity %q", ErrValidation, *patch.Sensitivity)
		}
		bc.Sensitivity = *patch.Sensitivity
	}
	if patch.TTL != nil {
		bc.TTL = patch.TTL
	}
	return nil
}

func cloneMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func normalizeTags(tags []string) []string {
	seen := map[string]bool{}
	out := []string{}
	for _, t := range tags {
		t = strings.TrimSpace(t)
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		out = append(out, t)
	}
	return out
}

func containsTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func paginate[T any](items []T, limit, offset int) []T {
	if offset > 0 {
		if offset >= len(items) {
			return []T{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
