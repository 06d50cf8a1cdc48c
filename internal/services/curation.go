package services

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"breadcrumbd/internal/models"
)

// Review statuses recorded under the "review" context key.
const (
	ReviewApproved = "approved"
	ReviewRejected = "rejected"
)

// Approve marks a breadcrumb approved through the versioned update
// path, so subscribers observe the change as an ordinary updated event.
func (s *BreadcrumbService) Approve(ctx context.Context, id string, expectedVersion int, actorID, reason string) (*models.Breadcrumb, error) {
	return s.review(ctx, id, expectedVersion, actorID, ReviewApproved, reason)
}

// Reject marks a breadcrumb rejected.
func (s *BreadcrumbService) Reject(ctx context.Context, id string, expectedVersion int, actorID, reason string) (*models.Breadcrumb, error) {
	return s.review(ctx, id, expectedVersion, actorID, ReviewRejected, reason)
}

func (s *BreadcrumbService) review(ctx context.Context, id string, expectedVersion int, actorID, status, reason string) (*models.Breadcrumb, error) {
	if expectedVersion <= 0 {
		bc, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		expectedVersion = bc.Version
	}
	review := map[string]any{
		"status":      status,
		"reviewed_by": actorID,
		"reviewed_at": time.Now().UTC().Format(time.RFC3339),
	}
	if reason != "" {
		review["reason"] = reason
	}
	return s.Update(ctx, id, expectedVersion, &models.BreadcrumbPatch{
		Context:      map[string]any{"review": review},
		MergeContext: true,
	}, actorID)
}

// SemanticQuery filters breadcrumbs for the ranked search endpoint.
// Ranking is delegated to callers; this applies the tag/schema filters
// and a case-insensitive text match of q against title and context.
type SemanticQuery struct {
	Q          string
	Tag        string
	SchemaName string
	Limit      int
}

// SemanticSearch returns summaries matching the query, in creation
// order.
func (s *BreadcrumbService) SemanticSearch(ctx context.Context, q SemanticQuery) ([]models.BreadcrumbSummary, error) {
	sel := models.Selector{SchemaName: q.SchemaName}
	if q.Tag != "" {
		sel.AllTags = []string{q.Tag}
	}
	records, err := s.Search(ctx, sel, 0, 0)
	if err != nil {
		return nil, err
	}

	needle := strings.ToLower(strings.TrimSpace(q.Q))
	results := []models.BreadcrumbSummary{}
	for _, bc := range records {
		if needle != "" && !textMatches(bc, needle) {
			continue
		}
		results = append(results, bc.Summary(true))
	}
	return paginate(results, q.Limit, 0), nil
}

func textMatches(bc *models.Breadcrumb, needle string) bool {
	if strings.Contains(strings.ToLower(bc.Title), needle) {
		return true
	}
	raw, err := json.Marshal(bc.Context)
	if err != nil {
		return false
	}
	return strings.Contains(strings.ToLower(string(raw)), needle)
}
