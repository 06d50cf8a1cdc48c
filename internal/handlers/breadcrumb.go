package handlers

import (
	"context"
	"errors"
	"log"
	"strconv"

	"github.com/gofiber/fiber/v2"

	"breadcrumbd/internal/logging"
	"breadcrumbd/internal/middleware"
	"breadcrumbd/internal/models"
	"breadcrumbd/internal/projection"
	"breadcrumbd/internal/services"
)

// BreadcrumbHandler exposes the breadcrumb store over HTTP
type BreadcrumbHandler struct {
	breadcrumbs *services.BreadcrumbService
	idempotency *services.IdempotencyStore
}

// NewBreadcrumbHandler creates a new breadcrumb handler
func NewBreadcrumbHandler(breadcrumbs *services.BreadcrumbService, idempotency *services.IdempotencyStore) *BreadcrumbHandler {
	return &BreadcrumbHandler{breadcrumbs: breadcrumbs, idempotency: idempotency}
}

// Create creates a breadcrumb
// POST /breadcrumbs (optional Idempotency-Key header)
func (h *BreadcrumbHandler) Create(c *fiber.Ctx) error {
	var draft models.BreadcrumbDraft
	if err := c.BodyParser(&draft); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)

	idemKey := c.Get("Idempotency-Key")
	if idemKey != "" {
		ok, prior := h.idempotency.Reserve(id.AgentID, idemKey)
		if !ok {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{
				"error":         "conflict",
				"message":       "Idempotency-Key already used",
				"breadcrumb_id": prior,
			})
		}
	}

	bc, err := h.breadcrumbs.Create(c.Context(), id.AgentID, id.OwnerID, &draft)
	if err != nil {
		if idemKey != "" {
			h.idempotency.Release(id.AgentID, idemKey)
		}
		return respondError(c, err)
	}
	if idemKey != "" {
		h.idempotency.Record(id.AgentID, idemKey, bc.ID)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordOperation("create")
	}
	logging.WithBreadcrumb(logging.WithAgent(id.AgentID, id.OwnerID), bc.ID, bc.Version).Info("breadcrumb created")

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":      bc.ID,
		"version": bc.Version,
	})
}

// Get returns a breadcrumb with its context reduced through the
// record's llm_hints. Without hints the raw context is returned.
// GET /breadcrumbs/:id
func (h *BreadcrumbHandler) Get(c *fiber.Ctx) error {
	bc, err := h.breadcrumbs.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	view := *bc
	view.Context = projection.Apply(bc.Context, bc.LLMHints)
	view.LLMHints = nil
	return c.JSON(view)
}

// GetFull returns the full record including raw context
// GET /breadcrumbs/:id/full
func (h *BreadcrumbHandler) GetFull(c *fiber.Ctx) error {
	bc, err := h.breadcrumbs.Get(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(bc)
}

// Update applies a partial patch under If-Match
// PATCH /breadcrumbs/:id
func (h *BreadcrumbHandler) Update(c *fiber.Ctx) error {
	var patch models.BreadcrumbPatch
	if err := c.BodyParser(&patch); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)

	bc, err := h.breadcrumbs.Update(c.Context(), c.Params("id"), ifMatchVersion(c), &patch, id.AgentID)
	if err != nil {
		if m := services.GetMetrics(); m != nil && errors.Is(err, services.ErrVersionConflict) {
			m.RecordVersionConflict()
		}
		return respondError(c, err)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordOperation("update")
	}
	return c.JSON(bc)
}

// Delete removes a breadcrumb under optional If-Match
// DELETE /breadcrumbs/:id
func (h *BreadcrumbHandler) Delete(c *fiber.Ctx) error {
	id := middleware.IdentityFromCtx(c)
	if err := h.breadcrumbs.Delete(c.Context(), c.Params("id"), ifMatchVersion(c), id.AgentID); err != nil {
		return respondError(c, err)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordOperation("delete")
	}
	return c.JSON(fiber.Map{"ok": true})
}

// List returns breadcrumb summaries
// GET /breadcrumbs?schema_name=&tag=&limit=&offset=&include_context=
func (h *BreadcrumbHandler) List(c *fiber.Ctx) error {
	opts := services.ListOptions{
		SchemaName: c.Query("schema_name"),
		Tag:        c.Query("tag"),
		Limit:      c.QueryInt("limit"),
		Offset:     c.QueryInt("offset"),
	}
	summaries, err := h.breadcrumbs.List(c.Context(), opts)
	if err != nil {
		return respondError(c, err)
	}
	if c.QueryBool("include_context") {
		// Re-fetch context per summary is wasteful; List drops it, so
		// serve the search path instead when context is requested.
		records, err := h.breadcrumbs.Search(c.Context(), models.Selector{SchemaName: opts.SchemaName}, 0, 0)
		if err != nil {
			return respondError(c, err)
		}
		full := []models.BreadcrumbSummary{}
		for _, bc := range records {
			if opts.Tag != "" && !hasTag(bc.Tags, opts.Tag) {
				continue
			}
			full = append(full, bc.Summary(true))
		}
		summaries = window(full, opts.Limit, opts.Offset)
	}
	return c.JSON(summaries)
}

// Search evaluates a selector from the request body
// POST /breadcrumbs/query
func (h *BreadcrumbHandler) Search(c *fiber.Ctx) error {
	var req struct {
		Selector models.Selector `json:"selector"`
		Limit    int             `json:"limit"`
		Offset   int             `json:"offset"`
	}
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	records, err := h.breadcrumbs.Search(c.Context(), req.Selector, req.Limit, req.Offset)
	if err != nil {
		return respondError(c, err)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordOperation("search")
	}
	return c.JSON(records)
}

// SemanticSearch is the ranked search surface
// GET /breadcrumbs/search?q=&tag=&schema_name=&nn=
func (h *BreadcrumbHandler) SemanticSearch(c *fiber.Ctx) error {
	results, err := h.breadcrumbs.SemanticSearch(c.Context(), services.SemanticQuery{
		Q:          c.Query("q"),
		Tag:        c.Query("tag"),
		SchemaName: c.Query("schema_name"),
		Limit:      c.QueryInt("nn"),
	})
	if err != nil {
		return respondError(c, err)
	}
	if m := services.GetMetrics(); m != nil {
		m.RecordOperation("search")
	}
	return c.JSON(results)
}

// History returns prior versions, oldest first
// GET /breadcrumbs/:id/history
func (h *BreadcrumbHandler) History(c *fiber.Ctx) error {
	entries, err := h.breadcrumbs.History(c.Context(), c.Params("id"))
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(entries)
}

// AddTags appends tags
// POST /breadcrumbs/:id/tags/add
func (h *BreadcrumbHandler) AddTags(c *fiber.Ctx) error {
	return h.mutateTags(c, h.breadcrumbs.AddTags)
}

// RemoveTags removes tags
// POST /breadcrumbs/:id/tags/remove
func (h *BreadcrumbHandler) RemoveTags(c *fiber.Ctx) error {
	return h.mutateTags(c, h.breadcrumbs.RemoveTags)
}

// MergeContext deep-merges the posted keys into the record context
// POST /breadcrumbs/:id/context/merge
func (h *BreadcrumbHandler) MergeContext(c *fiber.Ctx) error {
	var body map[string]any
	if err := c.BodyParser(&body); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "Invalid request body",
		})
	}
	id := middleware.IdentityFromCtx(c)
	_, err := h.breadcrumbs.Update(c.Context(), c.Params("id"), ifMatchVersion(c), &models.BreadcrumbPatch{
		Context:      body,
		MergeContext: true,
	}, id.AgentID)
	if err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// Approve marks a breadcrumb approved
// POST /breadcrumbs/:id/approve
func (h *BreadcrumbHandler) Approve(c *fiber.Ctx) error {
	return h.reviewAction(c, h.breadcrumbs.Approve)
}

// Reject marks a breadcrumb rejected
// POST /breadcrumbs/:id/reject
func (h *BreadcrumbHandler) Reject(c *fiber.Ctx) error {
	return h.reviewAction(c, h.breadcrumbs.Reject)
}

func (h *BreadcrumbHandler) mutateTags(c *fiber.Ctx, apply func(ctx context.Context, id string, expectedVersion int, tags []string, actorID string) (*models.Breadcrumb, error)) error {
	var body struct {
		Tags []string `json:"tags"`
	}
	if err := c.BodyParser(&body); err != nil || len(body.Tags) == 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error":   "validation_failed",
			"message": "tags list is required",
		})
	}
	id := middleware.IdentityFromCtx(c)
	if _, err := apply(c.Context(), c.Params("id"), ifMatchVersion(c), body.Tags, id.AgentID); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

func (h *BreadcrumbHandler) reviewAction(c *fiber.Ctx, apply func(ctx context.Context, id string, expectedVersion int, actorID, reason string) (*models.Breadcrumb, error)) error {
	var body struct {
		Reason string `json:"reason"`
	}
	// Body is optional for review actions.
	_ = c.BodyParser(&body)

	id := middleware.IdentityFromCtx(c)
	if _, err := apply(c.Context(), c.Params("id"), ifMatchVersion(c), id.AgentID, body.Reason); err != nil {
		return respondError(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// ifMatchVersion parses the If-Match header; 0 means unconditional.
func ifMatchVersion(c *fiber.Ctx) int {
	raw := c.Get("If-Match")
	if raw == "" {
		return 0
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Printf("[BREADCRUMB] Ignoring malformed If-Match %q", raw)
		return 0
	}
	return v
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func window(items []models.BreadcrumbSummary, limit, offset int) []models.BreadcrumbSummary {
	if offset > 0 {
		if offset >= len(items) {
			return []models.BreadcrumbSummary{}
		}
		items = items[offset:]
	}
	if limit > 0 && limit < len(items) {
		items = items[:limit]
	}
	return items
}
