package models

import (
	"time"
)

// Visibility controls who may see a breadcrumb
type Visibility string

const (
	VisibilityPublic  Visibility = "public"
	VisibilityTeam    Visibility = "team"
	VisibilityPrivate Visibility = "private"
)

// Sensitivity classifies the payload for downstream handling
type Sensitivity string

const (
	SensitivityLow    Sensitivity = "low"
	SensitivityPII    Sensitivity = "pii"
	SensitivitySecret Sensitivity = "secret"
)

// Breadcrumb is the store's record type: a versioned, tagged object with
// structured context. The version starts at 1 and increments exactly once
// per committed mutation.
type Breadcrumb struct {
	ID          string         `json:"id"`
	OwnerID     string         `json:"owner_id"`
	Title       string         `json:"title"`
	Tags        []string       `json:"tags"`
	Version     int            `json:"version"`
	SchemaName  string         `json:"schema_name,omitempty"`
	Context     map[string]any `json:"context"`
	LLMHints    *LLMHints      `json:"llm_hints,omitempty"`
	Visibility  Visibility     `json:"visibility"`
	Sensitivity Sensitivity    `json:"sensitivity"`
	TTL         *time.Time     `json:"ttl,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	CreatedBy   string         `json:"created_by,omitempty"`
	UpdatedBy   string         `json:"updated_by,omitempty"`
}

// BreadcrumbDraft is the creation payload
type BreadcrumbDraft struct {
	Title       string         `json:"title"`
	Tags        []string       `json:"tags"`
	SchemaName  string         `json:"schema_name,omitempty"`
	Context     map[string]any `json:"context"`
	LLMHints    *LLMHints      `json:"llm_hints,omitempty"`
	Visibility  Visibility     `json:"visibility,omitempty"`
	Sensitivity Sensitivity    `json:"sensitivity,omitempty"`
	TTL         *time.Time     `json:"ttl,omitempty"`
}

// BreadcrumbPatch is a partial update. Nil fields are left unchanged.
// Tags, when present, replace the tag set. Context, when present, replaces
// the named top-level keys; MergeContext switches to a deep merge that
// recurses into nested objects and replaces arrays wholesale.
type BreadcrumbPatch struct {
	Title        *string        `json:"title,omitempty"`
	Tags         *[]string      `json:"tags,omitempty"`
	SchemaName   *string        `json:"schema_name,omitempty"`
	Context      map[string]any `json:"context,omitempty"`
	MergeContext bool           `json:"-"`
	LLMHints     *LLMHints      `json:"llm_hints,omitempty"`
	Visibility   *Visibility    `json:"visibility,omitempty"`
	Sensitivity  *Sensitivity   `json:"sensitivity,omitempty"`
	TTL          *time.Time     `json:"ttl,omitempty"`
}

// BreadcrumbSummary is the list/search projection of a record
type BreadcrumbSummary struct {
	ID         string         `json:"id"`
	Title      string         `json:"title"`
	Tags       []string       `json:"tags"`
	Version    int            `json:"version"`
	SchemaName string         `json:"schema_name,omitempty"`
	Context    map[string]any `json:"context,omitempty"`
	UpdatedAt  time.Time      `json:"updated_at"`
}

// HistoryEntry is one committed version of a breadcrumb, snapshotted
// before each update
type HistoryEntry struct {
	BreadcrumbID string         `json:"breadcrumb_id"`
	Version      int            `json:"version"`
	Title        string         `json:"title"`
	Tags         []string       `json:"tags"`
	SchemaName   string         `json:"schema_name,omitempty"`
	Context      map[string]any `json:"context"`
	UpdatedBy    string         `json:"updated_by,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
}

// ValidVisibility reports whether s is a known visibility level
func ValidVisibility(s Visibility) bool {
	switch s {
	case VisibilityPublic, VisibilityTeam, VisibilityPrivate:
		return true
	}
	return false
}

// ValidSensitivity reports whether s is a known sensitivity class
func ValidSensitivity(s Sensitivity) bool {
	switch s {
	case SensitivityLow, SensitivityPII, SensitivitySecret:
		return true
	}
	return false
}

// Summary returns the list-view shape of a breadcrumb. Context is attached
// only when includeContext is set.
func (b *Breadcrumb) Summary(includeContext bool) BreadcrumbSummary {
	s := BreadcrumbSummary{
		ID:         b.ID,
		Title:      b.Title,
		Tags:       b.Tags,
		Version:    b.Version,
		SchemaName: b.SchemaName,
		UpdatedAt:  b.UpdatedAt,
	}
	if includeContext {
		s.Context = b.Context
	}
	return s
}

// Expired reports whether the record's TTL has passed at the given instant
func (b *Breadcrumb) Expired(now time.Time) bool {
	return b.TTL != nil && b.TTL.Before(now)
}
