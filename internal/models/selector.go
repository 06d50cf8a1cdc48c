package models

import "time"

// Selector is a declarative filter over tags, schema and context, used for
// both search filtering and subscription routing. Every present clause must
// hold (AND across categories); any_tags alone is an OR over its members.
// An empty selector matches every record.
type Selector struct {
	AnyTags      []string        `json:"any_tags,omitempty"`
	AllTags      []string        `json:"all_tags,omitempty"`
	SchemaName   string          `json:"schema_name,omitempty"`
	ContextMatch []ContextClause `json:"context_match,omitempty"`
}

// ContextClause is one predicate over a context path.
// Supported operators: eq, ne, contains, gt, lt, gte, lte, exists.
type ContextClause struct {
	Path  string `json:"path"`
	Op    string `json:"op"`
	Value any    `json:"value,omitempty"`
}

// Empty reports whether the selector has no clauses at all
func (s *Selector) Empty() bool {
	return len(s.AnyTags) == 0 && len(s.AllTags) == 0 && s.SchemaName == "" && len(s.ContextMatch) == 0
}

// Subscription is a durable selector registration for an agent
type Subscription struct {
	ID        string    `json:"id"`
	AgentID   string    `json:"agent_id"`
	Selector  Selector  `json:"selector"`
	CreatedAt time.Time `json:"created_at"`
}
