package selector

import (
	"math/rand"
	"testing"

	"breadcrumbd/internal/models"
)

func record(tags []string, schema string, context map[string]any) *models.Breadcrumb {
	return &models.Breadcrumb{ID: "bc-1", Tags: tags, SchemaName: schema, Context: context}
}

func TestMatchesTagClauses(t *testing.T) {
	tests := []struct {
		name string
		sel  models.Selector
		tags []string
		want bool
	}{
		{
			name: "empty selector matches everything",
			sel:  models.Selector{},
			tags: []string{"a"},
			want: true,
		},
		{
			name: "any_tags intersects",
			sel:  models.Selector{AnyTags: []string{"x", "b"}},
			tags: []string{"a", "b"},
			want: true,
		},
		{
			name: "any_tags disjoint",
			sel:  models.Selector{AnyTags: []string{"x", "y"}},
			tags: []string{"a", "b"},
			want: false,
		},
		{
			name: "all_tags subset",
			sel:  models.Selector{AllTags: []string{"a", "b"}},
			tags: []string{"a", "b", "c"},
			want: true,
		},
		{
			name: "all_tags missing one",
			sel:  models.Selector{AllTags: []string{"a", "z"}},
			tags: []string{"a", "b"},
			want: false,
		},
		{
			name: "any and all combined",
			sel:  models.Selector{AnyTags: []string{"c"}, AllTags: []string{"a"}},
			tags: []string{"a", "c"},
			want: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Matches(tt.sel, record(tt.tags, "", nil))
			if got != tt.want {
				t.Errorf("Matches() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestMatchesSchemaName(t *testing.T) {
	sel := models.Selector{SchemaName: "note.v1"}
	if !Matches(sel, record(nil, "note.v1", nil)) {
		t.Error("expected schema_name match")
	}
	if Matches(sel, record(nil, "note.v2", nil)) {
		t.Error("expected schema_name mismatch")
	}
	if Matches(sel, record(nil, "", nil)) {
		t.Error("expected mismatch against record without schema")
	}
}

func TestMatchesContextClauses(t *testing.T) {
	ctx := map[string]any{
		"status": "active",
		"count":  float64(5),
		"labels": []any{"red", "green"},
		"meta":   map[string]any{"owner": "bob"},
	}

	tests := []struct {
		name   string
		clause models.ContextClause
		want   bool
	}{
		{"eq string", models.ContextClause{Path: "status", Op: "eq", Value: "active"}, true},
		{"eq string case sensitive", models.ContextClause{Path: "status", Op: "eq", Value: "Active"}, false},
		{"ne", models.ContextClause{Path: "status", Op: "ne", Value: "done"}, true},
		{"eq nested path", models.ContextClause{Path: "meta.owner", Op: "eq", Value: "bob"}, true},
		{"eq jsonpath prefix", models.ContextClause{Path: "$.meta.owner", Op: "eq", Value: "bob"}, true},
		{"gt number", models.ContextClause{Path: "count", Op: "gt", Value: float64(4)}, true},
		{"lt number", models.ContextClause{Path: "count", Op: "lt", Value: float64(4)}, false},
		{"gte equal", models.ContextClause{Path: "count", Op: "gte", Value: float64(5)}, true},
		{"contains array member", models.ContextClause{Path: "labels", Op: "contains", Value: "green"}, true},
		{"contains array missing", models.ContextClause{Path: "labels", Op: "contains", Value: "blue"}, false},
		{"contains substring", models.ContextClause{Path: "status", Op: "contains", Value: "act"}, true},
		{"exists", models.ContextClause{Path: "meta", Op: "exists"}, true},
		{"exists true value", models.ContextClause{Path: "meta", Op: "exists", Value: true}, true},
		{"exists false asserts absence", models.ContextClause{Path: "missing", Op: "exists", Value: false}, true},
		{"exists false on present path", models.ContextClause{Path: "status", Op: "exists", Value: false}, false},
		{"unresolved path fails clause", models.ContextClause{Path: "missing", Op: "eq", Value: "x"}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sel := models.Selector{ContextMatch: []models.ContextClause{tt.clause}}
			got := Matches(sel, record(nil, "", ctx))
			if got != tt.want {
				t.Errorf("Matches(%+v) = %v, want %v", tt.clause, got, tt.want)
			}
		})
	}
}

func TestMatchesAllClausesMustHold(t *testing.T) {
	sel := models.Selector{
		AnyTags:    []string{"a"},
		SchemaName: "note.v1",
		ContextMatch: []models.ContextClause{
			{Path: "status", Op: "eq", Value: "active"},
			{Path: "count", Op: "gt", Value: float64(10)},
		},
	}
	rec := record([]string{"a"}, "note.v1", map[string]any{"status": "active", "count": float64(5)})
	if Matches(sel, rec) {
		t.Error("one failing context clause must fail the whole selector")
	}
}

// TestMatchesAgainstDecomposedRules cross-checks Matches against a naive
// reimplementation of the tag semantics over randomly generated tag sets.
func TestMatchesAgainstDecomposedRules(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	universe := []string{"a", "b", "c", "d", "e", "f"}

	pick := func() []string {
		var out []string
		for _, tag := range universe {
			if rng.Intn(2) == 0 {
				out = append(out, tag)
			}
		}
		return out
	}

	for i := 0; i < 500; i++ {
		tags := pick()
		sel := models.Selector{AnyTags: pick(), AllTags: pick()}

		anyOK := len(sel.AnyTags) == 0
		for _, w := range sel.AnyTags {
			for _, tg := range tags {
				if w == tg {
					anyOK = true
				}
			}
		}
		allOK := true
		for _, w := range sel.AllTags {
			found := false
			for _, tg := range tags {
				if w == tg {
					found = true
				}
			}
			if !found {
				allOK = false
			}
		}

		want := anyOK && allOK
		if got := Matches(sel, record(tags, "", nil)); got != want {
			t.Fatalf("iteration %d: Matches(any=%v all=%v tags=%v) = %v, want %v",
				i, sel.AnyTags, sel.AllTags, tags, got, want)
		}
	}
}

func TestNormalizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"$.a.b", "a.b"},
		{"a.b", "a.b"},
		{"$.tools[*].name", "tools.#.name"},
		{"items[2].id", "items.2.id"},
		{"$", ""},
		{" spaced ", "spaced"},
	}
	for _, tt := range tests {
		if got := NormalizePath(tt.in); got != tt.want {
			t.Errorf("NormalizePath(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestValidate(t *testing.T) {
	ok := models.Selector{ContextMatch: []models.ContextClause{{Path: "a", Op: "eq", Value: 1}}}
	if err := Validate(ok); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	bad := models.Selector{ContextMatch: []models.ContextClause{{Path: "a", Op: "regex", Value: ".*"}}}
	if err := Validate(bad); err == nil {
		t.Error("expected error for unknown operator")
	}
	empty := models.Selector{ContextMatch: []models.ContextClause{{Path: "  ", Op: "eq"}}}
	if err := Validate(empty); err == nil {
		t.Error("expected error for empty path")
	}
}
