package projection

import (
	"reflect"
	"testing"

	"breadcrumbd/internal/models"
)

func TestApplyNilHintsReturnsContext(t *testing.T) {
	ctx := map[string]any{"a": "x", "b": float64(2)}
	view := Apply(ctx, nil)
	if !reflect.DeepEqual(view, ctx) {
		t.Errorf("Apply(nil hints) = %v, want %v", view, ctx)
	}
}

func TestApplyExcludeOnly(t *testing.T) {
	ctx := map[string]any{
		"name":        "Test",
		"internal_id": "12345",
		"metadata": map[string]any{
			"public":      "yes",
			"internal_id": "secret",
		},
	}
	hints := &models.LLMHints{Exclude: []string{"internal_id", "metadata.internal_id"}}

	view := Apply(ctx, hints)

	want := map[string]any{
		"name":     "Test",
		"metadata": map[string]any{"public": "yes"},
	}
	if !reflect.DeepEqual(view, want) {
		t.Errorf("Apply() = %v, want %v", view, want)
	}
}

func TestApplyLiteral(t *testing.T) {
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"instruction": {Type: models.TransformLiteral, Literal: "Use the tools"},
		},
		Mode: models.ModeReplace,
	}
	view := Apply(map[string]any{"some": "data"}, hints)
	if view["instruction"] != "Use the tools" {
		t.Errorf("literal = %v", view["instruction"])
	}
	if _, leaked := view["some"]; leaked {
		t.Error("replace mode must withhold raw context")
	}
}

func TestApplyExtract(t *testing.T) {
	ctx := map[string]any{
		"tools": []any{
			map[string]any{"name": "openrouter"},
			map[string]any{"name": "file-storage"},
		},
	}
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"tool_names": {Type: models.TransformExtract, Value: "$.tools[*].name"},
			"missing":    {Type: models.TransformExtract, Value: "$.nope.deep"},
		},
		Mode: models.ModeReplace,
	}

	view := Apply(ctx, hints)

	want := []any{"openrouter", "file-storage"}
	if !reflect.DeepEqual(view["tool_names"], want) {
		t.Errorf("extract = %v, want %v", view["tool_names"], want)
	}
	if view["missing"] != nil {
		t.Errorf("unresolved extract should be nil, got %v", view["missing"])
	}
}

func TestApplyTemplate(t *testing.T) {
	ctx := map[string]any{"name": "TestUser", "count": float64(5)}
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"summary": {Type: models.TransformTemplate, Template: "User: {{context.name}} (count: {{context.count}})"},
			"partial": {Type: models.TransformTemplate, Template: "[{{context.missing}}]"},
		},
		Mode: models.ModeReplace,
	}

	view := Apply(ctx, hints)

	if view["summary"] != "User: TestUser (count: 5)" {
		t.Errorf("template = %q", view["summary"])
	}
	if view["partial"] != "[]" {
		t.Errorf("unresolved placeholder should render empty, got %q", view["partial"])
	}
}

func TestApplyJQ(t *testing.T) {
	ctx := map[string]any{
		"items": []any{
			map[string]any{"id": "a", "done": true},
			map[string]any{"id": "b", "done": false},
		},
	}
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"done_ids": {Type: models.TransformJQ, Query: `items.#(done==true)#.id`},
			"broken":   {Type: models.TransformJQ, Query: `items.#(`},
		},
		Mode: models.ModeReplace,
	}

	view := Apply(ctx, hints)

	want := []any{"a"}
	if !reflect.DeepEqual(view["done_ids"], want) {
		t.Errorf("jq = %v, want %v", view["done_ids"], want)
	}
	if view["broken"] != nil {
		t.Errorf("malformed query should yield nil, got %v", view["broken"])
	}
}

func TestApplyMergeMode(t *testing.T) {
	ctx := map[string]any{
		"existing": "data",
		"items":    []any{"a", "b", "c"},
	}
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"count":    {Type: models.TransformLiteral, Literal: float64(3)},
			"existing": {Type: models.TransformLiteral, Literal: "overridden"},
		},
		Mode: models.ModeMerge,
	}

	view := Apply(ctx, hints)

	if !reflect.DeepEqual(view["items"], []any{"a", "b", "c"}) {
		t.Errorf("merge mode must keep raw context, got %v", view["items"])
	}
	if view["count"] != float64(3) {
		t.Errorf("count = %v", view["count"])
	}
	if view["existing"] != "overridden" {
		t.Error("computed field must win on key collision")
	}
}

// Round-trip property: merge mode with no transforms equals raw context
// minus excluded keys.
func TestApplyMergeRoundTrip(t *testing.T) {
	ctx := map[string]any{"keep": "yes", "drop": "no", "nested": map[string]any{"x": float64(1)}}
	hints := &models.LLMHints{Exclude: []string{"drop"}, Mode: models.ModeMerge}

	view := Apply(ctx, hints)

	want := map[string]any{"keep": "yes", "nested": map[string]any{"x": float64(1)}}
	if !reflect.DeepEqual(view, want) {
		t.Errorf("round-trip = %v, want %v", view, want)
	}
}

// Replace mode must not leak any raw context key that is not also a
// computed field name.
func TestApplyReplaceNoLeak(t *testing.T) {
	ctx := map[string]any{"secret_key": "hunter2", "title": "x"}
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"title": {Type: models.TransformExtract, Value: "title"},
		},
		Mode: models.ModeReplace,
	}

	view := Apply(ctx, hints)

	if len(view) != 1 {
		t.Fatalf("expected exactly one field, got %v", view)
	}
	if view["title"] != "x" {
		t.Errorf("title = %v", view["title"])
	}
}

func TestApplyExcludeRunsBeforeTransform(t *testing.T) {
	ctx := map[string]any{"secret": "s3cr3t", "name": "n"}
	hints := &models.LLMHints{
		Exclude: []string{"secret"},
		Transform: map[string]models.TransformRule{
			"leaked": {Type: models.TransformExtract, Value: "secret"},
		},
		Mode: models.ModeMerge,
	}

	view := Apply(ctx, hints)

	if view["leaked"] != nil {
		t.Errorf("excluded key must not be extractable, got %v", view["leaked"])
	}
	if _, ok := view["secret"]; ok {
		t.Error("excluded key present under merge mode")
	}
}

func TestApplyDeterministic(t *testing.T) {
	ctx := map[string]any{"a": float64(1), "b": "two"}
	hints := &models.LLMHints{
		Transform: map[string]models.TransformRule{
			"x": {Type: models.TransformExtract, Value: "a"},
			"y": {Type: models.TransformTemplate, Template: "{{context.b}}"},
		},
		Mode: models.ModeMerge,
	}

	first := Apply(ctx, hints)
	for i := 0; i < 10; i++ {
		if got := Apply(ctx, hints); !reflect.DeepEqual(got, first) {
			t.Fatalf("projection not deterministic: %v vs %v", got, first)
		}
	}
}
