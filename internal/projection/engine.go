// Package projection derives reduced views of a record's context from
// declarative llm_hints rules. Evaluation is deterministic, side-effect-free
// and total: a malformed path or expression yields null for that field
// instead of failing the projection.
package projection

import (
	"encoding/json"
	"regexp"
	"strings"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"breadcrumbd/internal/models"
	"breadcrumbd/internal/selector"
)

var templatePlaceholder = regexp.MustCompile(`\{\{\s*context\.([^}]+?)\s*\}\}`)

// Apply computes the projected view of context under the given hints.
// Exclude runs first, then transform rules, then the composition mode:
// replace keeps only computed fields, merge overlays them on the remaining
// raw context (computed field wins on collision). Nil hints return a copy
// of the context unchanged.
func Apply(context map[string]any, hints *models.LLMHints) map[string]any {
	raw, err := json.Marshal(context)
	if err != nil || len(raw) == 0 {
		raw = []byte("{}")
	}
	if hints == nil {
		return decodeObject(raw)
	}

	for _, path := range hints.Exclude {
		p := selector.NormalizePath(path)
		if p == "" {
			continue
		}
		if out, err := sjson.DeleteBytes(raw, p); err == nil {
			raw = out
		}
	}

	if len(hints.Transform) == 0 {
		return decodeObject(raw)
	}

	computed := make(map[string]any, len(hints.Transform))
	for field, rule := range hints.Transform {
		computed[field] = evalRule(rule, raw)
	}

	if hints.Mode == models.ModeMerge {
		view := decodeObject(raw)
		for k, v := range computed {
			view[k] = v
		}
		return view
	}
	// replace: raw context is withheld from the consumer
	return computed
}

// evalRule evaluates a single transform rule against the (already excluded)
// context JSON. It never fails; unresolvable inputs produce nil.
func evalRule(rule models.TransformRule, contextJSON []byte) any {
	switch rule.Type {
	case models.TransformLiteral:
		return rule.Literal
	case models.TransformExtract:
		res := gjson.GetBytes(contextJSON, selector.NormalizePath(rule.Value))
		if !res.Exists() {
			return nil
		}
		return res.Value()
	case models.TransformTemplate:
		return renderTemplate(rule.Template, contextJSON)
	case models.TransformJQ:
		return evalQuery(rule.Query, contextJSON)
	}
	return nil
}

// renderTemplate substitutes {{context.<path>}} placeholders, coercing
// non-string values to their textual form. Unresolved placeholders become
// the empty string.
func renderTemplate(tmpl string, contextJSON []byte) string {
	return templatePlaceholder.ReplaceAllStringFunc(tmpl, func(m string) string {
		sub := templatePlaceholder.FindStringSubmatch(m)
		if len(sub) != 2 {
			return ""
		}
		res := gjson.GetBytes(contextJSON, selector.NormalizePath(sub[1]))
		if !res.Exists() {
			return ""
		}
		switch res.Type {
		case gjson.String:
			return res.Str
		case gjson.JSON:
			return res.Raw
		default:
			return res.String()
		}
	})
}

// evalQuery applies a gjson query expression, the restricted jq-style
// evaluator. Leading "." is tolerated so ".items.#.name" and
// "items.#(done==true)#.id" both work.
func evalQuery(query string, contextJSON []byte) any {
	q := strings.TrimSpace(query)
	q = strings.TrimPrefix(q, ".")
	if q == "" {
		return decodeAny(contextJSON)
	}
	res := gjson.GetBytes(contextJSON, q)
	if !res.Exists() {
		return nil
	}
	return res.Value()
}

func decodeObject(raw []byte) map[string]any {
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil || out == nil {
		return map[string]any{}
	}
	return out
}

func decodeAny(raw []byte) any {
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil
	}
	return out
}
