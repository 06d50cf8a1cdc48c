// Package selector implements pure selector-to-record matching. It is used
// by both the search path and the event fan-out, carries no state, and is
// safe to call concurrently.
package selector

import (
	"encoding/json"
	"reflect"
	"strings"

	"github.com/tidwall/gjson"

	"breadcrumbd/internal/models"
)

// Matches reports whether the selector matches the breadcrumb. Every present
// clause category must hold; an empty selector matches everything.
func Matches(sel models.Selector, b *models.Breadcrumb) bool {
	var ctxJSON []byte
	if len(sel.ContextMatch) > 0 {
		ctxJSON, _ = json.Marshal(b.Context)
	}
	return MatchesJSON(sel, b.Tags, b.SchemaName, ctxJSON)
}

// MatchesJSON is the allocation-conscious form used by the fan-out, which
// marshals a record's context once and evaluates many selectors against it.
func MatchesJSON(sel models.Selector, tags []string, schemaName string, contextJSON []byte) bool {
	if sel.SchemaName != "" && sel.SchemaName != schemaName {
		return false
	}
	if len(sel.AllTags) > 0 && !containsAll(tags, sel.AllTags) {
		return false
	}
	if len(sel.AnyTags) > 0 && !containsAny(tags, sel.AnyTags) {
		return false
	}
	for _, clause := range sel.ContextMatch {
		if !evalClause(clause, contextJSON) {
			return false
		}
	}
	return true
}

// Validate rejects selectors with unknown operators or empty clause paths
// before they reach the registry or the search path.
func Validate(sel models.Selector) error {
	for _, c := range sel.ContextMatch {
		if strings.TrimSpace(c.Path) == "" {
			return errEmptyPath
		}
		switch c.Op {
		case "eq", "ne", "contains", "gt", "lt", "gte", "lte", "exists":
		default:
			return &UnknownOpError{Op: c.Op}
		}
	}
	return nil
}

func containsAll(tags, want []string) bool {
	for _, w := range want {
		found := false
		for _, t := range tags {
			if t == w {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

func containsAny(tags, want []string) bool {
	for _, w := range want {
		for _, t := range tags {
			if t == w {
				return true
			}
		}
	}
	return false
}

func evalClause(clause models.ContextClause, contextJSON []byte) bool {
	res := gjson.GetBytes(contextJSON, NormalizePath(clause.Path))

	if clause.Op == "exists" {
		if want, ok := clause.Value.(bool); ok && !want {
			return !res.Exists()
		}
		return res.Exists()
	}
	if !res.Exists() {
		return false
	}

	switch clause.Op {
	case "eq":
		return jsonEqual(res.Value(), clause.Value)
	case "ne":
		return !jsonEqual(res.Value(), clause.Value)
	case "contains":
		return contains(res, clause.Value)
	case "gt", "lt", "gte", "lte":
		return ordered(clause.Op, res, clause.Value)
	}
	return false
}

// jsonEqual compares two JSON-decoded values. Both sides come from
// encoding/json so numbers are float64 on either side.
func jsonEqual(a, b any) bool {
	return reflect.DeepEqual(a, b)
}

func contains(res gjson.Result, value any) bool {
	if res.IsArray() {
		for _, el := range res.Array() {
			if jsonEqual(el.Value(), value) {
				return true
			}
		}
		return false
	}
	if res.Type == gjson.String {
		s, ok := value.(string)
		return ok && strings.Contains(res.String(), s)
	}
	return false
}

func ordered(op string, res gjson.Result, value any) bool {
	// Numeric comparison when both sides are numbers, lexicographic when
	// both are strings (case-sensitive), otherwise no match.
	if res.Type == gjson.Number {
		f, ok := toFloat(value)
		if !ok {
			return false
		}
		return cmpFloat(op, res.Float(), f)
	}
	if res.Type == gjson.String {
		s, ok := value.(string)
		if !ok {
			return false
		}
		return cmpString(op, res.String(), s)
	}
	return false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func cmpFloat(op string, a, b float64) bool {
	switch op {
	case "gt":
		return a > b
	case "lt":
		return a < b
	case "gte":
		return a >= b
	case "lte":
		return a <= b
	}
	return false
}

func cmpString(op, a, b string) bool {
	switch op {
	case "gt":
		return a > b
	case "lt":
		return a < b
	case "gte":
		return a >= b
	case "lte":
		return a <= b
	}
	return false
}

// NormalizePath converts JSONPath-flavored locators ($.a.b, a[0].b,
// items[*].name) into gjson syntax (a.b, a.0.b, items.#.name).
func NormalizePath(path string) string {
	p := strings.TrimSpace(path)
	p = strings.TrimPrefix(p, "$.")
	p = strings.TrimPrefix(p, "$")
	p = strings.ReplaceAll(p, "[*]", ".#")
	// bracket indices: a[3] -> a.3
	var sb strings.Builder
	for i := 0; i < len(p); i++ {
		switch p[i] {
		case '[':
			sb.WriteByte('.')
		case ']':
			// skip
		default:
			sb.WriteByte(p[i])
		}
	}
	out := sb.String()
	out = strings.ReplaceAll(out, "..", ".")
	return strings.Trim(out, ".")
}
