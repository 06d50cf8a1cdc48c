package models

// Transform rule kinds. A rule is a tagged variant keyed by Type; exactly one
// of the payload fields below is meaningful per kind.
const (
	TransformLiteral  = "literal"
	TransformExtract  = "extract"
	TransformTemplate = "template"
	TransformJQ       = "jq"
)

// Composition modes for the projection engine
const (
	ModeReplace = "replace"
	ModeMerge   = "merge"
)

// TransformRule computes one output field of a projected view.
//   literal:  emit Literal as-is
//   extract:  resolve Value as a path expression against context
//   template: interpolate {{context.<path>}} placeholders in Template
//   jq:       apply Query (restricted query syntax) to context
type TransformRule struct {
	Type     string `json:"type"`
	Literal  any    `json:"literal,omitempty"`
	Value    string `json:"value,omitempty"`
	Template string `json:"template,omitempty"`
	Query    string `json:"query,omitempty"`
}

// LLMHints drives the projection engine: Exclude strips context key paths
// before any transform runs; Transform maps output field names to rules;
// Mode selects replace (computed fields only) or merge (computed fields
// overlaid on the remaining raw context).
type LLMHints struct {
	Exclude   []string                 `json:"exclude,omitempty"`
	Transform map[string]TransformRule `json:"transform,omitempty"`
	Mode      string                   `json:"mode,omitempty"`
}
