package router

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/xeipuuv/gojsonschema"
	"github.com/xrash/smetrics"
)

// suggestionThreshold is the minimum Jaro similarity score for an unknown
// parameter name to be offered as a "did you mean" suggestion.
const suggestionThreshold = 0.7

// Violation is one argument-validation failure, shaped for direct embedding
// in a JSON-RPC InvalidParams error's data field.
type Violation struct {
	Type         string   `json:"type"`
	Parameter    string   `json:"parameter,omitempty"`
	Suggestions  []string `json:"suggestions,omitempty"`
	ValidParams  []string `json:"validParameters,omitempty"`
	Message      string   `json:"message,omitempty"`
	InstancePath string   `json:"instancePath,omitempty"`
}

// ValidationError wraps the violations found for one tool call, along with
// a human-readable summary message favoring the most actionable violation.
type ValidationError struct {
	Message    string      `json:"-"`
	Violations []Violation `json:"violations"`
}

func (e *ValidationError) Error() string { return e.Message }

// ValidateArguments checks args against the advertised JSON schema for a
// tool: unknown parameters (with Jaro-similarity suggestions), missing
// required parameters, and JSON Schema constraint violations. Returns nil
// when args are valid.
func ValidateArguments(schema map[string]any, args map[string]any) *ValidationError {
	props, _ := schema["properties"].(map[string]any)
	validParams := make([]string, 0, len(props))
	for name := range props {
		validParams = append(validParams, name)
	}
	sort.Strings(validParams)

	var violations []Violation

	sortedArgKeys := make([]string, 0, len(args))
	for k := range args {
		sortedArgKeys = append(sortedArgKeys, k)
	}
	sort.Strings(sortedArgKeys)
	for _, k := range sortedArgKeys {
		if _, ok := props[k]; ok {
			continue
		}
		violations = append(violations, Violation{
			Type:        "invalid-parameter",
			Parameter:   k,
			Suggestions: findSimilar(k, validParams),
			ValidParams: validParams,
		})
	}

	if required, ok := schema["required"].([]any); ok {
		for _, r := range required {
			name, ok := r.(string)
			if !ok {
				continue
			}
			if _, present := args[name]; !present {
				violations = append(violations, Violation{
					Type:      "missing-required-parameter",
					Parameter: name,
				})
			}
		}
	}

	violations = append(violations, constraintViolations(schema, args)...)

	if len(violations) == 0 {
		return nil
	}

	return &ValidationError{
		Message:    summaryMessage(violations),
		Violations: violations,
	}
}

func constraintViolations(schema map[string]any, args map[string]any) []Violation {
	schemaLoader := gojsonschema.NewGoLoader(schema)
	documentLoader := gojsonschema.NewGoLoader(args)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil
	}

	var out []Violation
	for _, e := range result.Errors() {
		// "required" is already reported with a nicer, dedicated shape above.
		if e.Type() == "required" {
			continue
		}
		out = append(out, Violation{
			Type:         "constraint-violation",
			Message:      e.String(),
			InstancePath: e.Field(),
		})
	}
	return out
}

func findSimilar(unknown string, known []string) []string {
	type scored struct {
		score float64
		name  string
	}
	var candidates []scored
	for _, k := range known {
		score := smetrics.Jaro(unknown, k)
		if score > suggestionThreshold {
			candidates = append(candidates, scored{score, k})
		}
	}
	sort.Slice(candidates, func(i, j int) bool {
		if candidates[i].score != candidates[j].score {
			return candidates[i].score > candidates[j].score
		}
		return candidates[i].name < candidates[j].name
	})
	out := make([]string, len(candidates))
	for i, c := range candidates {
		out[i] = c.name
	}
	return out
}

func summaryMessage(violations []Violation) string {
	for _, v := range violations {
		if v.Type != "invalid-parameter" {
			continue
		}
		if len(v.Suggestions) > 0 {
			return fmt.Sprintf("Invalid params: unknown parameter %q (did you mean %q?)", v.Parameter, v.Suggestions[0])
		}
		return fmt.Sprintf("Invalid params: unknown parameter %q", v.Parameter)
	}
	return fmt.Sprintf("Invalid params: validation failed with %d error(s)", len(violations))
}

// MarshalDataBlob renders a ValidationError's violations the way they are
// embedded in a JSON-RPC error response's data field.
func (e *ValidationError) MarshalDataBlob() (json.RawMessage, error) {
	return json.Marshal(struct {
		Type       string      `json:"type"`
		Violations []Violation `json:"violations"`
	}{Type: "validation-errors", Violations: e.Violations})
}
