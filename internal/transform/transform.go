// Package transform implements the per-source/per-profile transform
// pipeline: tool/parameter renames, default injection, and the
// response-shaping steps applied to tool call results (and their paired
// schema rewrites).
package transform

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// ToolOverride configures a rename, description override, param renames,
// and injected defaults for a single original tool name.
type ToolOverride struct {
	Rename       string
	Description  string
	ParamRenames map[string]string // original -> new
	Defaults     map[string]any    // new param name -> default value
}

// Pipeline is a source/profile-scoped transform configuration: renames plus
// a base response-shaping chain.
type Pipeline struct {
	ToolOverrides      map[string]ToolOverride // keyed by original tool name
	ResponseTransforms []ResponseStep
}

// NewPipeline returns an empty pipeline (identity transforms, no response
// shaping).
func NewPipeline() *Pipeline {
	return &Pipeline{ToolOverrides: map[string]ToolOverride{}}
}

// ExposedToolName returns the rename for original if configured, else
// original unchanged.
func (p *Pipeline) ExposedToolName(original string) string {
	if p == nil {
		return original
	}
	if ov, ok := p.ToolOverrides[original]; ok && ov.Rename != "" {
		return ov.Rename
	}
	return original
}

// ApplySchemaTransforms renames "properties" keys (and the "required"
// list) per the configured param renames, and injects declared defaults
// into the renamed property schemas. schema is mutated in place.
func (p *Pipeline) ApplySchemaTransforms(originalToolName string, schema map[string]any) {
	if p == nil {
		return
	}
	ov, ok := p.ToolOverrides[originalToolName]
	if !ok {
		return
	}

	props, _ := schema["properties"].(map[string]any)
	if props != nil && len(ov.ParamRenames) > 0 {
		for original, renamed := range ov.ParamRenames {
			if v, exists := props[original]; exists {
				delete(props, original)
				props[renamed] = v
			}
		}
		if req, ok := schema["required"].([]any); ok {
			for i, r := range req {
				if s, ok := r.(string); ok {
					if renamed, exists := ov.ParamRenames[s]; exists {
						req[i] = renamed
					}
				}
			}
		}
	}

	if props != nil {
		for name, def := range ov.Defaults {
			if propSchema, ok := props[name].(map[string]any); ok {
				propSchema["default"] = def
			}
		}
	}
}

// ApplyCallTransforms reverse-maps renamed argument keys back to their
// original names and inserts any configured defaults missing from args.
// args is mutated in place and also returned for convenience.
func (p *Pipeline) ApplyCallTransforms(originalToolName string, args map[string]any) map[string]any {
	if p == nil {
		return args
	}
	ov, ok := p.ToolOverrides[originalToolName]
	if !ok {
		return args
	}

	reverse := make(map[string]string, len(ov.ParamRenames))
	for original, renamed := range ov.ParamRenames {
		reverse[renamed] = original
	}
	for renamed, original := range reverse {
		if v, exists := args[renamed]; exists {
			delete(args, renamed)
			args[original] = v
		}
	}

	for renamedName, def := range ov.Defaults {
		original := renamedName
		if o, exists := reverse[renamedName]; exists {
			original = o
		}
		if _, exists := args[original]; !exists {
			args[original] = def
		}
	}

	return args
}

// ChainMode selects how a tool-level response chain composes with the
// source-level base pipeline.
type ChainMode int

const (
	// Append runs the base pipeline's steps, then the chain's.
	Append ChainMode = iota
	// Replace runs only the chain's steps, ignoring the base pipeline.
	Replace
)

// ApplyChain combines a base response-transform list with an optional
// tool-level chain override per ChainMode.
func ApplyChain(base []ResponseStep, mode ChainMode, chain []ResponseStep) []ResponseStep {
	if chain == nil {
		return base
	}
	if mode == Replace {
		return chain
	}
	out := make([]ResponseStep, 0, len(base)+len(chain))
	out = append(out, base...)
	out = append(out, chain...)
	return out
}

// StepKind identifies a response-shaping step.
type StepKind int

const (
	DropNulls StepKind = iota
	PickPointers
	RedactKeys
	TruncateStrings
	LimitArrays
)

// ResponseStep is one configured response-shaping step.
type ResponseStep struct {
	Kind            StepKind
	Pointers        []string // PickPointers: top-level JSON pointers, e.g. "/id"
	Keys            []string // RedactKeys
	Replacement     string   // RedactKeys, defaults to "***REDACTED***"
	MaxChars        int      // TruncateStrings
	MaxItems        int      // LimitArrays
}

type compiledStep struct {
	kind        StepKind
	fields      map[string]struct{} // PickPointers
	keys        map[string]struct{} // RedactKeys
	replacement string
	maxChars    int
	maxItems    int
}

// CompiledPipeline is an immutable, ready-to-apply response-shaping
// pipeline safe to share across goroutines.
type CompiledPipeline struct {
	steps []compiledStep
}

// CompilePipeline compiles a finalized step list, validating JSON pointer
// syntax up front so malformed configuration fails at build time rather
// than at call time.
func CompilePipeline(steps []ResponseStep) (*CompiledPipeline, error) {
	compiled := make([]compiledStep, 0, len(steps))
	for _, s := range steps {
		switch s.Kind {
		case DropNulls:
			compiled = append(compiled, compiledStep{kind: DropNulls})
		case PickPointers:
			fields, err := compileTopLevelPointers(s.Pointers)
			if err != nil {
				return nil, err
			}
			compiled = append(compiled, compiledStep{kind: PickPointers, fields: fields})
		case RedactKeys:
			keys := make(map[string]struct{}, len(s.Keys))
			for _, k := range s.Keys {
				keys[k] = struct{}{}
			}
			replacement := s.Replacement
			if replacement == "" {
				replacement = "***REDACTED***"
			}
			compiled = append(compiled, compiledStep{kind: RedactKeys, keys: keys, replacement: replacement})
		case TruncateStrings:
			compiled = append(compiled, compiledStep{kind: TruncateStrings, maxChars: s.MaxChars})
		case LimitArrays:
			compiled = append(compiled, compiledStep{kind: LimitArrays, maxItems: s.MaxItems})
		default:
			return nil, fmt.Errorf("transform: unknown response step kind %v", s.Kind)
		}
	}
	return &CompiledPipeline{steps: compiled}, nil
}

// IsEmpty reports whether the pipeline has no steps.
func (p *CompiledPipeline) IsEmpty() bool {
	return p == nil || len(p.steps) == 0
}

// ApplyToValue runs every step against v in place.
func (p *CompiledPipeline) ApplyToValue(v any) any {
	if p == nil {
		return v
	}
	for _, s := range p.steps {
		switch s.kind {
		case DropNulls:
			v = dropNulls(v)
		case PickPointers:
			v = pickTopLevelFields(v, s.fields)
		case RedactKeys:
			v = redactKeys(v, s.keys, s.replacement)
		case TruncateStrings:
			v = truncateStrings(v, s.maxChars)
		case LimitArrays:
			v = limitArrays(v, s.maxItems)
		}
	}
	return v
}

// ApplyToSchema applies the paired best-effort schema rewrite for each
// step and returns any non-fatal warnings produced along the way.
func (p *CompiledPipeline) ApplyToSchema(schema map[string]any) []string {
	if p == nil {
		return nil
	}
	var warnings []string
	for _, s := range p.steps {
		switch s.kind {
		case DropNulls:
			removeRequiredRecursively(schema)
		case PickPointers:
			if !pruneSchemaTopLevelProperties(schema, s.fields) {
				removeRequiredRecursively(schema)
				warnings = append(warnings, "pickPointers: cannot prune output schema (expected an object schema with properties at the root); widening by removing required")
			}
		case RedactKeys:
			widenSchemaRedactedKeys(schema, s.keys)
		case TruncateStrings:
			applyMaxLength(schema, s.maxChars)
		case LimitArrays:
			applyMaxItems(schema, s.maxItems)
		}
	}
	return warnings
}

func compileTopLevelPointers(pointers []string) (map[string]struct{}, error) {
	fields := map[string]struct{}{}
	for _, p := range pointers {
		field, err := parseTopLevelJSONPointer(p)
		if err != nil {
			return nil, err
		}
		fields[field] = struct{}{}
	}
	return fields, nil
}

func parseTopLevelJSONPointer(ptr string) (string, error) {
	if ptr == "" {
		return "", fmt.Errorf("transform: json pointer must not be empty")
	}
	if !strings.HasPrefix(ptr, "/") {
		return "", fmt.Errorf("transform: json pointer must start with '/', got '%s'", ptr)
	}
	rest := ptr[1:]
	if rest == "" {
		return "", fmt.Errorf("transform: json pointer must not be '/' (empty token)")
	}
	if strings.Contains(rest, "/") {
		return "", fmt.Errorf("transform: only top-level pointers are supported (e.g. '/id'); got '%s'", ptr)
	}
	return decodePointerToken(rest)
}

func decodePointerToken(token string) (string, error) {
	if !strings.Contains(token, "~") {
		return token, nil
	}
	var out strings.Builder
	runes := []rune(token)
	for i := 0; i < len(runes); i++ {
		c := runes[i]
		if c != '~' {
			out.WriteRune(c)
			continue
		}
		if i+1 >= len(runes) {
			return "", fmt.Errorf("transform: dangling '~' in json pointer token '%s'", token)
		}
		i++
		switch runes[i] {
		case '0':
			out.WriteRune('~')
		case '1':
			out.WriteRune('/')
		default:
			return "", fmt.Errorf("transform: invalid json pointer escape '~%c' in token '%s'", runes[i], token)
		}
	}
	return out.String(), nil
}

func dropNulls(v any) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if val == nil {
				delete(t, k)
				continue
			}
			t[k] = dropNulls(val)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = dropNulls(val)
		}
		return t
	default:
		return v
	}
}

func pickTopLevelFields(v any, fields map[string]struct{}) any {
	m, ok := v.(map[string]any)
	if !ok {
		return v
	}
	for k := range m {
		if _, keep := fields[k]; !keep {
			delete(m, k)
		}
	}
	return m
}

func redactKeys(v any, keys map[string]struct{}, replacement string) any {
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			if _, redact := keys[k]; redact {
				t[k] = replacement
				continue
			}
			t[k] = redactKeys(val, keys, replacement)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = redactKeys(val, keys, replacement)
		}
		return t
	default:
		return v
	}
}

func truncateStrings(v any, maxChars int) any {
	switch t := v.(type) {
	case string:
		runes := []rune(t)
		if len(runes) <= maxChars {
			return t
		}
		return string(runes[:maxChars])
	case map[string]any:
		for k, val := range t {
			t[k] = truncateStrings(val, maxChars)
		}
		return t
	case []any:
		for i, val := range t {
			t[i] = truncateStrings(val, maxChars)
		}
		return t
	default:
		return v
	}
}

func limitArrays(v any, maxItems int) any {
	switch t := v.(type) {
	case []any:
		if len(t) > maxItems {
			t = t[:maxItems]
		}
		for i, val := range t {
			t[i] = limitArrays(val, maxItems)
		}
		return t
	case map[string]any:
		for k, val := range t {
			t[k] = limitArrays(val, maxItems)
		}
		return t
	default:
		return v
	}
}

func removeRequiredRecursively(v any) {
	switch t := v.(type) {
	case map[string]any:
		delete(t, "required")
		for _, val := range t {
			removeRequiredRecursively(val)
		}
	case []any:
		for _, val := range t {
			removeRequiredRecursively(val)
		}
	}
}

func pruneSchemaTopLevelProperties(schema map[string]any, fields map[string]struct{}) bool {
	props, ok := schema["properties"].(map[string]any)
	if !ok {
		return false
	}
	for k := range props {
		if _, keep := fields[k]; !keep {
			delete(props, k)
		}
	}
	if req, ok := schema["required"].([]any); ok {
		kept := req[:0]
		for _, r := range req {
			if s, ok := r.(string); ok {
				if _, keep := fields[s]; keep {
					kept = append(kept, r)
				}
			}
		}
		schema["required"] = kept
	}
	return true
}

func widenSchemaRedactedKeys(v any, keys map[string]struct{}) {
	switch t := v.(type) {
	case map[string]any:
		if props, ok := t["properties"].(map[string]any); ok {
			for k, sub := range props {
				if _, redact := keys[k]; redact {
					if subMap, ok := sub.(map[string]any); ok {
						widenToAllowString(props, k, subMap)
					}
				}
			}
		}
		for _, val := range t {
			widenSchemaRedactedKeys(val, keys)
		}
	case []any:
		for _, val := range t {
			widenSchemaRedactedKeys(val, keys)
		}
	}
}

func widenToAllowString(parent map[string]any, key string, schema map[string]any) {
	if schemaAllowsString(schema) {
		return
	}
	parent[key] = map[string]any{
		"anyOf": []any{schema, map[string]any{"type": "string"}},
	}
}

func schemaAllowsString(schema map[string]any) bool {
	if t, ok := schema["type"]; ok {
		switch tt := t.(type) {
		case string:
			if tt == "string" {
				return true
			}
		case []any:
			for _, e := range tt {
				if s, ok := e.(string); ok && s == "string" {
					return true
				}
			}
		}
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for _, e := range arr {
				if m, ok := e.(map[string]any); ok && schemaAllowsString(m) {
					return true
				}
			}
		}
	}
	return false
}

func schemaAllowsArray(schema map[string]any) bool {
	if t, ok := schema["type"]; ok {
		switch tt := t.(type) {
		case string:
			if tt == "array" {
				return true
			}
		case []any:
			for _, e := range tt {
				if s, ok := e.(string); ok && s == "array" {
					return true
				}
			}
		}
	}
	for _, key := range []string{"anyOf", "oneOf", "allOf"} {
		if arr, ok := schema[key].([]any); ok {
			for _, e := range arr {
				if m, ok := e.(map[string]any); ok && schemaAllowsArray(m) {
					return true
				}
			}
		}
	}
	return false
}

func applyMaxLength(v any, maxChars int) {
	m, ok := v.(map[string]any)
	if !ok {
		if arr, ok := v.([]any); ok {
			for _, e := range arr {
				applyMaxLength(e, maxChars)
			}
		}
		return
	}
	if schemaAllowsString(m) {
		clampNumeric(m, "maxLength", maxChars)
	}
	for _, val := range m {
		applyMaxLength(val, maxChars)
	}
}

func applyMaxItems(v any, maxItems int) {
	m, ok := v.(map[string]any)
	if !ok {
		if arr, ok := v.([]any); ok {
			for _, e := range arr {
				applyMaxItems(e, maxItems)
			}
		}
		return
	}
	if schemaAllowsArray(m) {
		clampNumeric(m, "maxItems", maxItems)
	}
	for _, val := range m {
		applyMaxItems(val, maxItems)
	}
}

func clampNumeric(m map[string]any, key string, max int) {
	cur, exists := m[key]
	if !exists {
		m[key] = max
		return
	}
	var curVal float64
	switch c := cur.(type) {
	case float64:
		curVal = c
	case int:
		curVal = float64(c)
	default:
		return
	}
	if curVal > float64(max) {
		m[key] = max
	}
}

// CanonicalizeJSON recursively key-sorts a decoded JSON value so its
// marshaled form is stable regardless of source ordering. Used by the
// contract tracker to hash the exposed surface.
func CanonicalizeJSON(v any) any {
	switch t := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := make(map[string]any, len(t))
		for _, k := range keys {
			out[k] = CanonicalizeJSON(t[k])
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = CanonicalizeJSON(e)
		}
		return out
	default:
		return v
	}
}

// MarshalCanonical marshals v after canonicalizing any nested JSON object
// keys, giving a stable byte representation for hashing.
func MarshalCanonical(v any) ([]byte, error) {
	return json.Marshal(CanonicalizeJSON(v))
}
