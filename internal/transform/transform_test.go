package transform

import (
	"reflect"
	"testing"
)

func TestExposedToolNameUsesRenameWhenConfigured(t *testing.T) {
	p := NewPipeline()
	p.ToolOverrides["search"] = ToolOverride{Rename: "find"}
	if got := p.ExposedToolName("search"); got != "find" {
		t.Fatalf("ExposedToolName() = %q, want find", got)
	}
	if got := p.ExposedToolName("other"); got != "other" {
		t.Fatalf("ExposedToolName() = %q, want other unchanged", got)
	}
}

func TestApplyCallTransformsReverseMapsRenamedArgsAndFillsDefaults(t *testing.T) {
	p := NewPipeline()
	p.ToolOverrides["search"] = ToolOverride{
		ParamRenames: map[string]string{"q": "query"},
		Defaults:     map[string]any{"query": "fallback", "limit": 10},
	}
	args := map[string]any{"query": "hello"}
	out := p.ApplyCallTransforms("search", args)

	want := map[string]any{"q": "hello", "limit": 10}
	if !reflect.DeepEqual(out, want) {
		t.Fatalf("ApplyCallTransforms() = %+v, want %+v", out, want)
	}
}

func TestApplySchemaTransformsRenamesPropertiesAndRequired(t *testing.T) {
	p := NewPipeline()
	p.ToolOverrides["search"] = ToolOverride{ParamRenames: map[string]string{"q": "query"}}
	schema := map[string]any{
		"properties": map[string]any{"q": map[string]any{"type": "string"}},
		"required":   []any{"q"},
	}
	p.ApplySchemaTransforms("search", schema)

	props := schema["properties"].(map[string]any)
	if _, ok := props["q"]; ok {
		t.Fatal("expected original property name to be removed")
	}
	if _, ok := props["query"]; !ok {
		t.Fatal("expected renamed property to be present")
	}
	if schema["required"].([]any)[0] != "query" {
		t.Fatalf("required = %v, want renamed", schema["required"])
	}
}

func TestDropNullsRemovesNullFieldsRecursively(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: DropNulls}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	v := map[string]any{
		"a": nil,
		"b": map[string]any{"c": nil, "d": 1},
		"e": []any{nil, 2},
	}
	out := compiled.ApplyToValue(v).(map[string]any)
	if _, ok := out["a"]; ok {
		t.Fatal("expected top-level null to be dropped")
	}
	nested := out["b"].(map[string]any)
	if _, ok := nested["c"]; ok {
		t.Fatal("expected nested null to be dropped")
	}
	if nested["d"] != 1 {
		t.Fatalf("nested[d] = %v, want 1", nested["d"])
	}
}

func TestPickPointersKeepsOnlySelectedTopLevelFields(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: PickPointers, Pointers: []string{"/id", "/name"}}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	v := map[string]any{"id": 1, "name": "x", "secret": "y"}
	out := compiled.ApplyToValue(v).(map[string]any)
	if len(out) != 2 {
		t.Fatalf("out = %+v, want exactly id and name", out)
	}
	if _, ok := out["secret"]; ok {
		t.Fatal("expected unselected field to be dropped")
	}
}

func TestPickPointersRejectsNestedPointers(t *testing.T) {
	_, err := CompilePipeline([]ResponseStep{{Kind: PickPointers, Pointers: []string{"/a/b"}}})
	if err == nil {
		t.Fatal("expected nested pointer to be rejected at compile time")
	}
}

func TestRedactKeysReplacesValueRecursively(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: RedactKeys, Keys: []string{"password"}}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	v := map[string]any{"user": map[string]any{"password": "hunter2"}}
	out := compiled.ApplyToValue(v).(map[string]any)
	user := out["user"].(map[string]any)
	if user["password"] != "***REDACTED***" {
		t.Fatalf("password = %v, want redacted", user["password"])
	}
}

func TestTruncateStringsClipsLongStringsByRuneCount(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: TruncateStrings, MaxChars: 3}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	out := compiled.ApplyToValue("hello")
	if out != "hel" {
		t.Fatalf("out = %v, want hel", out)
	}
}

func TestLimitArraysTruncatesNestedArrays(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: LimitArrays, MaxItems: 2}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	out := compiled.ApplyToValue([]any{1, 2, 3, 4}).([]any)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
}

func TestSchemaDropNullsRemovesRequiredRecursively(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: DropNulls}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	schema := map[string]any{
		"required":   []any{"id"},
		"properties": map[string]any{"id": map[string]any{"required": []any{"x"}}},
	}
	compiled.ApplyToSchema(schema)
	if _, ok := schema["required"]; ok {
		t.Fatal("expected top-level required to be removed")
	}
	props := schema["properties"].(map[string]any)
	idSchema := props["id"].(map[string]any)
	if _, ok := idSchema["required"]; ok {
		t.Fatal("expected nested required to be removed too")
	}
}

func TestSchemaPickPointersPrunesPropertiesAndRequired(t *testing.T) {
	compiled, err := CompilePipeline([]ResponseStep{{Kind: PickPointers, Pointers: []string{"/id"}}})
	if err != nil {
		t.Fatalf("CompilePipeline: %v", err)
	}
	schema := map[string]any{
		"properties": map[string]any{
			"id":   map[string]any{"type": "integer"},
			"name": map[string]any{"type": "string"},
		},
		"required": []any{"id", "name"},
	}
	warnings := compiled.ApplyToSchema(schema)
	if len(warnings) != 0 {
		t.Fatalf("warnings = %v, want none for object schema", warnings)
	}
	props := schema["properties"].(map[string]any)
	if len(props) != 1 {
		t.Fatalf("properties = %+v, want only id", props)
	}
	req := schema["required"].([]any)
	if len(req) != 1 || req[0] != "id" {
		t.Fatalf("required = %v, want [id]", req)
	}
}

func TestApplyChainReplaceIgnoresBase(t *testing.T) {
	base := []ResponseStep{{Kind: DropNulls}}
	chain := []ResponseStep{{Kind: LimitArrays, MaxItems: 1}}
	out := ApplyChain(base, Replace, chain)
	if len(out) != 1 || out[0].Kind != LimitArrays {
		t.Fatalf("ApplyChain(Replace) = %+v, want only chain steps", out)
	}
}

func TestApplyChainAppendKeepsBaseThenChain(t *testing.T) {
	base := []ResponseStep{{Kind: DropNulls}}
	chain := []ResponseStep{{Kind: LimitArrays, MaxItems: 1}}
	out := ApplyChain(base, Append, chain)
	if len(out) != 2 || out[0].Kind != DropNulls || out[1].Kind != LimitArrays {
		t.Fatalf("ApplyChain(Append) = %+v, want base then chain", out)
	}
}

func TestMarshalCanonicalIsKeyOrderInsensitive(t *testing.T) {
	a, err := MarshalCanonical(map[string]any{"b": 1, "a": 2})
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	b, err := MarshalCanonical(map[string]any{"a": 2, "b": 1})
	if err != nil {
		t.Fatalf("MarshalCanonical: %v", err)
	}
	if string(a) != string(b) {
		t.Fatalf("a=%s b=%s, want identical canonical bytes", a, b)
	}
}
