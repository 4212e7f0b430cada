package openapitools

import (
	"context"
	"os"
	"path/filepath"
	"testing"
)

func TestParseDocIDFilePath(t *testing.T) {
	doc, err := ParseDocID("/tmp/specs/root.json")
	if err != nil {
		t.Fatalf("ParseDocID: %v", err)
	}
	if doc.Kind != DocFile || doc.Path != "/tmp/specs/root.json" {
		t.Fatalf("doc = %+v, want file /tmp/specs/root.json", doc)
	}
}

func TestParseDocIDURLStripsFragment(t *testing.T) {
	doc, err := ParseDocID("https://example.com/openapi.json#/components")
	if err != nil {
		t.Fatalf("ParseDocID: %v", err)
	}
	if doc.Kind != DocURL || doc.URL != "https://example.com/openapi.json" {
		t.Fatalf("doc = %+v, want fragment-stripped URL", doc)
	}
}

func TestResolverResolvesLocalPointer(t *testing.T) {
	root := map[string]any{
		"components": map[string]any{
			"schemas": map[string]any{
				"Widget": map[string]any{"type": "object"},
			},
		},
	}
	docID := DocID{Kind: DocFile, Path: "/root.json"}
	r := NewResolver(docID, root, nil)

	node := map[string]any{"$ref": "#/components/schemas/Widget"}
	_, resolved, err := r.Resolve(context.Background(), docID, node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	m, ok := resolved.(map[string]any)
	if !ok || m["type"] != "object" {
		t.Fatalf("resolved = %+v, want the Widget schema", resolved)
	}
}

func TestResolverFollowsFileRelativeRef(t *testing.T) {
	dir := t.TempDir()
	rootPath := filepath.Join(dir, "root.json")
	siblingPath := filepath.Join(dir, "sibling.json")

	if err := os.WriteFile(siblingPath, []byte(`{"type":"string","format":"uuid"}`), 0o644); err != nil {
		t.Fatalf("write sibling: %v", err)
	}

	root := map[string]any{"ignored": true}
	rootDoc, err := ParseDocID(rootPath)
	if err != nil {
		t.Fatalf("ParseDocID: %v", err)
	}
	if err := os.WriteFile(rootPath, []byte(`{}`), 0o644); err != nil {
		t.Fatalf("write root: %v", err)
	}

	r := NewResolver(rootDoc, root, nil)
	node := map[string]any{"$ref": "sibling.json"}
	_, resolved, err := r.Resolve(context.Background(), rootDoc, node)
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	m, ok := resolved.(map[string]any)
	if !ok || m["format"] != "uuid" {
		t.Fatalf("resolved = %+v, want sibling.json's schema", resolved)
	}
}

func TestResolverDetectsCycle(t *testing.T) {
	root := map[string]any{
		"a": map[string]any{"$ref": "#/b"},
		"b": map[string]any{"$ref": "#/a"},
	}
	docID := DocID{Kind: DocFile, Path: "/root.json"}
	r := NewResolver(docID, root, nil)

	node := map[string]any{"$ref": "#/a"}
	if _, _, err := r.Resolve(context.Background(), docID, node); err == nil {
		t.Fatalf("Resolve() = nil error, want cycle detection error")
	}
}

func TestResolverRejectsNonPointerFragment(t *testing.T) {
	docID := DocID{Kind: DocFile, Path: "/root.json"}
	r := NewResolver(docID, map[string]any{}, nil)

	node := map[string]any{"$ref": "#components"}
	if _, _, err := r.Resolve(context.Background(), docID, node); err == nil {
		t.Fatalf("Resolve() = nil error, want rejection of non JSON-pointer fragment")
	}
}

func TestJSONPointerLookupArrayIndex(t *testing.T) {
	v := map[string]any{"items": []any{"a", "b", "c"}}
	got, ok := jsonPointerLookup(v, "/items/1")
	if !ok || got != "b" {
		t.Fatalf("jsonPointerLookup() = %v, %v, want \"b\", true", got, ok)
	}
}

func TestJSONPointerLookupUnescapesTokens(t *testing.T) {
	v := map[string]any{"a/b": map[string]any{"c~d": "found"}}
	got, ok := jsonPointerLookup(v, "/a~1b/c~0d")
	if !ok || got != "found" {
		t.Fatalf("jsonPointerLookup() = %v, %v, want \"found\", true", got, ok)
	}
}
