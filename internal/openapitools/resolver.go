package openapitools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DocKind distinguishes the two supported document origins.
type DocKind int

const (
	DocFile DocKind = iota
	DocURL
)

// DocID identifies a loaded OpenAPI document, local file or remote URL.
// $ref resolution is always relative to the DocID of the document that
// contains the $ref, not the resolver's root document.
type DocID struct {
	Kind DocKind
	Path string // DocFile: absolute (best-effort) filesystem path
	URL  string // DocURL: fragment-stripped URL
}

func (d DocID) String() string {
	if d.Kind == DocURL {
		return "url:" + d.URL
	}
	return "file:" + d.Path
}

// ParseDocID turns a root spec location into a DocID.
func ParseDocID(specLocation string) (DocID, error) {
	if strings.HasPrefix(specLocation, "http://") || strings.HasPrefix(specLocation, "https://") {
		u, err := url.Parse(specLocation)
		if err != nil {
			return DocID{}, fmt.Errorf("openapitools: invalid spec URL %q: %w", specLocation, err)
		}
		u.Fragment = ""
		return DocID{Kind: DocURL, URL: u.String()}, nil
	}
	if strings.HasPrefix(specLocation, "file://") {
		u, err := url.Parse(specLocation)
		if err != nil {
			return DocID{}, fmt.Errorf("openapitools: invalid spec file URL %q: %w", specLocation, err)
		}
		return DocID{Kind: DocFile, Path: canonicalizeBestEffort(u.Path)}, nil
	}
	return DocID{Kind: DocFile, Path: canonicalizeBestEffort(specLocation)}, nil
}

func canonicalizeBestEffort(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return path
}

// HTTPDoer is the subset of *http.Client used to fetch remote documents.
type HTTPDoer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Resolver loads and caches OpenAPI documents and resolves $ref strings
// against the document that contains them, detecting reference cycles.
type Resolver struct {
	rootDoc DocID
	client  HTTPDoer

	mu   sync.RWMutex
	docs map[string]any // DocID.String() -> decoded JSON
}

// NewResolver seeds the resolver's cache with the already-parsed root
// document.
func NewResolver(rootDoc DocID, rootSpec any, client HTTPDoer) *Resolver {
	r := &Resolver{
		rootDoc: rootDoc,
		client:  client,
		docs:    map[string]any{},
	}
	r.docs[rootDoc.String()] = rootSpec
	return r
}

// RootDoc returns the resolver's root document id.
func (r *Resolver) RootDoc() DocID { return r.rootDoc }

// Resolve follows ref, starting relative to currentDoc, through as many
// hops as needed (detecting cycles), and returns the document it was
// ultimately found in plus the resolved value. A bare object (no $ref) is
// returned unchanged.
func (r *Resolver) Resolve(ctx context.Context, currentDoc DocID, node any) (DocID, any, error) {
	seen := map[string]struct{}{}
	doc := currentDoc
	cur := node

	for {
		ref, isRef := refString(cur)
		if !isRef {
			return doc, cur, nil
		}

		key, err := r.canonicalRefKey(doc, ref)
		if err != nil {
			return DocID{}, nil, err
		}
		if _, dup := seen[key]; dup {
			return DocID{}, nil, fmt.Errorf("openapitools: cyclic $ref detected while resolving: %s", ref)
		}
		seen[key] = struct{}{}

		targetDoc, value, err := r.resolveRefValue(ctx, doc, ref)
		if err != nil {
			return DocID{}, nil, err
		}
		doc = targetDoc
		cur = value
	}
}

func refString(node any) (string, bool) {
	m, ok := node.(map[string]any)
	if !ok {
		return "", false
	}
	ref, ok := m["$ref"].(string)
	return ref, ok
}

func (r *Resolver) resolveRefValue(ctx context.Context, currentDoc DocID, reference string) (DocID, any, error) {
	targetDoc, pointer, err := r.parseRef(currentDoc, reference)
	if err != nil {
		return DocID{}, nil, err
	}
	docValue, err := r.loadDoc(ctx, targetDoc)
	if err != nil {
		return DocID{}, nil, err
	}

	if pointer == "" {
		return targetDoc, docValue, nil
	}
	selected, ok := jsonPointerLookup(docValue, pointer)
	if !ok {
		return DocID{}, nil, fmt.Errorf("openapitools: unresolved $ref %q (doc %s, missing pointer %q)", reference, targetDoc, pointer)
	}
	return targetDoc, selected, nil
}

func (r *Resolver) parseRef(currentDoc DocID, reference string) (DocID, string, error) {
	if strings.HasPrefix(reference, "#") {
		frag := reference[1:]
		if frag == "" {
			return currentDoc, "", nil
		}
		if !strings.HasPrefix(frag, "/") {
			return DocID{}, "", fmt.Errorf("openapitools: unsupported $ref fragment (expected JSON pointer starting with '/'): %s", reference)
		}
		return currentDoc, frag, nil
	}

	docPart, fragPart, hasFrag := strings.Cut(reference, "#")
	targetDoc, err := r.resolveDoc(currentDoc, docPart)
	if err != nil {
		return DocID{}, "", err
	}

	if !hasFrag || fragPart == "" {
		return targetDoc, "", nil
	}
	if !strings.HasPrefix(fragPart, "/") {
		return DocID{}, "", fmt.Errorf("openapitools: unsupported $ref fragment (expected JSON pointer starting with '/'): %s", reference)
	}
	return targetDoc, fragPart, nil
}

func (r *Resolver) resolveDoc(currentDoc DocID, docPart string) (DocID, error) {
	if docPart == "" {
		return currentDoc, nil
	}

	if strings.HasPrefix(docPart, "http://") || strings.HasPrefix(docPart, "https://") {
		u, err := url.Parse(docPart)
		if err != nil {
			return DocID{}, fmt.Errorf("openapitools: bad $ref URL %q: %w", docPart, err)
		}
		u.Fragment = ""
		return DocID{Kind: DocURL, URL: u.String()}, nil
	}
	if strings.HasPrefix(docPart, "file://") {
		u, err := url.Parse(docPart)
		if err != nil {
			return DocID{}, fmt.Errorf("openapitools: bad $ref file URL %q: %w", docPart, err)
		}
		return DocID{Kind: DocFile, Path: canonicalizeBestEffort(u.Path)}, nil
	}

	switch currentDoc.Kind {
	case DocURL:
		base, err := url.Parse(currentDoc.URL)
		if err != nil {
			return DocID{}, fmt.Errorf("openapitools: invalid base URL %q: %w", currentDoc.URL, err)
		}
		joined, err := base.Parse(docPart)
		if err != nil {
			return DocID{}, fmt.Errorf("openapitools: failed to resolve relative $ref %q against base %s: %w", docPart, currentDoc.URL, err)
		}
		joined.Fragment = ""
		return DocID{Kind: DocURL, URL: joined.String()}, nil
	default:
		var resolved string
		if filepath.IsAbs(docPart) {
			resolved = docPart
		} else {
			resolved = filepath.Join(filepath.Dir(currentDoc.Path), docPart)
		}
		return DocID{Kind: DocFile, Path: canonicalizeBestEffort(resolved)}, nil
	}
}

func (r *Resolver) canonicalRefKey(currentDoc DocID, reference string) (string, error) {
	targetDoc, pointer, err := r.parseRef(currentDoc, reference)
	if err != nil {
		return "", err
	}
	key := targetDoc.String()
	if pointer != "" {
		key += "#" + pointer
	}
	return key, nil
}

func (r *Resolver) loadDoc(ctx context.Context, doc DocID) (any, error) {
	key := doc.String()

	r.mu.RLock()
	cached, ok := r.docs[key]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	var content []byte
	var err error
	switch doc.Kind {
	case DocFile:
		content, err = os.ReadFile(doc.Path)
		if err != nil {
			return nil, fmt.Errorf("openapitools: failed to read referenced file %s: %w", doc.Path, err)
		}
	case DocURL:
		req, reqErr := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
		if reqErr != nil {
			return nil, fmt.Errorf("openapitools: build request for %s: %w", doc.URL, reqErr)
		}
		resp, doErr := r.client.Do(req)
		if doErr != nil {
			return nil, fmt.Errorf("openapitools: failed to fetch referenced URL %s: %w", doc.URL, doErr)
		}
		defer resp.Body.Close()
		buf := make([]byte, 0, 4096)
		tmp := make([]byte, 4096)
		for {
			n, readErr := resp.Body.Read(tmp)
			buf = append(buf, tmp[:n]...)
			if readErr != nil {
				break
			}
		}
		content = buf
	}

	var parsed any
	if err := json.Unmarshal(content, &parsed); err != nil {
		return nil, fmt.Errorf("openapitools: failed to parse referenced document %s as JSON (YAML specs must be pre-converted to JSON before loading): %w", doc, err)
	}

	r.mu.Lock()
	r.docs[key] = parsed
	r.mu.Unlock()
	return parsed, nil
}

// jsonPointerLookup resolves an RFC 6901 JSON pointer (leading "/") against
// a decoded JSON value.
func jsonPointerLookup(v any, pointer string) (any, bool) {
	if pointer == "" {
		return v, true
	}
	tokens := strings.Split(strings.TrimPrefix(pointer, "/"), "/")
	cur := v
	for _, tok := range tokens {
		tok = unescapePointerToken(tok)
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[tok]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			idx := 0
			if _, err := fmt.Sscanf(tok, "%d", &idx); err != nil {
				return nil, false
			}
			if idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

func unescapePointerToken(tok string) string {
	tok = strings.ReplaceAll(tok, "~1", "/")
	tok = strings.ReplaceAll(tok, "~0", "~")
	return tok
}
