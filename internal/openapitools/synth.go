// Package openapitools turns an OpenAPI 3.x document into a declarative
// HTTP tool source: every discovered (or explicitly overridden) operation
// becomes one internal/httptools.ToolConfig, then the whole catalog is
// compiled through httptools.NewWithPolicy so execution, safety, and
// response shaping all run through the single HTTP tool engine.
package openapitools

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/kagenti/mcp-gateway/internal/safety"
	"github.com/mark3labs/mcp-go/mcp"
)

// Source wraps a compiled httptools.Source synthesized from an OpenAPI
// document.
type Source struct {
	httptools *httptools.Source
	specDoc   *openapi3.T
}

// Load fetches and parses config.Spec (a file path or URL, resolved via
// Resolver), synthesizes a tool catalog from its operations, and compiles
// it into a runnable Source enforcing policy.
func Load(ctx context.Context, name string, config ServerConfig, client HTTPDoer, defaultTimeout time.Duration, policy safety.Policy) (*Source, error) {
	docID, err := ParseDocID(config.Spec)
	if err != nil {
		return nil, err
	}

	raw, err := fetchDoc(ctx, docID, client)
	if err != nil {
		return nil, err
	}

	// A throwaway Resolver bootstraps from the same bytes kin-openapi will
	// parse, so sibling $refs this loader's own resolution doesn't follow
	// (e.g. ones reached only through a manual EndpointOverride schema
	// lookup) can still be chased document-relative-to-the-ref, per the
	// resolver's cycle-detected, doc-relative algorithm.
	var rootDecoded any
	if err := json.Unmarshal(raw, &rootDecoded); err != nil {
		return nil, fmt.Errorf("openapitools: decode OpenAPI document %q: %w", config.Spec, err)
	}
	resolver := NewResolver(docID, rootDecoded, client)

	loader := openapi3.NewLoader()
	loader.IsExternalRefsAllowed = true
	doc, err := loader.LoadFromData(raw)
	if err != nil {
		return nil, fmt.Errorf("openapitools: parse OpenAPI document %q: %w", config.Spec, err)
	}

	httpConfig, err := synthesizeServerConfig(ctx, sourceCtx{docID: docID, resolver: resolver}, name, doc, config)
	if err != nil {
		return nil, err
	}

	src, err := httptools.NewWithPolicy(name, httpConfig, defaultTimeout, policy)
	if err != nil {
		return nil, err
	}
	return &Source{httptools: src, specDoc: doc}, nil
}

func fetchDoc(ctx context.Context, doc DocID, client HTTPDoer) ([]byte, error) {
	switch doc.Kind {
	case DocFile:
		return readFile(doc.Path)
	default:
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, doc.URL, nil)
		if err != nil {
			return nil, fmt.Errorf("openapitools: build request for %s: %w", doc.URL, err)
		}
		resp, err := client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("openapitools: fetch %s: %w", doc.URL, err)
		}
		defer resp.Body.Close()
		return readAll(resp.Body)
	}
}

// ListTools returns the MCP tools synthesized from the OpenAPI document.
func (s *Source) ListTools() []mcp.Tool {
	return s.httptools.ListTools()
}

// CallTool executes a synthesized tool by name.
func (s *Source) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	return s.httptools.CallTool(ctx, toolName, arguments)
}

// sourceCtx carries the per-load resolver and its document id down through
// synthesis so schemas containing a $ref kin-openapi's own loader left
// unresolved can still be chased document-relative to where they appear.
type sourceCtx struct {
	docID    DocID
	resolver *Resolver
}

func synthesizeServerConfig(ctx context.Context, sc sourceCtx, sourceName string, doc *openapi3.T, config ServerConfig) (httptools.ServerConfig, error) {
	baseURL := config.BaseURLOverride
	if baseURL == "" && len(doc.Servers) > 0 {
		baseURL = doc.Servers[0].URL
	}
	if baseURL == "" {
		return httptools.ServerConfig{}, fmt.Errorf("openapitools: no base URL for source %q (set baseUrl override or a servers[] entry in the spec)", sourceName)
	}

	tools := map[string]httptools.ToolConfig{}
	if doc.Paths != nil {
		for _, p := range sortedPaths(doc.Paths.Map()) {
			item := doc.Paths.Map()[p]
			for _, method := range sortedMethods(item.Operations()) {
				op := item.Operations()[method]
				key := method + " " + p
				override, hasOverride := config.Endpoints[key]

				if !hasOverride && !matchesAutoDiscover(key, config.AutoDiscover) {
					continue
				}

				toolName := synthesizeToolName(method, p, op, override)
				if _, dup := tools[toolName]; dup {
					return httptools.ServerConfig{}, fmt.Errorf("openapitools: duplicate synthesized tool name %q (from %s) in source %q", toolName, key, sourceName)
				}

				toolCfg, err := synthesizeToolConfig(ctx, sc, method, p, op, override)
				if err != nil {
					return httptools.ServerConfig{}, fmt.Errorf("openapitools: %s %s: %w", method, p, err)
				}
				tools[toolName] = toolCfg
			}
		}
	}

	return httptools.ServerConfig{
		BaseURL:            baseURL,
		Auth:               config.Auth,
		Defaults:           config.Defaults,
		ResponseTransforms: config.ResponseTransforms,
		Tools:              tools,
	}, nil
}

func sortedPaths(m map[string]*openapi3.PathItem) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func sortedMethods(m map[string]*openapi3.Operation) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func matchesAutoDiscover(key string, ad AutoDiscover) bool {
	if !ad.Enabled {
		return false
	}
	if len(ad.Exclude) > 0 && matchesAnyGlob(key, ad.Exclude) {
		return false
	}
	if len(ad.Include) == 0 {
		return true
	}
	return matchesAnyGlob(key, ad.Include)
}

func matchesAnyGlob(key string, patterns []string) bool {
	for _, p := range patterns {
		if ok, err := path.Match(p, key); err == nil && ok {
			return true
		}
	}
	return false
}

// synthesizeToolName applies the precedence: explicit override name >
// operationId > a canonical "method_path" derived name.
func synthesizeToolName(method, p string, op *openapi3.Operation, override EndpointOverride) string {
	if override.Tool != "" {
		return override.Tool
	}
	if op != nil && op.OperationID != "" {
		return op.OperationID
	}
	return canonicalMethodPathName(method, p)
}

func canonicalMethodPathName(method, p string) string {
	cleaned := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, p)
	for strings.Contains(cleaned, "__") {
		cleaned = strings.ReplaceAll(cleaned, "__", "_")
	}
	cleaned = strings.Trim(cleaned, "_")
	return strings.ToLower(method) + "_" + cleaned
}

func synthesizeToolConfig(ctx context.Context, sc sourceCtx, method, p string, op *openapi3.Operation, override EndpointOverride) (httptools.ToolConfig, error) {
	description := op.Description
	if description == "" {
		description = op.Summary
	}
	if override.Description != "" {
		description = override.Description
	}

	params := map[string]httptools.ParamConfig{}
	if op != nil {
		for _, ref := range op.Parameters {
			if ref.Value == nil {
				continue
			}
			param := ref.Value
			argName := param.Name
			var po ParamOverride
			if override.Params != nil {
				po = override.Params[param.Name]
			}
			name := argName
			if po.Rename != "" {
				name = po.Rename
			}

			location, err := mapParamLocation(param.In)
			if err != nil {
				return httptools.ToolConfig{}, err
			}

			required := param.Required
			if po.Required != nil {
				required = *po.Required
			}

			schema := schemaToMap(ctx, sc, param.Schema)

			var style *httptools.QueryStyle
			if location == httptools.Query {
				s := mapQueryStyle(param.Style)
				style = &s
			}
			var explode *bool
			if param.Explode != nil {
				explode = param.Explode
			}

			var def json.RawMessage
			if po.HasDefault {
				if b, err := json.Marshal(po.Default); err == nil {
					def = b
				}
			}

			params[name] = httptools.ParamConfig{
				Location:        location,
				Name:            argName,
				Required:        &required,
				Default:         def,
				Schema:          schema,
				Style:           style,
				Explode:         explode,
				AllowReserved:   param.AllowReserved,
				AllowEmptyValue: param.AllowEmptyValue,
			}
		}
	}

	responseMode := httptools.JSON
	var outputSchema map[string]any
	if op != nil && op.Responses != nil {
		if resp := op.Responses.Value("200"); resp != nil && resp.Value != nil {
			if mt := mediaTypeJSON(resp.Value.Content); mt != nil && mt.Schema != nil {
				outputSchema = schemaToMap(ctx, sc, mt.Schema)
			}
		}
	}

	return httptools.ToolConfig{
		Method:      strings.ToUpper(method),
		Path:        p,
		Description: description,
		Params:      params,
		Response: httptools.ResponseConfig{
			Mode:         responseMode,
			OutputSchema: outputSchema,
		},
	}, nil
}

func mediaTypeJSON(content openapi3.Content) *openapi3.MediaType {
	if mt, ok := content["application/json"]; ok {
		return mt
	}
	for _, mt := range content {
		return mt
	}
	return nil
}

func mapParamLocation(in string) (httptools.ParamLocation, error) {
	switch in {
	case "path":
		return httptools.Path, nil
	case "query":
		return httptools.Query, nil
	case "header":
		return httptools.Header, nil
	default:
		return 0, fmt.Errorf("unsupported parameter location %q", in)
	}
}

func mapQueryStyle(style string) httptools.QueryStyle {
	switch style {
	case "spaceDelimited":
		return httptools.StyleSpaceDelimited
	case "pipeDelimited":
		return httptools.StylePipeDelimited
	case "deepObject":
		return httptools.StyleDeepObject
	default:
		return httptools.StyleForm
	}
}

// schemaToMap flattens a resolved OpenAPI schema into a plain JSON-schema
// map. kin-openapi resolves same-document $refs eagerly but leaves external
// ones (file- or URL-relative) as a bare Ref string with a nil Value; those
// are chased document-relative to sc.docID through the resolver instead.
func schemaToMap(ctx context.Context, sc sourceCtx, ref *openapi3.SchemaRef) map[string]any {
	if ref == nil {
		return map[string]any{"type": "string"}
	}
	if ref.Value != nil {
		return marshalSchemaValue(ref.Value)
	}
	if ref.Ref == "" || sc.resolver == nil {
		return map[string]any{"type": "string"}
	}

	_, resolved, err := sc.resolver.Resolve(ctx, sc.docID, map[string]any{"$ref": ref.Ref})
	if err != nil {
		return map[string]any{"type": "string"}
	}
	m, ok := resolved.(map[string]any)
	if !ok {
		return map[string]any{"type": "string"}
	}
	return m
}

func marshalSchemaValue(v *openapi3.Schema) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return map[string]any{"type": "string"}
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return map[string]any{"type": "string"}
	}
	return m
}
