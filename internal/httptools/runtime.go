// Package httptools implements the declarative HTTP tool source: a static
// per-tool {method, path template, parameters, response shaping} config is
// compiled once into callable MCP tools that build and execute outbound
// HTTP requests, running every request through internal/safety before it
// leaves the process.
package httptools

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kagenti/mcp-gateway/internal/safety"
	"github.com/kagenti/mcp-gateway/internal/transform"
	"github.com/mark3labs/mcp-go/mcp"
)

type generatedTool struct {
	name             string
	description      string
	method           string
	path             string
	parameters       []toolParameter
	inputSchema      map[string]any
	responseMode     ResponseMode
	outputSchema     map[string]any
	responsePipeline *transform.CompiledPipeline
}

type toolParameter struct {
	argName  string
	httpName string
	location ParamLocation
	required bool
	hasDef   bool
	def      any
	schema   map[string]any
	query    *ParamConfig
}

// Source is an immutable, concurrency-safe compiled HTTP tool source.
type Source struct {
	name    string
	config  ServerConfig
	tools   []generatedTool
	client  *http.Client
	timeout time.Duration
	policy  safety.Policy
}

// New compiles config into a Source using safety.Permissive(), suitable
// for the Adapter's standalone, operator-trusted deployment mode.
func New(name string, config ServerConfig, defaultTimeout time.Duration) (*Source, error) {
	return NewWithPolicy(name, config, defaultTimeout, safety.Permissive())
}

// NewWithPolicy compiles config into a Source enforcing the given outbound
// safety policy, used by the Gateway's multi-tenant deployment mode.
func NewWithPolicy(name string, config ServerConfig, defaultTimeout time.Duration, policy safety.Policy) (*Source, error) {
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("httptools: invalid baseUrl %q for source %q: %w", config.BaseURL, name, err)
	}

	tools, err := generateTools(name, config)
	if err != nil {
		return nil, err
	}

	client := &http.Client{}
	switch policy.Redirects {
	case safety.NoRedirects:
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		}
	case safety.CheckedRedirects:
		client.CheckRedirect = func(req *http.Request, via []*http.Request) error {
			if err := policy.CheckURL(req.Context(), req.URL); err != nil {
				return fmt.Errorf("redirect blocked: %w", err)
			}
			return nil
		}
	}

	return &Source{
		name:    name,
		config:  config,
		tools:   tools,
		client:  client,
		timeout: defaultTimeout,
		policy:  policy,
	}, nil
}

// ListTools returns the MCP tools exposed by this source.
func (s *Source) ListTools() []mcp.Tool {
	out := make([]mcp.Tool, 0, len(s.tools))
	for _, t := range s.tools {
		annotations := annotationsForMethod(t.method)
		tool := mcp.Tool{
			Name:        t.name,
			Description: t.description,
			Annotations: annotations,
		}
		if b, err := json.Marshal(t.inputSchema); err == nil {
			_ = json.Unmarshal(b, &tool.InputSchema)
		}
		if t.outputSchema != nil {
			if b, err := json.Marshal(t.outputSchema); err == nil {
				var schema mcp.ToolInputSchema
				if err := json.Unmarshal(b, &schema); err == nil {
					tool.OutputSchema = &schema
				}
			}
		}
		out = append(out, tool)
	}
	return out
}

// CallTool executes toolName against arguments and returns the shaped
// result.
func (s *Source) CallTool(ctx context.Context, toolName string, arguments map[string]any) (*mcp.CallToolResult, error) {
	var tool *generatedTool
	for i := range s.tools {
		if s.tools[i].name == toolName {
			tool = &s.tools[i]
			break
		}
	}
	if tool == nil {
		return nil, fmt.Errorf("httptools: tool not found: %s", toolName)
	}

	resp, err := s.executeRequest(ctx, tool, arguments)
	if err != nil {
		return nil, err
	}

	if resp.isImage {
		data := base64.StdEncoding.EncodeToString(resp.bytes)
		return &mcp.CallToolResult{
			Content: []mcp.Content{mcp.NewImageContent(data, resp.mimeType)},
		}, nil
	}

	body := tool.responsePipeline.ApplyToValue(resp.value)

	if tool.outputSchema != nil {
		structured := map[string]any{"body": body}
		text, err := json.Marshal(structured)
		if err != nil {
			return nil, fmt.Errorf("httptools: marshal structured content: %w", err)
		}
		return &mcp.CallToolResult{
			Content:           []mcp.Content{mcp.NewTextContent(string(text))},
			StructuredContent: structured,
		}, nil
	}

	var text string
	if s, ok := body.(string); ok {
		text = s
	} else {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("httptools: marshal response body: %w", err)
		}
		text = string(b)
	}
	return &mcp.CallToolResult{Content: []mcp.Content{mcp.NewTextContent(text)}}, nil
}

func generateTools(sourceName string, config ServerConfig) ([]generatedTool, error) {
	names := make([]string, 0, len(config.Tools))
	for name := range config.Tools {
		names = append(names, name)
	}
	sort.Strings(names)

	out := make([]generatedTool, 0, len(names))
	for _, name := range names {
		cfg := config.Tools[name]
		method := strings.ToUpper(strings.TrimSpace(cfg.Method))
		if method == "" {
			return nil, fmt.Errorf("httptools: empty method for tool %q in source %q", name, sourceName)
		}

		pipeline, err := transform.CompilePipeline(compileStepConfigs(transform.ApplyChain(
			compileStepConfigs(config.ResponseTransforms), resolveChainMode(cfg.Response.Transforms),
			chainSteps(cfg.Response.Transforms))))
		if err != nil {
			return nil, fmt.Errorf("httptools: invalid response transforms for tool %q in source %q: %w", name, sourceName, err)
		}

		outputSchema, err := buildWrappedOutputSchema(sourceName, name, cfg.Response, pipeline)
		if err != nil {
			return nil, err
		}

		params, err := collectToolParameters(sourceName, name, cfg)
		if err != nil {
			return nil, err
		}

		out = append(out, generatedTool{
			name:             name,
			description:      cfg.Description,
			method:           method,
			path:             cfg.Path,
			parameters:       params,
			inputSchema:      buildInputSchema(params),
			responseMode:     cfg.Response.Mode,
			outputSchema:     outputSchema,
			responsePipeline: pipeline,
		})
	}
	return out, nil
}

// compileStepConfigs and chainSteps exist to bridge the config-layer
// StepConfig type with transform.ResponseStep without leaking
// transform.ResponseStep into config.go.
func compileStepConfigs(steps []StepConfig) []transform.ResponseStep {
	out := make([]transform.ResponseStep, 0, len(steps))
	for _, s := range steps {
		step := transform.ResponseStep{
			Pointers:    s.Pointers,
			Keys:        s.Keys,
			Replacement: s.Replacement,
			MaxChars:    s.MaxChars,
			MaxItems:    s.MaxItems,
		}
		switch s.Kind {
		case "dropNulls":
			step.Kind = transform.DropNulls
		case "pickPointers":
			step.Kind = transform.PickPointers
		case "redactKeys":
			step.Kind = transform.RedactKeys
		case "truncateStrings":
			step.Kind = transform.TruncateStrings
		case "limitArrays":
			step.Kind = transform.LimitArrays
		}
		out = append(out, step)
	}
	return out
}

func chainSteps(chain *ChainConfig) []transform.ResponseStep {
	if chain == nil {
		return nil
	}
	return compileStepConfigs(chain.Steps)
}

func resolveChainMode(chain *ChainConfig) transform.ChainMode {
	if chain != nil && chain.Mode == ChainReplace {
		return transform.Replace
	}
	return transform.Append
}

func buildWrappedOutputSchema(sourceName, toolName string, cfg ResponseConfig, pipeline *transform.CompiledPipeline) (map[string]any, error) {
	if cfg.OutputSchema == nil {
		return nil, nil
	}
	bodySchema := deepCopyJSON(cfg.OutputSchema)
	warnings := pipeline.ApplyToSchema(bodySchema)
	for _, w := range warnings {
		slog.Warn("response schema transform warning", "source", sourceName, "tool", toolName, "warning", w)
	}
	return map[string]any{
		"type":     "object",
		"required": []any{"body"},
		"properties": map[string]any{
			"body": bodySchema,
		},
	}, nil
}

func deepCopyJSON(v map[string]any) map[string]any {
	b, err := json.Marshal(v)
	if err != nil {
		return v
	}
	var out map[string]any
	if err := json.Unmarshal(b, &out); err != nil {
		return v
	}
	return out
}

func collectToolParameters(sourceName, toolName string, cfg ToolConfig) ([]toolParameter, error) {
	names := make([]string, 0, len(cfg.Params))
	for name := range cfg.Params {
		names = append(names, name)
	}
	sort.Strings(names)

	params := make([]toolParameter, 0, len(names))
	for _, argName := range names {
		p := cfg.Params[argName]
		httpName := p.Name
		if httpName == "" {
			httpName = argName
		}

		requiredDefault := p.Location == Path
		required := requiredDefault
		if p.Required != nil {
			required = *p.Required
		}

		schema := p.Schema
		if schema == nil {
			schema = map[string]any{"type": "string"}
		}

		var query *ParamConfig
		if p.Location == Query {
			qc := p
			query = &qc
		}

		var def any
		hasDef := len(p.Default) > 0
		if hasDef {
			if err := json.Unmarshal(p.Default, &def); err != nil {
				return nil, fmt.Errorf("httptools: invalid default for param %q in tool %q (source %q): %w", argName, toolName, sourceName, err)
			}
		}

		params = append(params, toolParameter{
			argName:  argName,
			httpName: httpName,
			location: p.Location,
			required: required,
			hasDef:   hasDef,
			def:      def,
			schema:   schema,
			query:    query,
		})
	}
	return params, nil
}

func buildInputSchema(params []toolParameter) map[string]any {
	properties := map[string]any{}
	var required []any
	for _, p := range params {
		propSchema := deepCopyJSON(p.schema)
		if p.hasDef {
			propSchema["default"] = p.def
		}
		properties[p.argName] = propSchema
		if p.required && !p.hasDef {
			required = append(required, p.argName)
		}
	}
	schema := map[string]any{"type": "object", "properties": properties}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

type requestParts struct {
	path        string
	queryParams []queryPair
	headers     map[string]string
	bodyFields  map[string]any
	bodyPayload any
	hasPayload  bool
}

type toolResponse struct {
	value    any
	isImage  bool
	bytes    []byte
	mimeType string
}

func (s *Source) executeRequest(ctx context.Context, tool *generatedTool, arguments map[string]any) (*toolResponse, error) {
	parts, err := buildRequestParts(tool, arguments)
	if err != nil {
		return nil, err
	}
	applyQueryAuth(s.config.Auth, &parts.queryParams)

	u, err := buildURL(s.config.BaseURL, parts.path, parts.queryParams)
	if err != nil {
		return nil, err
	}

	if err := s.policy.CheckURL(ctx, u); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	var contentType string
	if parts.hasPayload {
		b, err := json.Marshal(parts.bodyPayload)
		if err != nil {
			return nil, fmt.Errorf("httptools: marshal request body: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	} else if len(parts.bodyFields) > 0 {
		b, err := json.Marshal(parts.bodyFields)
		if err != nil {
			return nil, fmt.Errorf("httptools: marshal request body fields: %w", err)
		}
		bodyReader = bytes.NewReader(b)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, tool.method, u.String(), bodyReader)
	if err != nil {
		return nil, fmt.Errorf("httptools: build request: %w", err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range s.config.Defaults.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range parts.headers {
		req.Header.Set(k, v)
	}
	applyAuthHeader(s.config.Auth, req)

	reqCtx := ctx
	var cancel context.CancelFunc
	if s.timeout > 0 {
		reqCtx, cancel = context.WithTimeout(ctx, s.timeout)
		defer cancel()
		req = req.WithContext(reqCtx)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("httptools: request failed: %s", safety.SanitizeError(err, u))
	}
	defer resp.Body.Close()

	contentTypeHeader := resp.Header.Get("Content-Type")
	body, err := readLimited(resp.Body, resp.ContentLength, s.policy.MaxResponseBytes)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		if isImageContentType(contentTypeHeader) {
			return &toolResponse{isImage: true, bytes: body, mimeType: mimeTypeOrDefault(contentTypeHeader)}, nil
		}

		value := bytesToTextOrBase64JSON(body, contentTypeHeader)
		if tool.responseMode == JSON {
			if str, ok := value.(string); ok {
				var parsed any
				if err := json.Unmarshal([]byte(str), &parsed); err == nil {
					value = parsed
				}
			}
		}
		return &toolResponse{value: value}, nil
	}

	errBody := bytesToTextOrBase64JSON(body, contentTypeHeader)
	return nil, fmt.Errorf("httptools: API returned %d %s: %v", resp.StatusCode, http.StatusText(resp.StatusCode), errBody)
}

func readLimited(r io.Reader, contentLength int64, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return io.ReadAll(r)
	}
	if contentLength > maxBytes {
		return nil, fmt.Errorf("httptools: response too large: %d bytes (limit %d)", contentLength, maxBytes)
	}
	limited := io.LimitReader(r, maxBytes+1)
	body, err := io.ReadAll(limited)
	if err != nil {
		return nil, fmt.Errorf("httptools: read response body: %w", err)
	}
	if int64(len(body)) > maxBytes {
		return nil, fmt.Errorf("httptools: response too large: exceeded %d bytes", maxBytes)
	}
	return body, nil
}

func isImageContentType(contentType string) bool {
	if contentType == "" {
		return false
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return strings.HasPrefix(mediaType, "image/")
}

func mimeTypeOrDefault(contentType string) string {
	if contentType == "" {
		return "image/*"
	}
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		return mediaType
	}
	return contentType
}

func bytesToTextOrBase64JSON(body []byte, contentType string) any {
	if isValidUTF8(body) {
		return string(body)
	}
	return map[string]any{
		"encoding": "base64",
		"mimeType": contentType,
		"data":     base64.StdEncoding.EncodeToString(body),
	}
}

func isValidUTF8(b []byte) bool {
	return utf8.Valid(b)
}

func buildRequestParts(tool *generatedTool, arguments map[string]any) (*requestParts, error) {
	path := tool.path
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}

	parts := &requestParts{
		path:       path,
		headers:    map[string]string{},
		bodyFields: map[string]any{},
	}

	for _, p := range tool.parameters {
		value, present := arguments[p.argName]
		if !present && p.hasDef {
			value = p.def
			present = true
		}
		if !present && p.required {
			return nil, fmt.Errorf("httptools: missing required parameter: %s", p.argName)
		}
		if value == nil {
			continue
		}

		switch p.location {
		case Path:
			parts.path = strings.ReplaceAll(parts.path, "{"+p.httpName+"}", valueToString(value))
		case Query:
			pairs, err := serializeQueryParam(p.httpName, value, p.query)
			if err != nil {
				return nil, err
			}
			parts.queryParams = append(parts.queryParams, pairs...)
		case Header:
			parts.headers[p.httpName] = valueToString(value)
		case Body:
			parts.bodyFields[p.httpName] = value
		}
	}

	return parts, nil
}

func buildURL(baseURL, path string, queryParams []queryPair) (*url.URL, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("httptools: invalid base URL %q: %w", baseURL, err)
	}
	base.Path = strings.TrimSuffix(base.Path, "/") + path

	if len(queryParams) == 0 {
		return base, nil
	}

	var qs strings.Builder
	existing := base.RawQuery
	if existing != "" {
		qs.WriteString(existing)
	}
	for _, p := range queryParams {
		if qs.Len() > 0 {
			qs.WriteByte('&')
		}
		qs.WriteString(encodeQueryComponent(p.key, p.allowReserved))
		qs.WriteByte('=')
		qs.WriteString(encodeQueryComponent(p.value, p.allowReserved))
	}
	base.RawQuery = qs.String()
	return base, nil
}

func applyQueryAuth(auth *AuthConfig, params *[]queryPair) {
	if auth == nil || auth.Kind != AuthQuery {
		return
	}
	*params = append(*params, queryPair{key: auth.Name, value: auth.Value})
}

func applyAuthHeader(auth *AuthConfig, req *http.Request) {
	if auth == nil {
		return
	}
	switch auth.Kind {
	case AuthBearer:
		req.Header.Set("Authorization", "Bearer "+auth.Token)
	case AuthHeader:
		req.Header.Set(auth.Header, auth.Value)
	case AuthBasic:
		req.SetBasicAuth(auth.Username, auth.Password)
	case AuthQuery, AuthNone:
	}
}
