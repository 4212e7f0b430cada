package openapitools

import (
	"github.com/kagenti/mcp-gateway/internal/httptools"
)

// HashPolicy controls what happens when a live spec's hash no longer
// matches the one recorded at configuration time.
type HashPolicy int

const (
	HashWarn HashPolicy = iota
	HashFail
	HashIgnore
)

// AutoDiscover controls which operations are turned into tools beyond any
// explicit EndpointOverride entries.
type AutoDiscover struct {
	Enabled bool
	Include []string // glob patterns over "METHOD /path"
	Exclude []string
}

// ParamOverride customizes one parameter of a discovered operation.
type ParamOverride struct {
	Rename      string
	Description string
	Default     any
	HasDefault  bool
	Required    *bool
}

// EndpointOverride customizes (or names) the tool synthesized for one
// operation, keyed by "METHOD /path" in ServerConfig.Endpoints.
type EndpointOverride struct {
	Tool        string
	Description string
	Params      map[string]ParamOverride // keyed by OpenAPI parameter name
}

// ServerConfig configures an OpenAPI-backed tool source.
type ServerConfig struct {
	Spec             string
	SpecHash         string
	SpecHashPolicy   HashPolicy
	BaseURLOverride  string
	Auth             *httptools.AuthConfig
	AutoDiscover     AutoDiscover
	Endpoints        map[string]EndpointOverride // "METHOD /path" -> override
	Defaults         httptools.EndpointDefaults
	ResponseTransforms []httptools.StepConfig
}
