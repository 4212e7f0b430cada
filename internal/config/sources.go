package config

import (
	"github.com/kagenti/mcp-gateway/internal/httptools"
	"github.com/kagenti/mcp-gateway/internal/openapitools"
	"github.com/kagenti/mcp-gateway/internal/transform"
)

// ToOverride converts a config-layer ToolPolicyTransform into the
// transform.ToolOverride shape internal/transform operates on.
func (t ToolPolicyTransform) ToOverride() transform.ToolOverride {
	return transform.ToolOverride{
		Rename:       t.Rename,
		Description:  t.Description,
		ParamRenames: t.ParamRenames,
		Defaults:     t.Defaults,
	}
}

// Pipeline builds a transform.Pipeline from this profile's per-tool
// transform overrides.
func (p *Profile) Pipeline() *transform.Pipeline {
	pipeline := transform.NewPipeline()
	for original, t := range p.Transforms {
		pipeline.ToolOverrides[original] = t.ToOverride()
	}
	return pipeline
}

// SourceDefinition is one SharedLocal tool source's id plus its
// declarative (HTTP or OpenAPI) configuration, as listed in a config
// file's "httpSources"/"openapiSources" sections.
type SourceDefinition struct {
	ID       string
	HTTP     *httptools.ServerConfig
	OpenAPI  *openapitools.ServerConfig
}
