package httptools

import "encoding/json"

// ParamLocation selects where a declared parameter is placed on the wire.
type ParamLocation int

const (
	Path ParamLocation = iota
	Query
	Header
	Body
)

// ResponseMode selects how a successful response body is rendered before
// the shaping pipeline runs.
type ResponseMode int

const (
	// Text passes the response through as a (possibly base64-wrapped) string.
	Text ResponseMode = iota
	// JSON parses a string body as JSON before shaping.
	JSON
)

// QueryStyle mirrors the OpenAPI 3 query-parameter serialization styles
// this DSL supports.
type QueryStyle int

const (
	StyleForm QueryStyle = iota
	StyleSpaceDelimited
	StylePipeDelimited
	StyleDeepObject
)

// AuthKind selects how the configured auth is applied to outbound requests.
type AuthKind int

const (
	AuthNone AuthKind = iota
	AuthBearer
	AuthHeader
	AuthBasic
	AuthQuery
)

// AuthConfig describes how the tool source authenticates to its backend.
// Token/Value/Password are resolved through pkg/credentials rather than
// stored inline, so the zero value here means "not yet resolved".
type AuthConfig struct {
	Kind     AuthKind
	Token    string // Bearer
	Header   string // Header: header name
	Value    string // Header: header value: Query: query value
	Username string // Basic
	Password string // Basic
	Name     string // Query: query param name
}

// ParamConfig declares one tool parameter's wire placement and
// serialization.
type ParamConfig struct {
	Location        ParamLocation
	Name            string // wire name; defaults to the argument name
	Required        *bool
	Default         json.RawMessage
	Schema          map[string]any
	Style           *QueryStyle
	Explode         *bool
	AllowReserved   bool
	AllowEmptyValue bool
}

// ResponseConfig configures how a tool's response is interpreted, shaped,
// and optionally wrapped into a structured-content output schema.
type ResponseConfig struct {
	Mode         ResponseMode
	OutputSchema map[string]any
	Transforms   *ChainConfig
}

// ChainConfig is a tool-level response-transform chain override, composed
// against the source-level base pipeline per Mode.
type ChainConfig struct {
	Mode  ChainMode
	Steps []StepConfig
}

// ChainMode selects how a tool chain composes with the source base chain.
type ChainMode int

const (
	ChainAppend ChainMode = iota
	ChainReplace
)

// StepConfig is the wire/config form of one response-shaping step.
type StepConfig struct {
	Kind        string // "dropNulls" | "pickPointers" | "redactKeys" | "truncateStrings" | "limitArrays"
	Pointers    []string
	Keys        []string
	Replacement string
	MaxChars    int
	MaxItems    int
}

// ToolConfig declares one HTTP tool: its method, path template, parameters
// and response handling.
type ToolConfig struct {
	Method      string
	Path        string
	Description string
	Params      map[string]ParamConfig // argument name -> config
	Response    ResponseConfig
}

// EndpointDefaults are applied to every request made by a source before
// per-call headers/query/body are layered on top.
type EndpointDefaults struct {
	Headers map[string]string
	Query   map[string]string
}

// ServerConfig is a full declarative HTTP tool source: a base URL, shared
// auth/defaults/response-transform base, and the tool catalog.
type ServerConfig struct {
	BaseURL            string
	Auth               *AuthConfig
	Defaults           EndpointDefaults
	ResponseTransforms []StepConfig
	Tools              map[string]ToolConfig
}
