package httptools

import "github.com/mark3labs/mcp-go/mcp"

// annotationsForMethod infers MCP tool annotations from the HTTP method
// per RFC 9110 semantics: GET/HEAD/OPTIONS are safe and idempotent, PUT and
// DELETE are idempotent but destructive, POST is neither, and PATCH's
// idempotence is left unspecified.
func annotationsForMethod(method string) mcp.ToolAnnotation {
	openWorld := true
	switch method {
	case "GET", "HEAD", "OPTIONS":
		readOnly := true
		idempotent := true
		return mcp.ToolAnnotation{
			ReadOnlyHint:    &readOnly,
			IdempotentHint:  &idempotent,
			OpenWorldHint:   &openWorld,
		}
	case "POST":
		idempotent := false
		return mcp.ToolAnnotation{
			IdempotentHint: &idempotent,
			OpenWorldHint:  &openWorld,
		}
	case "PUT", "DELETE":
		idempotent := true
		destructive := true
		return mcp.ToolAnnotation{
			IdempotentHint:   &idempotent,
			DestructiveHint:  &destructive,
			OpenWorldHint:    &openWorld,
		}
	case "PATCH":
		destructive := true
		return mcp.ToolAnnotation{
			DestructiveHint: &destructive,
			OpenWorldHint:   &openWorld,
		}
	default:
		return mcp.ToolAnnotation{OpenWorldHint: &openWorld}
	}
}
