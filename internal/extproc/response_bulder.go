package extproc

import (
	"fmt"

	basepb "github.com/envoyproxy/go-control-plane/envoy/config/core/v3"
	eppb "github.com/envoyproxy/go-control-plane/envoy/service/ext_proc/v3"
	typepb "github.com/envoyproxy/go-control-plane/envoy/type/v3"
)

// ResponseBuilder builds Envoy ext_proc responses.
type ResponseBuilder struct {
	response []*eppb.ProcessingResponse
}

// NewResponse creates a new response builder.
func NewResponse() *ResponseBuilder {
	return &ResponseBuilder{response: []*eppb.ProcessingResponse{}}
}

// Build returns the accumulated processing responses.
func (rb *ResponseBuilder) Build() []*eppb.ProcessingResponse {
	return rb.response
}

// WithRequestHeadersReponse adds a request-headers response that mutates
// headers and clears the route cache so the mutation affects routing.
func (rb *ResponseBuilder) WithRequestHeadersReponse(headers []*basepb.HeaderValueOption) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_RequestHeaders{
			RequestHeaders: &eppb.HeadersResponse{
				Response: &eppb.CommonResponse{
					ClearRouteCache: true,
					HeaderMutation:  &eppb.HeaderMutation{SetHeaders: headers},
				},
			},
		},
	})
	return rb
}

// WithRequestBodyHeadersAndBodyReponse adds a request-body response with
// both header and body mutations, clearing the route cache.
func (rb *ResponseBuilder) WithRequestBodyHeadersAndBodyReponse(headers []*basepb.HeaderValueOption, body []byte) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_RequestBody{
			RequestBody: &eppb.BodyResponse{
				Response: &eppb.CommonResponse{
					ClearRouteCache: true,
					HeaderMutation:  &eppb.HeaderMutation{SetHeaders: headers},
					BodyMutation:    &eppb.BodyMutation{Mutation: &eppb.BodyMutation_Body{Body: body}},
				},
			},
		},
	})
	return rb
}

// WithRequestBodyHeadersResponse adds a request-body response with only a
// header mutation, clearing the route cache.
func (rb *ResponseBuilder) WithRequestBodyHeadersResponse(headers []*basepb.HeaderValueOption) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_RequestBody{
			RequestBody: &eppb.BodyResponse{
				Response: &eppb.CommonResponse{
					ClearRouteCache: true,
					HeaderMutation:  &eppb.HeaderMutation{SetHeaders: headers},
				},
			},
		},
	})
	return rb
}

// withRequestBodySetUnsetHeadersResponse is WithRequestBodyHeadersResponse
// plus a header removal list, used to strip routing-only headers (the
// remote-initialize key) before the backend ever sees them.
func (rb *ResponseBuilder) withRequestBodySetUnsetHeadersResponse(headers []*basepb.HeaderValueOption, remove []string) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_RequestBody{
			RequestBody: &eppb.BodyResponse{
				Response: &eppb.CommonResponse{
					ClearRouteCache: true,
					HeaderMutation: &eppb.HeaderMutation{
						SetHeaders:    headers,
						RemoveHeaders: remove,
					},
				},
			},
		},
	})
	return rb
}

// WithImmediateResponse adds an immediate error response that terminates
// request processing.
func (rb *ResponseBuilder) WithImmediateResponse(statusCode int32, message string) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &eppb.ImmediateResponse{
				Status:  &typepb.HttpStatus{Code: typepb.StatusCode(statusCode)},
				Body:    []byte(message),
				Details: fmt.Sprintf("ext-proc error: %s", message),
			},
		},
	})
	return rb
}

// WithImmediateJSONRPCResponse terminates processing with a JSON-RPC error
// body but an HTTP-success status code, per the MCP spec's guidance that
// protocol-level tool errors ride inside a 200 response.
func (rb *ResponseBuilder) WithImmediateJSONRPCResponse(statusCode int32, headers []*basepb.HeaderValueOption, body string) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_ImmediateResponse{
			ImmediateResponse: &eppb.ImmediateResponse{
				Status:  &typepb.HttpStatus{Code: typepb.StatusCode(statusCode)},
				Headers: &eppb.HeaderMutation{SetHeaders: headers},
				Body:    []byte(body),
			},
		},
	})
	return rb
}

// withStreamedBody appends a streamed request-body chunk, used after
// WithRequestHeadersReponse when the upstream call is a streaming request.
func (rb *ResponseBuilder) withStreamedBody(body []byte) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_RequestBody{
			RequestBody: &eppb.BodyResponse{
				Response: &eppb.CommonResponse{
					BodyMutation: &eppb.BodyMutation{
						Mutation: &eppb.BodyMutation_StreamedResponse{
							StreamedResponse: &eppb.StreamedBodyResponse{Body: body, EndOfStream: true},
						},
					},
				},
			},
		},
	})
	return rb
}

// WithDoNothingResponse adds an empty response that lets the request
// continue unmodified.
func (rb *ResponseBuilder) WithDoNothingResponse(isStreaming bool) *ResponseBuilder {
	if isStreaming {
		rb.response = append(rb.response, &eppb.ProcessingResponse{
			Response: &eppb.ProcessingResponse_RequestHeaders{RequestHeaders: &eppb.HeadersResponse{}},
		})
		return rb
	}
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_RequestBody{RequestBody: &eppb.BodyResponse{}},
	})
	return rb
}

// WithResponseHeaderResponse adds a response-headers mutation.
func (rb *ResponseBuilder) WithResponseHeaderResponse(headers []*basepb.HeaderValueOption) *ResponseBuilder {
	rb.response = append(rb.response, &eppb.ProcessingResponse{
		Response: &eppb.ProcessingResponse_ResponseHeaders{
			ResponseHeaders: &eppb.HeadersResponse{
				Response: &eppb.CommonResponse{HeaderMutation: &eppb.HeaderMutation{SetHeaders: headers}},
			},
		},
	})
	return rb
}
