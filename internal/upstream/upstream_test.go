package upstream

import (
	"context"
	"testing"

	"github.com/kagenti/mcp-gateway/internal/httptools"
)

func TestBuildHeadersOmitsHopWhenZero(t *testing.T) {
	headers := BuildHeaders(nil, 0)
	if _, ok := headers[HopHeader]; ok {
		t.Fatalf("headers = %+v, want no hop header for hop=0", headers)
	}
}

func TestBuildHeadersSetsHopCounter(t *testing.T) {
	headers := BuildHeaders(nil, 3)
	if headers[HopHeader] != "3" {
		t.Fatalf("headers[%s] = %q, want 3", HopHeader, headers[HopHeader])
	}
}

func TestBuildHeadersBearerAuth(t *testing.T) {
	headers := BuildHeaders(&httptools.AuthConfig{Kind: httptools.AuthBearer, Token: "abc123"}, 1)
	if headers["Authorization"] != "Bearer abc123" {
		t.Fatalf("Authorization = %q, want Bearer abc123", headers["Authorization"])
	}
}

func TestBuildHeadersHeaderAuth(t *testing.T) {
	headers := BuildHeaders(&httptools.AuthConfig{Kind: httptools.AuthHeader, Header: "X-Api-Key", Value: "secret"}, 0)
	if headers["X-Api-Key"] != "secret" {
		t.Fatalf("X-Api-Key = %q, want secret", headers["X-Api-Key"])
	}
}

func TestBuildHeadersBasicAuth(t *testing.T) {
	headers := BuildHeaders(&httptools.AuthConfig{Kind: httptools.AuthBasic, Username: "u", Password: "p"}, 0)
	if headers["Authorization"] != "Basic dTpw" {
		t.Fatalf("Authorization = %q, want Basic dTpw", headers["Authorization"])
	}
}

func TestBuildHeadersQueryAuthLeavesHeadersUntouched(t *testing.T) {
	headers := BuildHeaders(&httptools.AuthConfig{Kind: httptools.AuthQuery, Name: "api_key", Value: "secret"}, 0)
	if _, ok := headers["Authorization"]; ok {
		t.Fatalf("headers = %+v, want no Authorization header for query auth", headers)
	}
}

func TestApplyQueryAuthAddsPairForQueryVariant(t *testing.T) {
	got, err := ApplyQueryAuth("https://example.com/mcp", &httptools.AuthConfig{Kind: httptools.AuthQuery, Name: "api_key", Value: "secret"})
	if err != nil {
		t.Fatalf("ApplyQueryAuth: %v", err)
	}
	if got != "https://example.com/mcp?api_key=secret" {
		t.Fatalf("ApplyQueryAuth() = %q", got)
	}
}

func TestApplyQueryAuthLeavesOtherVariantsUnchanged(t *testing.T) {
	got, err := ApplyQueryAuth("https://example.com/mcp", &httptools.AuthConfig{Kind: httptools.AuthBearer, Token: "x"})
	if err != nil {
		t.Fatalf("ApplyQueryAuth: %v", err)
	}
	if got != "https://example.com/mcp" {
		t.Fatalf("ApplyQueryAuth() = %q, want unchanged URL", got)
	}
}

func TestApplyQueryAuthNilAuthIsNoop(t *testing.T) {
	got, err := ApplyQueryAuth("https://example.com/mcp", nil)
	if err != nil {
		t.Fatalf("ApplyQueryAuth: %v", err)
	}
	if got != "https://example.com/mcp" {
		t.Fatalf("ApplyQueryAuth() = %q, want unchanged URL", got)
	}
}

func TestConnectRejectsAtMaxHops(t *testing.T) {
	_, err := Connect(context.Background(), Endpoint{ID: "e1", URL: "https://example.com/mcp"}, MaxHops)
	if err == nil {
		t.Fatalf("Connect() at MaxHops = nil error, want loop rejection")
	}
}
