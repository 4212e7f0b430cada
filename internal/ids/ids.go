// Package ids implements the proxied request-id codec and the
// resource-collision URN scheme used to demultiplex upstream responses and
// to keep cross-source resource URIs well-formed after collision handling.
package ids

import (
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// ProxiedRequestIDPrefix is the opaque proxied request-id prefix.
	ProxiedRequestIDPrefix = "unrelated.proxy"
	// ProxiedRequestIDPrefixReadable is the readable proxied request-id
	// prefix. It is a strict extension of ProxiedRequestIDPrefix, so any
	// parser MUST test it first.
	ProxiedRequestIDPrefixReadable = "unrelated.proxy.r"
	// ResourceURNNamespace is the namespace segment embedded in collision
	// URNs for resources.
	ResourceURNNamespace = "mcp-gateway"
)

// Namespacing selects how a proxied request id is rendered on the wire.
type Namespacing int

const (
	// Opaque encodes both the upstream id and the original id as
	// base64url, yielding an id with no human-readable content.
	Opaque Namespacing = iota
	// Readable embeds the upstream id verbatim for operator debugging,
	// base64url-encoding only the original request id.
	Readable
)

var b64 = base64.URLEncoding.WithPadding(base64.NoPadding)

// MakeProxiedRequestID wraps an upstream id and the client's original
// JSON-RPC request id into a single string id the proxy can demultiplex
// when the upstream's response arrives.
func MakeProxiedRequestID(ns Namespacing, upstreamID string, original any) (string, error) {
	originalJSON, err := json.Marshal(original)
	if err != nil {
		return "", fmt.Errorf("ids: marshal original request id: %w", err)
	}
	originalB64 := b64.EncodeToString(originalJSON)

	switch ns {
	case Readable:
		return fmt.Sprintf("%s.%s.%s", ProxiedRequestIDPrefixReadable, upstreamID, originalB64), nil
	default:
		upstreamB64 := b64.EncodeToString([]byte(upstreamID))
		return fmt.Sprintf("%s.%s.%s", ProxiedRequestIDPrefix, upstreamB64, originalB64), nil
	}
}

// ParseProxiedRequestID recovers the upstream id and original JSON-RPC id
// from a proxied request id previously produced by MakeProxiedRequestID.
// The readable prefix is checked before the opaque one, since the opaque
// prefix is a strict prefix of the readable one.
func ParseProxiedRequestID(id string) (upstreamID string, original json.RawMessage, ok bool) {
	var originalB64 string

	if rest, found := strings.CutPrefix(id, ProxiedRequestIDPrefixReadable+"."); found {
		idx := strings.LastIndex(rest, ".")
		if idx < 0 {
			return "", nil, false
		}
		upstreamID, originalB64 = rest[:idx], rest[idx+1:]
	} else if rest, found := strings.CutPrefix(id, ProxiedRequestIDPrefix+"."); found {
		idx := strings.Index(rest, ".")
		if idx < 0 {
			return "", nil, false
		}
		upstreamB64 := rest[:idx]
		originalB64 = rest[idx+1:]
		decoded, err := b64.DecodeString(upstreamB64)
		if err != nil {
			return "", nil, false
		}
		upstreamID = string(decoded)
	} else {
		return "", nil, false
	}

	if upstreamID == "" {
		return "", nil, false
	}

	raw, err := b64.DecodeString(originalB64)
	if err != nil {
		return "", nil, false
	}
	return upstreamID, json.RawMessage(raw), true
}

// ResourceCollisionURN builds the stable URN used to rewrite a resource's
// exposed URI when its original URI collides with one from another source.
func ResourceCollisionURN(upstreamID, originalURI string) string {
	sum := sha256.Sum256([]byte(originalURI))
	return fmt.Sprintf("urn:%s-resource:%s:%x", ResourceURNNamespace, upstreamID, sum)
}

// ParseResourceCollisionURN recovers the upstream id and original-URI hash
// from a URN produced by ResourceCollisionURN.
func ParseResourceCollisionURN(urn string) (upstreamID, hash string, ok bool) {
	prefix := fmt.Sprintf("urn:%s-resource:", ResourceURNNamespace)
	rest, found := strings.CutPrefix(urn, prefix)
	if !found {
		return "", "", false
	}
	upstreamID, hash, found = strings.Cut(rest, ":")
	if !found || upstreamID == "" || hash == "" {
		return "", "", false
	}
	return upstreamID, hash, true
}

// ParseServerPrefixedName splits a possibly-prefixed exposed name into
// (source, name), cutting at the LAST colon so source ids that themselves
// contain colons are preserved. Empty parts are rejected.
func ParseServerPrefixedName(name string) (source, base string, ok bool) {
	idx := strings.LastIndex(name, ":")
	if idx < 0 {
		return "", "", false
	}
	source, base = name[:idx], name[idx+1:]
	if source == "" || base == "" {
		return "", "", false
	}
	return source, base, true
}
