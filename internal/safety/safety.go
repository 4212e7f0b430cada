// Package safety implements outbound HTTP SSRF protection shared by the
// declarative HTTP and OpenAPI tool sources: scheme checks, host
// allowlisting, IP-range denial, response-size caps and redirect policy,
// plus credential/query/fragment redaction for error messages and logs.
//
// This package is policy-only: callers choose a Policy. The Adapter
// typically runs Permissive; the Gateway runs GatewayDefault.
package safety

import (
	"context"
	"fmt"
	"net"
	"net/url"
	"strings"
)

// RedirectPolicy controls how a caller should treat HTTP redirects.
type RedirectPolicy int

const (
	// NoRedirects disables following redirects entirely.
	NoRedirects RedirectPolicy = iota
	// CheckedRedirects follows redirects but re-validates the destination
	// URL against the same Policy on every hop.
	CheckedRedirects
)

// Policy is an outbound HTTP safety configuration.
type Policy struct {
	// AllowedHosts, if non-nil, restricts destinations to this set
	// (case-insensitive). A nil set means no host allowlist.
	AllowedHosts map[string]struct{}
	// AllowPrivateNetworks permits loopback/private/link-local/reserved
	// destination IPs when true.
	AllowPrivateNetworks bool
	// MaxResponseBytes caps response body size; zero means unlimited.
	MaxResponseBytes int64
	// Redirects selects redirect-following behavior.
	Redirects RedirectPolicy
}

// Permissive is the most permissive policy, intended for the Adapter where
// tool sources are configured by a trusted operator.
func Permissive() Policy {
	return Policy{
		AllowedHosts:         nil,
		AllowPrivateNetworks: true,
		MaxResponseBytes:     0,
		Redirects:            CheckedRedirects,
	}
}

// GatewayDefault is the safer default for multi-tenant environments.
func GatewayDefault() Policy {
	return Policy{
		AllowedHosts:         nil,
		AllowPrivateNetworks: false,
		MaxResponseBytes:     1024 * 1024,
		Redirects:            NoRedirects,
	}
}

// Resolver abstracts hostname resolution so tests can substitute a fake
// without making real DNS queries. net.DefaultResolver.LookupIPAddr
// satisfies this.
type Resolver interface {
	LookupIPAddr(ctx context.Context, host string) ([]net.IPAddr, error)
}

var defaultResolver Resolver = net.DefaultResolver

// CheckURL validates u against the policy before an outbound request is
// made: scheme, host allowlist, and (unless AllowPrivateNetworks) the IP
// range of every address the host resolves to.
func (p Policy) CheckURL(ctx context.Context, u *url.URL) error {
	return p.checkURL(ctx, u, defaultResolver)
}

func (p Policy) checkURL(ctx context.Context, u *url.URL, resolver Resolver) error {
	scheme := u.Scheme
	if scheme != "http" && scheme != "https" {
		return fmt.Errorf("outbound HTTP blocked: unsupported URL scheme %q", scheme)
	}

	host := u.Hostname()
	if host == "" {
		return fmt.Errorf("outbound HTTP blocked: missing URL host")
	}

	if p.AllowedHosts != nil {
		if _, ok := p.AllowedHosts[strings.ToLower(host)]; !ok {
			return fmt.Errorf("outbound HTTP blocked: host %q not in allowlist", host)
		}
	}

	if p.AllowPrivateNetworks {
		return nil
	}

	if ip := net.ParseIP(host); ip != nil {
		if isDeniedIP(ip) {
			return fmt.Errorf("outbound HTTP blocked: destination IP %q is not allowed", ip)
		}
		return nil
	}

	addrs, err := resolver.LookupIPAddr(ctx, host)
	if err != nil {
		return fmt.Errorf("DNS lookup failed for host %q: %w", host, err)
	}
	if len(addrs) == 0 {
		return fmt.Errorf("DNS lookup returned no addresses for host %q", host)
	}
	for _, addr := range addrs {
		if isDeniedIP(addr.IP) {
			return fmt.Errorf("outbound HTTP blocked: host %q resolved to disallowed IP %q", host, addr.IP)
		}
	}
	return nil
}

// RedactURL returns u with credentials, query string and fragment removed,
// safe to embed in logs and error messages.
func RedactURL(u *url.URL) string {
	redacted := *u
	redacted.User = nil
	redacted.RawQuery = ""
	redacted.Fragment = ""
	return redacted.String()
}

// SanitizeError replaces any occurrence of origURL's full string in err's
// message with its redacted form, so transport errors never leak
// credentials or query parameters into logs.
func SanitizeError(err error, origURL *url.URL) string {
	msg := err.Error()
	if origURL == nil {
		return msg
	}
	return strings.ReplaceAll(msg, origURL.String(), RedactURL(origURL))
}

func isDeniedIP(ip net.IP) bool {
	if v4 := ip.To4(); v4 != nil {
		return isDeniedIPv4(v4)
	}
	return isDeniedIPv6(ip)
}

func isDeniedIPv4(ip net.IP) bool {
	if ip.IsLoopback() || ip.IsPrivate() || ip.IsLinkLocalUnicast() ||
		ip.IsLinkLocalMulticast() || ip.IsUnspecified() || ip.IsMulticast() ||
		isIPv4Broadcast(ip) {
		return true
	}

	// Carrier-grade NAT range, 100.64.0.0/10.
	if ip[0] == 100 && ip[1] >= 64 && ip[1] <= 127 {
		return true
	}

	// Reserved / future use, 240.0.0.0/4.
	if ip[0] >= 240 {
		return true
	}

	return false
}

func isIPv4Broadcast(ip net.IP) bool {
	return ip.Equal(net.IPv4bcast)
}

func isDeniedIPv6(ip net.IP) bool {
	return ip.IsLoopback() || ip.IsUnspecified() || ip.IsMulticast() ||
		ip.IsPrivate() || ip.IsLinkLocalUnicast()
}
