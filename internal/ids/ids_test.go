package ids

import "testing"

func TestMakeAndParseProxiedRequestIDRoundTripOpaque(t *testing.T) {
	id, err := MakeProxiedRequestID(Opaque, "upstream-1", map[string]any{"id": float64(7)})
	if err != nil {
		t.Fatalf("MakeProxiedRequestID: %v", err)
	}
	upstream, original, ok := ParseProxiedRequestID(id)
	if !ok {
		t.Fatalf("ParseProxiedRequestID(%q) failed to parse", id)
	}
	if upstream != "upstream-1" {
		t.Fatalf("upstream = %q, want upstream-1", upstream)
	}
	if string(original) != `{"id":7}` {
		t.Fatalf("original = %s", original)
	}
}

func TestMakeAndParseProxiedRequestIDRoundTripReadable(t *testing.T) {
	id, err := MakeProxiedRequestID(Readable, "upstream-42", "req-abc")
	if err != nil {
		t.Fatalf("MakeProxiedRequestID: %v", err)
	}
	upstream, original, ok := ParseProxiedRequestID(id)
	if !ok {
		t.Fatalf("ParseProxiedRequestID(%q) failed to parse", id)
	}
	if upstream != "upstream-42" {
		t.Fatalf("upstream = %q, want upstream-42", upstream)
	}
	if string(original) != `"req-abc"` {
		t.Fatalf("original = %s", original)
	}
}

func TestReadableIDCheckedBeforeOpaque(t *testing.T) {
	id, err := MakeProxiedRequestID(Readable, "srv", 1)
	if err != nil {
		t.Fatalf("MakeProxiedRequestID: %v", err)
	}
	upstream, _, ok := ParseProxiedRequestID(id)
	if !ok || upstream != "srv" {
		t.Fatalf("expected readable id to parse with literal upstream id, got %q ok=%v", upstream, ok)
	}
}

func TestParseProxiedRequestIDRejectsUnknownPrefix(t *testing.T) {
	if _, _, ok := ParseProxiedRequestID("not-a-proxied-id"); ok {
		t.Fatal("expected unknown prefix to fail parsing")
	}
}

func TestResourceCollisionURNRoundTripParses(t *testing.T) {
	urn := ResourceCollisionURN("upstream-1", "file:///etc/hosts")
	upstream, hash, ok := ParseResourceCollisionURN(urn)
	if !ok {
		t.Fatalf("ParseResourceCollisionURN(%q) failed", urn)
	}
	if upstream != "upstream-1" {
		t.Fatalf("upstream = %q, want upstream-1", upstream)
	}
	if len(hash) != 64 {
		t.Fatalf("hash length = %d, want 64 (sha256 hex)", len(hash))
	}
}

func TestResourceCollisionURNIsDeterministic(t *testing.T) {
	a := ResourceCollisionURN("up", "file:///a")
	b := ResourceCollisionURN("up", "file:///a")
	if a != b {
		t.Fatalf("expected deterministic URN, got %q != %q", a, b)
	}
}

func TestParseServerPrefixedNameCutsOnLastColon(t *testing.T) {
	source, base, ok := ParseServerPrefixedName("ns:server:tool")
	if !ok {
		t.Fatal("expected parse to succeed")
	}
	if source != "ns:server" || base != "tool" {
		t.Fatalf("got source=%q base=%q, want source=%q base=%q", source, base, "ns:server", "tool")
	}
}

func TestParseServerPrefixedNameRejectsEmptyParts(t *testing.T) {
	if _, _, ok := ParseServerPrefixedName(":tool"); ok {
		t.Fatal("expected empty source to be rejected")
	}
	if _, _, ok := ParseServerPrefixedName("server:"); ok {
		t.Fatal("expected empty base to be rejected")
	}
	if _, _, ok := ParseServerPrefixedName("nocolon"); ok {
		t.Fatal("expected missing colon to be rejected")
	}
}
