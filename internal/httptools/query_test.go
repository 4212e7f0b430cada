package httptools

import "testing"

func TestSerializeQueryParamFormExplodeArray(t *testing.T) {
	pairs, err := serializeQueryParam("tags", []any{"a", "b"}, &ParamConfig{})
	if err != nil {
		t.Fatalf("serializeQueryParam: %v", err)
	}
	if len(pairs) != 2 || pairs[0].value != "a" || pairs[1].value != "b" {
		t.Fatalf("pairs = %+v, want repeated form-exploded pairs", pairs)
	}
}

func TestSerializeQueryParamFormNoExplodeArrayIsCommaJoined(t *testing.T) {
	noExplode := false
	pairs, err := serializeQueryParam("tags", []any{"a", "b"}, &ParamConfig{Explode: &noExplode})
	if err != nil {
		t.Fatalf("serializeQueryParam: %v", err)
	}
	if len(pairs) != 1 || pairs[0].value != "a,b" {
		t.Fatalf("pairs = %+v, want single comma-joined pair", pairs)
	}
}

func TestSerializeQueryParamPipeDelimitedArray(t *testing.T) {
	style := StylePipeDelimited
	pairs, err := serializeQueryParam("tags", []any{"a", "b"}, &ParamConfig{Style: &style})
	if err != nil {
		t.Fatalf("serializeQueryParam: %v", err)
	}
	if len(pairs) != 1 || pairs[0].value != "a|b" {
		t.Fatalf("pairs = %+v, want pipe-joined value", pairs)
	}
}

func TestSerializeQueryParamDeepObject(t *testing.T) {
	style := StyleDeepObject
	pairs, err := serializeQueryParam("filter", map[string]any{"a": "1", "b": "2"}, &ParamConfig{Style: &style})
	if err != nil {
		t.Fatalf("serializeQueryParam: %v", err)
	}
	keys := map[string]string{}
	for _, p := range pairs {
		keys[p.key] = p.value
	}
	if keys["filter[a]"] != "1" || keys["filter[b]"] != "2" {
		t.Fatalf("pairs = %+v, want filter[a] and filter[b]", pairs)
	}
}

func TestSerializeQueryParamEmptyValueOnlyWhenAllowed(t *testing.T) {
	pairs, err := serializeQueryParam("q", "", &ParamConfig{})
	if err != nil {
		t.Fatalf("serializeQueryParam: %v", err)
	}
	if len(pairs) != 0 {
		t.Fatalf("pairs = %+v, want dropped empty value", pairs)
	}

	pairs, err = serializeQueryParam("q", "", &ParamConfig{AllowEmptyValue: true})
	if err != nil {
		t.Fatalf("serializeQueryParam: %v", err)
	}
	if len(pairs) != 1 || pairs[0].value != "" {
		t.Fatalf("pairs = %+v, want single empty pair", pairs)
	}
}

func TestEncodeQueryComponentEncodesReservedByDefault(t *testing.T) {
	got := encodeQueryComponent("a/b c", false)
	want := "a%2Fb%20c"
	if got != want {
		t.Fatalf("encodeQueryComponent() = %q, want %q", got, want)
	}
}

func TestEncodeQueryComponentKeepsSafeReservedWhenAllowed(t *testing.T) {
	got := encodeQueryComponent("a/b", true)
	want := "a/b"
	if got != want {
		t.Fatalf("encodeQueryComponent() = %q, want %q", got, want)
	}
}

func TestEncodeQueryComponentAlwaysEncodesAmpersandAndEquals(t *testing.T) {
	got := encodeQueryComponent("a&b=c", true)
	if got != "a%26b%3Dc" {
		t.Fatalf("encodeQueryComponent() = %q, want ampersand/equals encoded even with allowReserved", got)
	}
}

func TestBuildURLAppendsPathAndEncodedQuery(t *testing.T) {
	u, err := buildURL("http://example.com/base", "/users/1", []queryPair{{key: "q", value: "a b"}})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	if u.Path != "/base/users/1" {
		t.Fatalf("path = %q, want /base/users/1", u.Path)
	}
	if u.RawQuery != "q=a%20b" {
		t.Fatalf("rawQuery = %q, want q=a%%20b", u.RawQuery)
	}
}
