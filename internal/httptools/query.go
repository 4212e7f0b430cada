package httptools

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
)

// queryPair is one raw key=value destined for the query string; buildURL
// percent-encodes it with encodeQueryComponent.
// allowReserved controls whether encodeQueryComponent treats reserved
// characters in value as safe to leave unescaped.
type queryPair struct {
	key           string
	value         string
	allowReserved bool
}

func defaultQueryExplode(style QueryStyle) bool {
	return style == StyleForm || style == StyleDeepObject
}

// serializeQueryParam renders one parameter's value into zero or more
// query pairs per its configured style/explode/allow* flags.
func serializeQueryParam(name string, value any, q *ParamConfig) ([]queryPair, error) {
	style := StyleForm
	if q.Style != nil {
		style = *q.Style
	}
	explode := defaultQueryExplode(style)
	if q.Explode != nil {
		explode = *q.Explode
	}

	if queryValueIsEmpty(value) {
		return serializeEmptyQueryValue(name, q), nil
	}

	switch v := value.(type) {
	case []any:
		return serializeQueryArray(name, v, style, explode, q.AllowReserved), nil
	case map[string]any:
		return serializeQueryObject(name, v, style, explode, q.AllowReserved)
	default:
		return []queryPair{{key: name, value: serializeQueryScalar(value), allowReserved: q.AllowReserved}}, nil
	}
}

func queryValueIsEmpty(value any) bool {
	switch v := value.(type) {
	case nil:
		return true
	case string:
		return v == ""
	case []any:
		return len(v) == 0
	case map[string]any:
		return len(v) == 0
	default:
		return false
	}
}

func serializeEmptyQueryValue(name string, q *ParamConfig) []queryPair {
	if !q.AllowEmptyValue {
		return nil
	}
	return []queryPair{{key: name, value: "", allowReserved: q.AllowReserved}}
}

func serializeQueryArray(name string, arr []any, style QueryStyle, explode bool, allowReserved bool) []queryPair {
	strs := make([]string, len(arr))
	for i, e := range arr {
		strs[i] = serializeQueryScalar(e)
	}

	switch style {
	case StyleForm:
		if explode {
			pairs := make([]queryPair, len(strs))
			for i, s := range strs {
				pairs[i] = queryPair{key: name, value: s, allowReserved: allowReserved}
			}
			return pairs
		}
		return []queryPair{{key: name, value: strings.Join(strs, ","), allowReserved: allowReserved}}
	case StyleSpaceDelimited:
		return []queryPair{{key: name, value: strings.Join(strs, " "), allowReserved: allowReserved}}
	case StylePipeDelimited:
		return []queryPair{{key: name, value: strings.Join(strs, "|"), allowReserved: allowReserved}}
	case StyleDeepObject:
		return []queryPair{{key: name, value: strings.Join(strs, ","), allowReserved: allowReserved}}
	default:
		return []queryPair{{key: name, value: strings.Join(strs, ","), allowReserved: allowReserved}}
	}
}

func serializeQueryObject(name string, obj map[string]any, style QueryStyle, explode bool, allowReserved bool) ([]queryPair, error) {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	switch style {
	case StyleDeepObject:
		pairs := make([]queryPair, 0, len(keys))
		for _, k := range keys {
			pairs = append(pairs, queryPair{
				key:           fmt.Sprintf("%s[%s]", name, k),
				value:         serializeQueryScalar(obj[k]),
				allowReserved: allowReserved,
			})
		}
		return pairs, nil
	case StyleForm:
		if explode {
			pairs := make([]queryPair, 0, len(keys))
			for _, k := range keys {
				pairs = append(pairs, queryPair{key: k, value: serializeQueryScalar(obj[k]), allowReserved: allowReserved})
			}
			return pairs, nil
		}
		flat := make([]string, 0, len(keys)*2)
		for _, k := range keys {
			flat = append(flat, k, serializeQueryScalar(obj[k]))
		}
		return []queryPair{{key: name, value: strings.Join(flat, ","), allowReserved: allowReserved}}, nil
	case StyleSpaceDelimited, StylePipeDelimited:
		b, err := json.Marshal(obj)
		if err != nil {
			return nil, fmt.Errorf("httptools: marshal query object for %q: %w", name, err)
		}
		return []queryPair{{key: name, value: string(b), allowReserved: allowReserved}}, nil
	default:
		flat := make([]string, 0, len(keys)*2)
		for _, k := range keys {
			flat = append(flat, k, serializeQueryScalar(obj[k]))
		}
		return []queryPair{{key: name, value: strings.Join(flat, ","), allowReserved: allowReserved}}, nil
	}
}

func serializeQueryScalar(value any) string {
	return valueToString(value)
}

func valueToString(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case bool:
		if v {
			return "true"
		}
		return "false"
	case float64:
		if v == float64(int64(v)) {
			return fmt.Sprintf("%d", int64(v))
		}
		return fmt.Sprintf("%v", v)
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(b)
	}
}

// encodeQueryComponent percent-encodes s for use in a query string,
// leaving unreserved characters untouched and, when allowReserved is set,
// also leaving reserved-but-safe-in-pairs characters untouched. '&' and '='
// are always encoded so they cannot be mistaken for pair/field separators.
func encodeQueryComponent(s string, allowReserved bool) string {
	var out strings.Builder
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case isUnreserved(c):
			out.WriteByte(c)
		case allowReserved && isReservedButSafeInPairs(c):
			out.WriteByte(c)
		default:
			fmt.Fprintf(&out, "%%%02X", c)
		}
	}
	return out.String()
}

func isUnreserved(c byte) bool {
	return (c >= 'A' && c <= 'Z') || (c >= 'a' && c <= 'z') || (c >= '0' && c <= '9') ||
		c == '-' || c == '.' || c == '_' || c == '~'
}

func isReservedButSafeInPairs(c byte) bool {
	switch c {
	case '!', '$', '\'', '(', ')', '*', '+', ',', ';', ':', '@', '/', '?':
		return true
	default:
		return false
	}
}
