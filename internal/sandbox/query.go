package sandbox

import (
	"fmt"
	"net/url"
	"strings"
)

// StringifyQuery encodes params with bracket keys for nested values, the
// form music APIs commonly expect.
func StringifyQuery(params map[string]interface{}) string {
	vals := url.Values{}
	var add func(key string, v interface{})
	add = func(key string, v interface{}) {
		switch t := v.(type) {
		case nil:
		case map[string]interface{}:
			for k, inner := range t {
				add(key+"["+k+"]", inner)
			}
		case []interface{}:
			for i, inner := range t {
				add(fmt.Sprintf("%s[%d]", key, i), inner)
			}
		case float64:
			vals.Add(key, FormatNumber(t))
		default:
			vals.Add(key, fmt.Sprint(t))
		}
	}
	for k, v := range params {
		add(k, v)
	}
	return vals.Encode()
}

// ParseQuery decodes a query string; repeated keys become lists.
func ParseQuery(raw string) (map[string]interface{}, error) {
	vals, err := url.ParseQuery(strings.TrimPrefix(raw, "?"))
	if err != nil {
		return nil, err
	}
	out := make(map[string]interface{}, len(vals))
	for k, v := range vals {
		if len(v) == 1 {
			out[k] = v[0]
		} else {
			out[k] = v
		}
	}
	return out, nil
}

// FormatNumber prints integral floats without a fraction.
func FormatNumber(f float64) string {
	if f == float64(int64(f)) {
		return fmt.Sprintf("%d", int64(f))
	}
	return fmt.Sprintf("%g", f)
}
