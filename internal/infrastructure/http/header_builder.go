package httpinfra

import "net/http"

// DefaultUserAgent is sent when a sandbox request sets none.
const DefaultUserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0 Safari/537.36"

// MergeHeaders returns base overlaid with extra. Keys are canonicalized, so
// an extra "user-agent" replaces a base "User-Agent".
func MergeHeaders(base map[string]string, extra map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(extra))
	for k, v := range base {
		out[http.CanonicalHeaderKey(k)] = v
	}
	for k, v := range extra {
		out[http.CanonicalHeaderKey(k)] = v
	}
	return out
}

// flattenHeaders keeps the first value of each response header, keyed in
// lower case the way sandbox HTTP clients expect.
func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		if len(v) > 0 {
			out[httpHeaderKey(k)] = v[0]
		}
	}
	return out
}
