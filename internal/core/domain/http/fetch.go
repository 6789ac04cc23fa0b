package httpdomain

import (
	"fmt"
	"net/url"
	"strings"
)

// FetchRequest is a network call issued from inside a sandbox and fulfilled
// by the parent process.
type FetchRequest struct {
	Method  string            `json:"method"`
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers,omitempty"`
	Params  map[string]string `json:"params,omitempty"`
	Body    string            `json:"body,omitempty"`
}

// FetchResponse is the parent's answer to a FetchRequest.
type FetchResponse struct {
	Status     int               `json:"status"`
	StatusText string            `json:"statusText,omitempty"`
	Headers    map[string]string `json:"headers,omitempty"`
	Body       string            `json:"body"`
	URL        string            `json:"url,omitempty"`
}

// Validate normalizes the method and checks the target URL.
func (r *FetchRequest) Validate() error {
	if r.Method == "" {
		r.Method = "GET"
	}
	r.Method = strings.ToUpper(r.Method)
	u, err := url.Parse(r.URL)
	if err != nil {
		return fmt.Errorf("invalid url %q: %w", r.URL, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("unsupported url scheme %q", u.Scheme)
	}
	return nil
}

// FullURL returns the URL with Params merged into its query string.
func (r FetchRequest) FullURL() (string, error) {
	u, err := url.Parse(r.URL)
	if err != nil {
		return "", err
	}
	if len(r.Params) > 0 {
		vals := u.Query()
		for k, v := range r.Params {
			vals.Set(k, v)
		}
		u.RawQuery = vals.Encode()
	}
	return u.String(), nil
}

// OK reports a 2xx status.
func (r FetchResponse) OK() bool {
	return r.Status >= 200 && r.Status < 300
}
