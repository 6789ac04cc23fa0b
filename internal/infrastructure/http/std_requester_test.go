package httpinfra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
)

func TestStdFetcher_Fetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		w.Header().Set("X-Echo-Method", r.Method)
		w.Header().Set("Content-Type", "text/plain")
		fmt.Fprintf(w, "%s|%s|%s|%s", r.URL.Query().Get("q"), r.Header.Get("Referer"), body, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	f := NewStdFetcher(5*time.Second, nil)
	resp, err := f.Fetch(context.Background(), httpdomain.FetchRequest{
		Method:  "post",
		URL:     srv.URL + "/x",
		Headers: map[string]string{"Referer": "https://music.example"},
		Params:  map[string]string{"q": "hello world"},
		Body:    "payload",
	})
	require.NoError(t, err)
	assert.Equal(t, 200, resp.Status)
	assert.Equal(t, "OK", resp.StatusText)
	assert.Equal(t, "POST", resp.Headers["x-echo-method"])
	assert.Equal(t, "hello world|https://music.example|payload|"+DefaultUserAgent, resp.Body)
}

func TestStdFetcher_Errors(t *testing.T) {
	big := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(strings.Repeat("x", 64)))
	}))
	defer big.Close()

	tests := []struct {
		name    string
		fetcher *StdFetcher
		req     httpdomain.FetchRequest
		want    string
	}{
		{name: "bad scheme", fetcher: NewStdFetcher(time.Second, nil), req: httpdomain.FetchRequest{URL: "file:///etc/passwd"}, want: "unsupported url scheme"},
		{name: "body cap", fetcher: NewStdFetcher(time.Second, nil).WithMaxBody(10), req: httpdomain.FetchRequest{URL: big.URL}, want: "exceeds limit"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := tt.fetcher.Fetch(context.Background(), tt.req)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestStdFetcher_RetriesServerErrors(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&hits, 1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	f := NewStdFetcher(time.Second, BackoffRetry{MaxAttempts: 3, BaseMillis: 1})
	resp, err := f.Fetch(context.Background(), httpdomain.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Body)
	assert.Equal(t, int32(3), atomic.LoadInt32(&hits))
}

func TestBackoffRetry(t *testing.T) {
	p := BackoffRetry{MaxAttempts: 3, BaseMillis: 100}
	tests := []struct {
		name    string
		status  int
		err     error
		attempt int
		retry   bool
		backoff int
	}{
		{name: "success", status: 200, retry: false},
		{name: "not found", status: 404, retry: false},
		{name: "rate limited", status: 429, retry: true, backoff: 100},
		{name: "server error second attempt", status: 500, attempt: 1, retry: true, backoff: 200},
		{name: "attempts exhausted", status: 500, attempt: 2, retry: false},
		{name: "transport error", err: errors.New("connection reset"), retry: true, backoff: 100},
		{name: "body too large", err: ErrBodyTooLarge, retry: false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			retry, backoff := p.ShouldRetry(tt.status, tt.err, tt.attempt)
			assert.Equal(t, tt.retry, retry)
			if tt.retry {
				assert.Equal(t, tt.backoff, backoff)
			}
		})
	}
}
