package httpinfra

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
)

func TestMergeHeaders(t *testing.T) {
	tests := []struct {
		name  string
		base  map[string]string
		extra map[string]string
		want  map[string]string
	}{
		{
			name:  "extra lower case replaces base",
			base:  map[string]string{"User-Agent": DefaultUserAgent},
			extra: map[string]string{"user-agent": "plugin-ua"},
			want:  map[string]string{"User-Agent": "plugin-ua"},
		},
		{
			name:  "base keys canonicalized",
			base:  map[string]string{"x-token": "a"},
			extra: map[string]string{"Referer": "https://music.example"},
			want:  map[string]string{"X-Token": "a", "Referer": "https://music.example"},
		},
		{
			name:  "nil extra",
			base:  map[string]string{"User-Agent": DefaultUserAgent},
			extra: nil,
			want:  map[string]string{"User-Agent": DefaultUserAgent},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MergeHeaders(tt.base, tt.extra))
		})
	}
}

func TestStdFetcher_PluginUserAgentAlwaysWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(r.Header.Get("User-Agent")))
	}))
	defer srv.Close()

	f := NewStdFetcher(5*time.Second, nil)
	for i := 0; i < 50; i++ {
		resp, err := f.Fetch(context.Background(), httpdomain.FetchRequest{
			URL:     srv.URL,
			Headers: map[string]string{"user-agent": "plugin-ua"},
		})
		require.NoError(t, err)
		require.Equal(t, "plugin-ua", resp.Body, "attempt %d", i)
	}
}
