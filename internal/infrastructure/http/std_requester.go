package httpinfra

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
	httpports "songhost.dev/cli/internal/core/ports/http"
)

// DefaultMaxBodyBytes caps a response body handed to a sandbox.
const DefaultMaxBodyBytes = 8 * 1024 * 1024

// ErrBodyTooLarge is returned when a response exceeds the body cap.
var ErrBodyTooLarge = errors.New("response body exceeds limit")

// StdFetcher performs sandbox network requests with net/http.
type StdFetcher struct {
	client  *http.Client
	retry   httpports.RetryPolicy
	maxBody int64
	headers map[string]string
}

// NewStdFetcher creates a fetcher bounded by timeout per attempt. retry may
// be nil.
func NewStdFetcher(timeout time.Duration, retry httpports.RetryPolicy) *StdFetcher {
	return &StdFetcher{
		client:  &http.Client{Timeout: timeout},
		retry:   retry,
		maxBody: DefaultMaxBodyBytes,
		headers: map[string]string{"User-Agent": DefaultUserAgent},
	}
}

// WithMaxBody overrides the body cap.
func (f *StdFetcher) WithMaxBody(n int64) *StdFetcher {
	f.maxBody = n
	return f
}

func (f *StdFetcher) Fetch(ctx context.Context, req httpdomain.FetchRequest) (httpdomain.FetchResponse, error) {
	if err := req.Validate(); err != nil {
		return httpdomain.FetchResponse{}, err
	}
	fullURL, err := req.FullURL()
	if err != nil {
		return httpdomain.FetchResponse{}, err
	}
	headers := MergeHeaders(f.headers, req.Headers)

	attempt := 0
	for {
		resp, err := f.do(ctx, req.Method, fullURL, req.Body, headers)
		status := resp.Status
		if f.retry != nil && ctx.Err() == nil {
			retry, backoff := f.retry.ShouldRetry(status, err, attempt)
			if retry {
				select {
				case <-time.After(time.Duration(backoff) * time.Millisecond):
				case <-ctx.Done():
					return httpdomain.FetchResponse{}, ctx.Err()
				}
				attempt++
				continue
			}
		}
		return resp, err
	}
}

func (f *StdFetcher) do(ctx context.Context, method, url, body string, headers map[string]string) (httpdomain.FetchResponse, error) {
	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return httpdomain.FetchResponse{}, fmt.Errorf("failed to create request: %w", err)
	}
	for k, v := range headers {
		httpReq.Header.Set(k, v)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return httpdomain.FetchResponse{}, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return httpdomain.FetchResponse{}, fmt.Errorf("failed to read response: %w", err)
	}
	if int64(len(data)) > f.maxBody {
		return httpdomain.FetchResponse{}, fmt.Errorf("%w (%d bytes)", ErrBodyTooLarge, f.maxBody)
	}

	return httpdomain.FetchResponse{
		Status:     resp.StatusCode,
		StatusText: http.StatusText(resp.StatusCode),
		Headers:    flattenHeaders(resp.Header),
		Body:       string(data),
		URL:        resp.Request.URL.String(),
	}, nil
}

var lowerHeader = cases.Lower(language.Und)

func httpHeaderKey(k string) string {
	return lowerHeader.String(k)
}

// BackoffRetry retries transport errors and 429/5xx statuses with
// exponential backoff.
type BackoffRetry struct {
	MaxAttempts int
	BaseMillis  int
}

func (p BackoffRetry) ShouldRetry(status int, err error, attempt int) (bool, int) {
	if attempt+1 >= p.MaxAttempts {
		return false, 0
	}
	if err == nil && status != http.StatusTooManyRequests && status < 500 {
		return false, 0
	}
	if errors.Is(err, ErrBodyTooLarge) {
		return false, 0
	}
	return true, p.BaseMillis << attempt
}

var (
	_ httpports.Fetcher     = (*StdFetcher)(nil)
	_ httpports.RetryPolicy = BackoffRetry{}
)
