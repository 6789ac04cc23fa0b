// Package api implements the direct aggregate-search source.
package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/tidwall/gjson"

	"songhost.dev/cli/internal/application/ports"
	"songhost.dev/cli/internal/infrastructure/logging"
)

// PlatformPrefix is prepended to the upstream platform of every item.
const PlatformPrefix = "OpenAPI-"

// ErrCircuitOpen is returned while the breaker rejects calls.
var ErrCircuitOpen = errors.New("direct source temporarily disabled after repeated failures")

// OpenAPIGateway implements ports.DirectSource against an aggregate search
// endpoint.
type OpenAPIGateway struct {
	endpoint    string
	httpClient  *http.Client
	retryPolicy *RetryPolicy
	breaker     *CircuitBreaker
	logger      ports.LoggingGateway
	stats       *APIStats
	mutex       sync.RWMutex
}

// APIStats tracks direct source usage
type APIStats struct {
	TotalRequests      int64         `json:"total_requests"`
	SuccessfulRequests int64         `json:"successful_requests"`
	FailedRequests     int64         `json:"failed_requests"`
	AverageLatency     time.Duration `json:"average_latency"`
	LastRequestTime    time.Time     `json:"last_request_time"`
	LastError          string        `json:"last_error,omitempty"`
}

// RetryPolicy defines retry behavior
type RetryPolicy struct {
	MaxAttempts int           `json:"max_attempts"`
	BaseDelay   time.Duration `json:"base_delay"`
	MaxDelay    time.Duration `json:"max_delay"`
	Multiplier  float64       `json:"multiplier"`
}

// DefaultRetryPolicy returns the production retry policy
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxAttempts: 2,
		BaseDelay:   200 * time.Millisecond,
		MaxDelay:    2 * time.Second,
		Multiplier:  2.0,
	}
}

// delay returns the wait before attempt (1-based retry count).
func (p *RetryPolicy) delay(attempt int) time.Duration {
	d := p.BaseDelay
	for i := 1; i < attempt; i++ {
		d = time.Duration(float64(d) * p.Multiplier)
		if d > p.MaxDelay {
			return p.MaxDelay
		}
	}
	return d
}

// CircuitBreaker implements circuit breaker pattern
type CircuitBreaker struct {
	maxFailures     int
	resetTimeout    time.Duration
	failureCount    int
	lastFailureTime time.Time
	state           CircuitBreakerState
	mutex           sync.RWMutex
	now             func() time.Time
}

// CircuitBreakerState represents the circuit breaker state
type CircuitBreakerState int

const (
	StateClosed CircuitBreakerState = iota
	StateOpen
	StateHalfOpen
)

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		maxFailures:  maxFailures,
		resetTimeout: resetTimeout,
		state:        StateClosed,
		now:          time.Now,
	}
}

// CanExecute returns true if the circuit breaker allows execution
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	switch cb.state {
	case StateClosed:
		return true
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) >= cb.resetTimeout {
			cb.state = StateHalfOpen
			return true
		}
		return false
	case StateHalfOpen:
		return true
	default:
		return false
	}
}

// RecordSuccess records a successful execution
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount = 0
	cb.state = StateClosed
}

// RecordFailure records a failed execution
func (cb *CircuitBreaker) RecordFailure() {
	cb.mutex.Lock()
	defer cb.mutex.Unlock()

	cb.failureCount++
	cb.lastFailureTime = cb.now()

	if cb.failureCount >= cb.maxFailures || cb.state == StateHalfOpen {
		cb.state = StateOpen
	}
}

// State returns the current breaker state
func (cb *CircuitBreaker) State() CircuitBreakerState {
	cb.mutex.RLock()
	defer cb.mutex.RUnlock()
	return cb.state
}

// NewOpenAPIGateway creates a direct source querying endpoint.
func NewOpenAPIGateway(endpoint string, timeout time.Duration, logger ports.LoggingGateway) *OpenAPIGateway {
	if logger == nil {
		logger = logging.NopGateway{}
	}
	return &OpenAPIGateway{
		endpoint:    endpoint,
		httpClient:  &http.Client{Timeout: timeout},
		retryPolicy: DefaultRetryPolicy(),
		breaker:     NewCircuitBreaker(5, 60*time.Second),
		logger:      logger,
		stats:       &APIStats{},
	}
}

// UpdateEndpoint safely updates the search endpoint at runtime
func (g *OpenAPIGateway) UpdateEndpoint(endpoint string) error {
	if endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}
	if _, err := url.ParseRequestURI(endpoint); err != nil {
		return fmt.Errorf("invalid endpoint: %w", err)
	}

	g.mutex.Lock()
	defer g.mutex.Unlock()
	if g.endpoint == endpoint {
		return nil
	}

	g.log(ports.LogLevelInfo, "Updating direct source endpoint", map[string]interface{}{
		"old_endpoint": g.endpoint,
		"new_endpoint": endpoint,
	})
	g.endpoint = endpoint
	return nil
}

func (g *OpenAPIGateway) getEndpoint() string {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return g.endpoint
}

// Search queries the endpoint and returns items tagged with their
// prefixed platform.
func (g *OpenAPIGateway) Search(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	if !g.breaker.CanExecute() {
		return nil, ErrCircuitOpen
	}

	var items []map[string]interface{}
	err := g.executeWithRetry(ctx, func() error {
		var err error
		items, err = g.search(ctx, query, limit)
		return err
	})
	return items, err
}

func (g *OpenAPIGateway) search(ctx context.Context, query string, limit int) ([]map[string]interface{}, error) {
	u, err := url.Parse(g.getEndpoint())
	if err != nil {
		return nil, fmt.Errorf("invalid endpoint: %w", err)
	}
	q := u.Query()
	q.Set("type", "aggregateSearch")
	q.Set("keyword", query)
	q.Set("limit", strconv.Itoa(limit))
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	start := time.Now()
	resp, err := g.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("direct search failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read direct search response: %w", err)
	}
	g.log(ports.LogLevelDebug, "Direct search response", map[string]interface{}{
		"status_code": resp.StatusCode,
		"body_size":   len(body),
		"latency_ms":  time.Since(start).Milliseconds(),
	})

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("direct search failed with status %d", resp.StatusCode)
	}
	return ParseSearchResponse(body)
}

// ParseSearchResponse decodes an aggregate search payload.
func ParseSearchResponse(body []byte) ([]map[string]interface{}, error) {
	if !gjson.ValidBytes(body) {
		return nil, fmt.Errorf("direct search returned invalid JSON")
	}
	doc := gjson.ParseBytes(body)
	if code := doc.Get("code"); code.Int() != 200 {
		return nil, fmt.Errorf("direct search returned code %s: %s", code.Raw, doc.Get("msg").String())
	}

	results := doc.Get("data.results")
	items := make([]map[string]interface{}, 0, len(results.Array()))
	results.ForEach(func(_, r gjson.Result) bool {
		if !r.IsObject() {
			return true
		}
		items = append(items, map[string]interface{}{
			"id":       r.Get("id").String(),
			"title":    r.Get("name").String(),
			"artist":   r.Get("artist").String(),
			"album":    r.Get("album").String(),
			"platform": PlatformPrefix + r.Get("platform").String(),
			"url":      r.Get("url").String(),
			"artwork":  r.Get("pic").String(),
			"lrc":      r.Get("lrc").String(),
		})
		return true
	})
	return items, nil
}

// executeWithRetry runs fn under the retry policy and records the outcome
// on the breaker.
func (g *OpenAPIGateway) executeWithRetry(ctx context.Context, fn func() error) error {
	var lastErr error
	for attempt := 0; attempt < g.retryPolicy.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(g.retryPolicy.delay(attempt)):
			case <-ctx.Done():
				lastErr = ctx.Err()
			}
			if ctx.Err() != nil {
				break
			}
		}

		start := time.Now()
		lastErr = fn()
		g.recordRequest(time.Since(start), lastErr)
		if lastErr == nil {
			g.breaker.RecordSuccess()
			return nil
		}
	}
	g.breaker.RecordFailure()
	return lastErr
}

func (g *OpenAPIGateway) recordRequest(latency time.Duration, err error) {
	g.mutex.Lock()
	defer g.mutex.Unlock()

	s := g.stats
	s.TotalRequests++
	s.LastRequestTime = time.Now()
	if err != nil {
		s.FailedRequests++
		s.LastError = err.Error()
	} else {
		s.SuccessfulRequests++
	}
	s.AverageLatency = (s.AverageLatency*time.Duration(s.TotalRequests-1) + latency) / time.Duration(s.TotalRequests)
}

// GetStats returns a copy of the usage counters
func (g *OpenAPIGateway) GetStats() APIStats {
	g.mutex.RLock()
	defer g.mutex.RUnlock()
	return *g.stats
}

func (g *OpenAPIGateway) log(level ports.LogLevel, msg string, fields map[string]interface{}) {
	g.logger.Log(level, msg, fields)
}

var _ ports.DirectSource = (*OpenAPIGateway)(nil)
