package httpports

import (
	"context"

	httpdomain "songhost.dev/cli/internal/core/domain/http"
)

// Fetcher performs sandbox network requests on behalf of the host.
type Fetcher interface {
	Fetch(ctx context.Context, req httpdomain.FetchRequest) (httpdomain.FetchResponse, error)
}

type RetryPolicy interface {
	ShouldRetry(status int, err error, attempt int) (bool, int)
}
