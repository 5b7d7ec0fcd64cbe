package llm

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"

	"finrep/internal/port"
)

// RateLimitedClient paces outgoing requests to stay under a provider's quota.
type RateLimitedClient struct {
	next    port.ModelClient
	limiter *rate.Limiter
}

// NewRateLimitedClient allows requestsPerMinute calls with a burst of one.
// A non-positive rate disables pacing.
func NewRateLimitedClient(next port.ModelClient, requestsPerMinute int) *RateLimitedClient {
	limit := rate.Inf
	if requestsPerMinute > 0 {
		limit = rate.Limit(float64(requestsPerMinute) / 60.0)
	}
	return &RateLimitedClient{next: next, limiter: rate.NewLimiter(limit, 1)}
}

func (r *RateLimitedClient) Complete(ctx context.Context, req port.ModelRequest) (*port.ModelResponse, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("waiting for rate limiter: %w", err)
	}
	return r.next.Complete(ctx, req)
}
