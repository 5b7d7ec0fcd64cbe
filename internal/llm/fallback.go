package llm

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"finrep/internal/port"
)

// circuitState tracks rate-limit backoff for a single client.
type circuitState struct {
	mu      sync.RWMutex
	resetAt time.Time // zero value = closed (healthy)
}

func (c *circuitState) isOpenWithReset(now time.Time) (time.Time, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.resetAt, !c.resetAt.IsZero() && now.Before(c.resetAt)
}

func (c *circuitState) open(resetAt time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.resetAt = resetAt
}

// FallbackClient tries clients in order, skipping those with open circuits.
// A non-rate-limit failure moves on to the next client once; the first success wins.
type FallbackClient struct {
	clients  []port.ModelClient
	circuits []*circuitState
	names    []string
	now      func() time.Time
}

// NewFallbackClient creates a FallbackClient from an ordered list of clients and their names.
func NewFallbackClient(clients []port.ModelClient, names []string) *FallbackClient {
	circuits := make([]*circuitState, len(clients))
	for i := range circuits {
		circuits[i] = &circuitState{}
	}
	return &FallbackClient{
		clients:  clients,
		circuits: circuits,
		names:    names,
		now:      time.Now,
	}
}

func (f *FallbackClient) Complete(ctx context.Context, req port.ModelRequest) (*port.ModelResponse, error) {
	now := f.now()
	var lastErr error
	allRateLimited := true
	var earliestReset time.Time

	for i, c := range f.clients {
		if resetAt, open := f.circuits[i].isOpenWithReset(now); open {
			zap.L().Debug("llm.FallbackClient: skipping backend, circuit open",
				zap.String("backend", f.names[i]), zap.Time("reset_at", resetAt))
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		resp, err := c.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}

		zap.L().Warn("llm.FallbackClient: backend failed",
			zap.String("backend", f.names[i]), zap.String("kind", string(req.Kind)), zap.Error(err))
		lastErr = err

		var rlErr *RateLimitError
		if errors.As(err, &rlErr) {
			resetAt := now.Add(rlErr.RetryAfter)
			f.circuits[i].open(resetAt)
			if earliestReset.IsZero() || resetAt.Before(earliestReset) {
				earliestReset = resetAt
			}
		} else {
			allRateLimited = false
		}
	}

	if lastErr == nil || allRateLimited {
		retryAfter := earliestReset.Sub(f.now())
		if retryAfter < time.Second {
			retryAfter = time.Second
		}
		return nil, NewRateLimitError("all", fmt.Errorf("all backends rate limited"), int(retryAfter.Seconds()))
	}

	return nil, fmt.Errorf("all backends failed: %w", lastErr)
}
