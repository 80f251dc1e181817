// Package ratelimit implements the token-bucket gate shared by every
// Fetcher (and Discovery's index pagination) belonging to a single source.
package ratelimit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/lexatlas/acquisition-pipeline/internal/telemetry"
)

// Config holds the per-source rate and burst.
type Config struct {
	RequestsPerSecond float64
	Burst             int
}

// Registry hands out one *rate.Limiter per source_id, lazily created on
// first use. Unlike a per-host limiter, the sharing key here is the source:
// spec.md scopes rate limiting to "shared per source (not per host)".
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{limiters: make(map[string]*rate.Limiter)}
}

// Limiter returns (creating if necessary) the token bucket for sourceID.
func (r *Registry) Limiter(sourceID string, cfg Config) *Limiter {
	r.mu.Lock()
	defer r.mu.Unlock()
	rl, ok := r.limiters[sourceID]
	if !ok {
		limit := rate.Limit(cfg.RequestsPerSecond)
		if cfg.RequestsPerSecond <= 0 {
			// R=0 must block all fetches until cancelled, per spec.md §8.
			limit = 0
		}
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		rl = rate.NewLimiter(limit, burst)
		r.limiters[sourceID] = rl
	}
	return &Limiter{sourceID: sourceID, inner: rl}
}

// Limiter gates callers belonging to one source behind a token bucket.
type Limiter struct {
	sourceID string
	inner    *rate.Limiter
}

// Acquire blocks until a token is available or ctx is done. A cancelled
// context returns a wrapped context.Canceled/DeadlineExceeded without
// consuming a token, matching spec.md's "Cancelled" contract.
func (l *Limiter) Acquire(ctx context.Context) error {
	if l.inner.Limit() == 0 {
		<-ctx.Done()
		return fmt.Errorf("rate limit acquire for source %s: %w", l.sourceID, ctx.Err())
	}
	start := time.Now()
	err := l.inner.Wait(ctx)
	if err != nil {
		return fmt.Errorf("rate limit acquire for source %s: %w", l.sourceID, err)
	}
	if waited := time.Since(start); waited > time.Millisecond {
		telemetry.ObserveRateLimitDelay(l.sourceID, waited)
	}
	return nil
}
