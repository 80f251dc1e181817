// Package retry implements the full-jitter exponential backoff policy
// shared by the Fetch Worker and Persistence actors for transient errors.
package retry

import (
	"context"
	"crypto/rand"
	"errors"
	"math"
	"math/big"
	"net"
	"time"

	"github.com/lexatlas/acquisition-pipeline/internal/pipeline"
)

// Policy decides whether a failed attempt should be retried and how long
// to wait before the next one.
type Policy struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// NewPolicy builds the default policy: base 1s, factor 2, cap 30s, 3
// attempts, matching spec.md §4.4/§9.
func NewPolicy() *Policy {
	return &Policy{
		MaxAttempts: 3,
		BaseDelay:   time.Second,
		MaxDelay:    30 * time.Second,
	}
}

// ShouldRetry reports whether err is transient and attempt has budget
// remaining. Cancellation is never retried.
func (p *Policy) ShouldRetry(err error, attempt int) bool {
	if err == nil {
		return false
	}
	if attempt >= p.MaxAttempts {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var statusErr *pipeline.StatusError
	if errors.As(err, &statusErr) {
		// 4xx is a terminal client error; 5xx is treated as transient
		// server trouble worth retrying.
		return statusErr.StatusCode/100 == 5
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return true
}

// Backoff returns a full-jitter wait duration for the given 0-indexed
// attempt: sleep = random(0, base*2^attempt), capped at MaxDelay.
func (p *Policy) Backoff(attempt int) time.Duration {
	upper := float64(p.BaseDelay) * math.Pow(2, float64(attempt))
	if upper > float64(p.MaxDelay) {
		upper = float64(p.MaxDelay)
	}
	if upper <= 0 {
		return 0
	}
	bound := big.NewInt(int64(upper))
	n, err := rand.Int(rand.Reader, bound)
	if err != nil {
		return time.Duration(upper) / 2
	}
	return time.Duration(n.Int64())
}

// Sleep waits for d or until ctx is cancelled, whichever comes first.
// Cancellation during backoff returns immediately, per spec.md §4.4.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
