package util

import (
	"context"
	"time"

	"golang.org/x/time/rate"
)

// Limiter paces outgoing calls to one endpoint with a token bucket.
type Limiter struct {
	inner *rate.Limiter
}

// NewLimiter allows perSecond calls per second with bursts of burst. A
// non-positive rate disables limiting.
func NewLimiter(perSecond float64, burst int) *Limiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst < 1 {
		burst = 1
	}
	return &Limiter{inner: rate.NewLimiter(limit, burst)}
}

// Allow takes a token if one is available now.
func (l *Limiter) Allow() bool {
	return l.inner.AllowN(time.Now(), 1)
}

// Wait blocks until a token is available or ctx ends.
func (l *Limiter) Wait(ctx context.Context) error {
	return l.inner.Wait(ctx)
}
