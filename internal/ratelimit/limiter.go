// Package ratelimit paces outbound batch writes to InfluxDB.
package ratelimit

import (
	"context"
	"sync"

	"golang.org/x/time/rate"
)

// Limiter caps how many batch writes go out per second. Writes queue one at
// a time, so the burst is fixed at one. A limit of zero means unlimited.
type Limiter struct {
	limiter *rate.Limiter
	mu      sync.RWMutex
}

// NewLimiter allows writesPerSec writes per second. Rates below one are
// valid: 0.5 paces one write every two seconds. Zero disables pacing.
func NewLimiter(writesPerSec float64) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(writesPerSec), 1),
	}
}

// Wait blocks until the next write may go out or the context ends.
func (l *Limiter) Wait(ctx context.Context) error {
	l.mu.RLock()
	limiter := l.limiter
	limit := limiter.Limit()
	l.mu.RUnlock()

	if limit == 0 {
		return nil
	}
	return limiter.Wait(ctx)
}

// SetRate changes the pacing at runtime. Zero disables pacing.
func (l *Limiter) SetRate(writesPerSec float64) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.limiter.SetLimit(rate.Limit(writesPerSec))
}
