// Package ratelimit implements the process-wide fetch rate limiter shared by
// every crawl session.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const metricLabel = "fetch"

// Limiter spaces outbound fetches by a minimum interval. The first dispatch
// is immediate; every later one waits until the interval has elapsed since
// the previous dispatch.
type Limiter struct {
	limiter *rate.Limiter
}

var _ crawler.Limiter = (*Limiter)(nil)

// Config holds rate limiter configuration.
type Config struct {
	// RequestsPerSecond is the target rate. Zero or negative disables throttling.
	RequestsPerSecond float64
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Every(time.Duration(float64(time.Second) / cfg.RequestsPerSecond))
	}
	return &Limiter{limiter: rate.NewLimiter(limit, 1)}
}

// Interval reports the minimum spacing between dispatches (zero when unthrottled).
func (l *Limiter) Interval() time.Duration {
	if l.limiter.Limit() == rate.Inf {
		return 0
	}
	return time.Duration(float64(time.Second) / float64(l.limiter.Limit()))
}

// Wait blocks until the next dispatch slot, respecting the context.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	// Immediate grants are not interesting.
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(metricLabel, d)
	}
	return nil
}
