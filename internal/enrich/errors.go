package enrich

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrRateLimited marks an upstream 429. Callers stop enriching the
	// request instead of moving on to the next path.
	ErrRateLimited = errors.New("enrichment rate limited")
	// ErrCanceled is returned to jobs discarded because their session was cancelled.
	ErrCanceled = errors.New("enrichment canceled")
	// ErrReleased is returned to jobs still queued when their session was released.
	ErrReleased = errors.New("enrichment session released")
)

// RateLimitError carries the upstream rate-limit details. It matches
// ErrRateLimited under errors.Is.
type RateLimitError struct {
	StatusCode int
	RetryAfter time.Duration
	Message    string
}

func (e *RateLimitError) Error() string {
	msg := fmt.Sprintf("enrichment rate limited (status %d)", e.StatusCode)
	if e.RetryAfter > 0 {
		msg += fmt.Sprintf(", retry after %s", e.RetryAfter)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	return msg
}

// Is reports whether target is ErrRateLimited.
func (e *RateLimitError) Is(target error) bool {
	return target == ErrRateLimited
}
