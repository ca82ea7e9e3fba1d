package crawler

import (
	"context"
	"time"
)

// visitTracker records URLs for a single traversal run. The set only grows.
type visitTracker struct {
	seen  map[string]struct{}
	order []string
}

func newVisitTracker() *visitTracker {
	return &visitTracker{seen: make(map[string]struct{})}
}

// MarkIfNew stores the URL if it has not been seen before and returns true.
func (t *visitTracker) MarkIfNew(url string) bool {
	if url == "" {
		return false
	}
	if _, ok := t.seen[url]; ok {
		return false
	}
	t.seen[url] = struct{}{}
	t.order = append(t.order, url)
	return true
}

// Has reports whether url was marked.
func (t *visitTracker) Has(url string) bool {
	_, ok := t.seen[url]
	return ok
}

// Len returns the number of marked URLs.
func (t *visitTracker) Len() int {
	return len(t.order)
}

// pauseController abstracts how the crawler waits between hops.
type pauseController interface {
	Pause(ctx context.Context, delay time.Duration)
}

type timerPauseController struct{}

func (p *timerPauseController) Pause(ctx context.Context, delay time.Duration) {
	if delay <= 0 {
		return
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}
