package enrich

import "time"

// TokenBucket admits at most Limit dispatches in any interval of length
// Window. It keeps the dispatch times still inside the window; all methods
// take the current time explicitly and never read a clock. Not safe for
// concurrent use; Queue guards its buckets with a mutex.
type TokenBucket struct {
	Limit  int
	Window time.Duration

	stamps []time.Time
}

// NewTokenBucket returns an empty bucket. A limit <= 0 admits everything.
func NewTokenBucket(limit int, window time.Duration) *TokenBucket {
	return &TokenBucket{Limit: limit, Window: window}
}

func (b *TokenBucket) prune(now time.Time) {
	cutoff := now.Add(-b.Window)
	i := 0
	for i < len(b.stamps) && !b.stamps[i].After(cutoff) {
		i++
	}
	if i > 0 {
		b.stamps = append(b.stamps[:0], b.stamps[i:]...)
	}
}

// CanDispatch reports whether a dispatch at now stays within the limit.
func (b *TokenBucket) CanDispatch(now time.Time) bool {
	if b.Limit <= 0 {
		return true
	}
	b.prune(now)
	return len(b.stamps) < b.Limit
}

// Record notes a dispatch at now.
func (b *TokenBucket) Record(now time.Time) {
	if b.Limit <= 0 {
		return
	}
	b.prune(now)
	b.stamps = append(b.stamps, now)
}

// Count returns the dispatches inside the window ending at now.
func (b *TokenBucket) Count(now time.Time) int {
	b.prune(now)
	return len(b.stamps)
}

// WindowStart returns the oldest dispatch still inside the window, or now
// when the window is empty.
func (b *TokenBucket) WindowStart(now time.Time) time.Time {
	b.prune(now)
	if len(b.stamps) == 0 {
		return now
	}
	return b.stamps[0]
}

// ResetIn returns how long until CanDispatch turns true; zero when it
// already is.
func (b *TokenBucket) ResetIn(now time.Time) time.Duration {
	if b.CanDispatch(now) {
		return 0
	}
	// The slot frees when the oldest of the newest Limit stamps ages out.
	oldest := b.stamps[len(b.stamps)-b.Limit]
	wait := oldest.Add(b.Window).Sub(now)
	if wait <= 0 {
		return time.Nanosecond
	}
	return wait
}
