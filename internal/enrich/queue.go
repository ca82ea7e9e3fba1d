// Package enrich labels discovered paths through an upstream completion API,
// gated by a global token bucket and one bucket per session.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/metrics"
)

// Bucket defaults: 50 calls per minute process-wide, 20 per session.
const (
	DefaultGlobalLimit  = 50
	DefaultSessionLimit = 20
	DefaultWindow       = 60 * time.Second
)

// QueueConfig sizes the buckets.
type QueueConfig struct {
	GlobalLimit     int
	SessionLimit    int
	Window          time.Duration
	MaxContentChars int
	// Model is stamped on every record.
	Model string
}

// Queue serializes enrichment calls per session. Each session owns a FIFO
// drained by one goroutine; a job is dispatched only when both the global
// bucket and the session bucket admit it.
type Queue struct {
	cfg       QueueConfig
	completer Completer
	clock     crawler.Clock
	logger    *zap.Logger

	mu       sync.Mutex
	global   *TokenBucket
	sessions map[string]*sessionQueue
}

type sessionQueue struct {
	bucket  *TokenBucket
	jobs    []*pending
	running bool
	// released is closed by Release to wake a sleeping drain loop.
	released chan struct{}
}

type pending struct {
	ctx  context.Context
	job  Job
	done chan outcome
}

type outcome struct {
	rec Record
	err error
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now().UTC() }

// NewQueue builds a Queue. A nil clock uses wall time.
func NewQueue(cfg QueueConfig, completer Completer, clock crawler.Clock, logger *zap.Logger) *Queue {
	if cfg.GlobalLimit == 0 {
		cfg.GlobalLimit = DefaultGlobalLimit
	}
	if cfg.SessionLimit == 0 {
		cfg.SessionLimit = DefaultSessionLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.MaxContentChars <= 0 {
		cfg.MaxContentChars = DefaultMaxContentChars
	}
	if clock == nil {
		clock = systemClock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{
		cfg:       cfg,
		completer: completer,
		clock:     clock,
		logger:    logger,
		global:    NewTokenBucket(cfg.GlobalLimit, cfg.Window),
		sessions:  make(map[string]*sessionQueue),
	}
}

// Model returns the model id stamped on records.
func (q *Queue) Model() string {
	return q.cfg.Model
}

// Enqueue appends job to the session's FIFO and blocks until it has been
// processed, discarded, or released. ctx is the session context; once it is
// cancelled every queued job for the session is discarded with ErrCanceled.
func (q *Queue) Enqueue(ctx context.Context, sessionID string, job Job) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, fmt.Errorf("%w: %w", ErrCanceled, err)
	}
	p := &pending{ctx: ctx, job: job, done: make(chan outcome, 1)}

	q.mu.Lock()
	sq := q.sessions[sessionID]
	if sq == nil {
		sq = &sessionQueue{
			bucket:   NewTokenBucket(q.cfg.SessionLimit, q.cfg.Window),
			released: make(chan struct{}),
		}
		q.sessions[sessionID] = sq
	}
	sq.jobs = append(sq.jobs, p)
	if !sq.running {
		sq.running = true
		go q.drain(sessionID, sq)
	}
	q.mu.Unlock()

	out := <-p.done
	return out.rec, out.err
}

// Release drops the session's bucket and queue. Jobs still waiting receive
// ErrReleased. Safe to call for unknown ids and more than once.
func (q *Queue) Release(sessionID string) {
	q.mu.Lock()
	sq := q.sessions[sessionID]
	if sq == nil {
		q.mu.Unlock()
		return
	}
	delete(q.sessions, sessionID)
	jobs := sq.jobs
	sq.jobs = nil
	close(sq.released)
	q.mu.Unlock()

	for _, p := range jobs {
		p.done <- outcome{err: ErrReleased}
	}
}

// Sessions returns the number of sessions holding a bucket.
func (q *Queue) Sessions() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.sessions)
}

func (q *Queue) drain(sessionID string, sq *sessionQueue) {
	logger := q.logger.With(zap.String("session_id", sessionID))
	for {
		q.mu.Lock()
		if q.sessions[sessionID] != sq {
			q.mu.Unlock()
			return
		}
		if len(sq.jobs) == 0 {
			sq.running = false
			q.mu.Unlock()
			return
		}
		head := sq.jobs[0]
		if head.ctx.Err() != nil {
			discarded := sq.jobs
			sq.jobs = nil
			sq.running = false
			q.mu.Unlock()
			logger.Debug("discarding queued enrichment jobs", zap.Int("jobs", len(discarded)))
			for _, p := range discarded {
				metrics.ObserveEnrichment("canceled")
				p.done <- outcome{err: ErrCanceled}
			}
			return
		}
		wait, ok := q.admit(sq, q.clock.Now())
		if !ok {
			q.mu.Unlock()
			logger.Debug("enrichment budget exhausted", zap.Duration("wait", wait))
			metrics.ObserveRateLimitDelay("enrichment", wait)
			q.sleep(head.ctx, sq.released, wait)
			continue
		}
		sq.jobs = sq.jobs[1:]
		q.mu.Unlock()

		rec, err := q.process(head.ctx, head.job)
		head.done <- outcome{rec: rec, err: err}
	}
}

// admit records a dispatch in both buckets when both permit one. Otherwise
// it returns the wait until every blocking bucket has a free slot. Callers
// hold q.mu.
func (q *Queue) admit(sq *sessionQueue, now time.Time) (time.Duration, bool) {
	globalOK := q.global.CanDispatch(now)
	sessionOK := sq.bucket.CanDispatch(now)
	if globalOK && sessionOK {
		q.global.Record(now)
		sq.bucket.Record(now)
		return 0, true
	}
	var wait time.Duration
	if !globalOK {
		wait = max(wait, q.global.ResetIn(now))
	}
	if !sessionOK {
		wait = max(wait, sq.bucket.ResetIn(now))
	}
	return wait, false
}

func (q *Queue) sleep(ctx context.Context, released <-chan struct{}, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-released:
	case <-timer.C:
	}
}

func (q *Queue) process(ctx context.Context, job Job) (Record, error) {
	text, err := q.completer.Complete(ctx, BuildPrompt(job, q.cfg.MaxContentChars))
	if err != nil {
		switch {
		case errors.Is(err, ErrRateLimited):
			metrics.ObserveEnrichment("rate_limited")
			return Record{}, err
		case ctx.Err() != nil || errors.Is(err, ErrCanceled):
			metrics.ObserveEnrichment("canceled")
			if errors.Is(err, ErrCanceled) {
				return Record{}, err
			}
			return Record{}, fmt.Errorf("%w: %w", ErrCanceled, err)
		default:
			metrics.ObserveEnrichment("error")
			return Record{}, fmt.Errorf("enrich %s: %w", job.Path, err)
		}
	}
	metrics.ObserveEnrichment("success")
	return Parse(text).Record(job.Path, q.cfg.Model, q.clock.Now()), nil
}
