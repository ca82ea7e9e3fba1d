// Package pipeline drives one crawl session end to end: validation, session
// registration, the crawl phase, optional enrichment, and delivery of the
// final result to the caller and the downstream handlers.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/enrich"
	"github.com/JakeFAU/sitegraph/internal/metrics"
	"github.com/JakeFAU/sitegraph/internal/progress"
	"github.com/JakeFAU/sitegraph/internal/session"
)

// Config holds the per-session knobs that are not part of a Request.
type Config struct {
	MaxDepth int
	// MaxPages applies when a Request carries no PageLimit.
	MaxPages int

	HeartbeatInterval time.Duration
	HeartbeatStep     int
	// CrawlCeiling bounds the advisory crawl percent when enrichment follows.
	CrawlCeiling int
	// CrawlOnlyCeiling bounds it when the crawl is the whole job.
	CrawlOnlyCeiling     int
	EnrichmentBase       int
	EnrichmentSpan       int
	AsyncPromptThreshold int

	HandoffTimeout time.Duration
}

// DefaultConfig returns the stock pipeline settings.
func DefaultConfig() Config {
	return Config{
		MaxDepth:             3,
		MaxPages:             50,
		HeartbeatInterval:    2 * time.Second,
		HeartbeatStep:        3,
		CrawlCeiling:         45,
		CrawlOnlyCeiling:     90,
		EnrichmentBase:       50,
		EnrichmentSpan:       45,
		AsyncPromptThreshold: 20,
		HandoffTimeout:       30 * time.Second,
	}
}

// Crawler runs the traversal phase.
type Crawler interface {
	Crawl(ctx context.Context, req crawler.Request, obs crawler.Observer) (crawler.Result, error)
}

// Enricher runs the enrichment phase.
type Enricher interface {
	Enqueue(ctx context.Context, sessionID string, job enrich.Job) (enrich.Record, error)
	Release(sessionID string)
	Model() string
}

// Runner executes sessions. One Runner is shared by every session.
type Runner struct {
	cfg      Config
	crawler  Crawler
	enricher Enricher
	sessions *session.Registry
	results  ResultHandler
	handoff  ResultHandler
	tap      progress.Publisher
	clock    crawler.Clock
	logger   *zap.Logger

	inflight sync.WaitGroup
}

// Deps groups the Runner collaborators. Enricher, Results, Handoff, and Tap
// may be nil.
type Deps struct {
	Crawler  Crawler
	Enricher Enricher
	Sessions *session.Registry
	// Results records each Result before the result event is written, so a
	// caller that reads it back after the stream closes always finds it.
	Results ResultHandler
	// Handoff receives each Result in the background after the session has
	// been released.
	Handoff ResultHandler
	Tap      progress.Publisher
	Clock    crawler.Clock
	Logger   *zap.Logger
}

type utcClock struct{}

func (utcClock) Now() time.Time { return time.Now().UTC() }

// NewRunner wires a Runner.
func NewRunner(cfg Config, deps Deps) (*Runner, error) {
	if deps.Crawler == nil {
		return nil, errors.New("pipeline: crawler is required")
	}
	if deps.Sessions == nil {
		return nil, errors.New("pipeline: session registry is required")
	}
	if deps.Clock == nil {
		deps.Clock = utcClock{}
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	return &Runner{
		cfg:      cfg,
		crawler:  deps.Crawler,
		enricher: deps.Enricher,
		sessions: deps.Sessions,
		results:  deps.Results,
		handoff:  deps.Handoff,
		tap:      deps.Tap,
		clock:    deps.Clock,
		logger:   deps.Logger.Named("pipeline"),
	}, nil
}

// Sessions exposes the registry so callers can cancel by id.
func (r *Runner) Sessions() *session.Registry {
	return r.sessions
}

// Run drives one session and writes its events to sink. Exactly one terminal
// event is written. The returned Result is nil unless a result event was
// written; the error describes why not. Run returns once the result event is
// written and the session is released; the downstream handoff continues in
// the background until Wait reports it done.
func (r *Runner) Run(ctx context.Context, req Request, sink progress.Sink) (*Result, error) {
	logger := r.logger.With(zap.String("session_id", req.SessionID))
	emitter := progress.NewEmitter(ctx, req.SessionID, sink,
		progress.WithPublisher(r.tap),
		progress.WithLogger(logger),
		progress.WithClock(r.clock.Now),
	)

	if err := req.Validate(); err != nil {
		metrics.ObserveSession("invalid")
		emitter.Error(err.Error(), nil)
		return nil, err
	}

	sctx, _, err := r.sessions.Register(ctx, req.SessionID)
	if err != nil {
		metrics.ObserveSession("rejected")
		emitter.Error(err.Error(), map[string]any{"sessionId": req.SessionID})
		return nil, err
	}
	metrics.IncActiveSessions()
	defer metrics.DecActiveSessions()
	released := false
	release := func() {
		if released {
			return
		}
		released = true
		r.sessions.Release(req.SessionID)
		if r.enricher != nil {
			r.enricher.Release(req.SessionID)
		}
	}
	defer release()

	start := r.clock.Now()
	logger.Info("session started",
		zap.String("url", req.URL),
		zap.Bool("ai_enrichment", req.AIEnrichment),
		zap.Bool("demo", req.Demo))
	emitter.Progress(0, "Starting crawl")

	crawlRes, err := r.crawl(sctx, req, emitter)
	if err != nil {
		return nil, r.fail(logger, emitter, err)
	}

	var records []enrich.Record
	if req.AIEnrichment && r.enricher != nil {
		records, err = r.enrich(sctx, req, crawlRes, emitter, logger)
		if err != nil {
			return nil, r.fail(logger, emitter, err)
		}
	}
	if err := sctx.Err(); err != nil {
		return nil, r.fail(logger, emitter, fmt.Errorf("%w: %w", crawler.ErrCanceled, err))
	}

	result := buildResult(req, crawlRes, records, start, r.clock.Now())
	if r.results != nil {
		if err := r.results.Handle(context.WithoutCancel(ctx), result); err != nil {
			logger.Warn("record result failed", zap.Error(err))
		}
	}
	emitter.Progress(100, "Complete")
	emitter.Result(result)
	metrics.ObserveSession("success")
	logger.Info("session finished",
		zap.Int("pages", result.TotalPagesCrawled),
		zap.Int("paths", result.UniquePathsFound),
		zap.Int("enriched", len(records)))

	// The id is free for reuse and no longer cancellable once the result is out.
	release()

	if r.handoff != nil {
		r.inflight.Add(1)
		go func() {
			defer r.inflight.Done()
			r.deliver(ctx, result, logger)
		}()
	}
	return &result, nil
}

// Wait blocks until every background handoff has finished or ctx is done.
// Call it after new sessions have stopped arriving.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("wait for result handoff: %w", ctx.Err())
	}
}

// crawl runs the traversal with the heartbeat bound to the phase.
func (r *Runner) crawl(ctx context.Context, req Request, emitter *progress.Emitter) (crawler.Result, error) {
	ceiling := r.cfg.CrawlOnlyCeiling
	if req.AIEnrichment && r.enricher != nil {
		ceiling = r.cfg.CrawlCeiling
	}
	hb := progress.StartHeartbeat(emitter, progress.HeartbeatConfig{
		Interval: r.cfg.HeartbeatInterval,
		Step:     r.cfg.HeartbeatStep,
		Ceiling:  ceiling,
		Message:  "Crawling site",
	})
	defer hb.Stop()

	threshold := r.cfg.AsyncPromptThreshold
	obs := crawler.ObserverFunc(func(count int, _ crawler.PageRecord) {
		if threshold > 0 && count >= threshold {
			emitter.AsyncPrompt(fmt.Sprintf(
				"Crawled %d pages so far; large sites can take several minutes.", count))
		}
	})

	maxDepth := r.cfg.MaxDepth
	if req.MaxDepth != nil {
		maxDepth = *req.MaxDepth
	}
	pageLimit := req.PageLimit
	if pageLimit <= 0 {
		pageLimit = r.cfg.MaxPages
	}
	return r.crawler.Crawl(ctx, crawler.Request{
		BaseURL:  req.URL,
		MaxDepth: maxDepth,
		MaxPages: pageLimit,
	}, obs)
}

// enrich labels every discovered path in order, one upstream call at a time.
func (r *Runner) enrich(
	ctx context.Context,
	req Request,
	crawlRes crawler.Result,
	emitter *progress.Emitter,
	logger *zap.Logger,
) ([]enrich.Record, error) {
	total := len(crawlRes.Paths)
	records := make([]enrich.Record, 0, total)
	emitter.Progress(r.cfg.EnrichmentBase, fmt.Sprintf("Enriching %d paths", total))
	pages := pagesByPath(crawlRes.Pages)

	for i, path := range crawlRes.Paths {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %w", enrich.ErrCanceled, err)
		}
		page := pages[path]
		rec, err := r.enricher.Enqueue(ctx, req.SessionID, enrich.Job{
			Path:    path,
			URL:     page.URL,
			Title:   page.Title,
			Content: page.Content,
		})
		switch {
		case err == nil:
		case errors.Is(err, enrich.ErrRateLimited),
			errors.Is(err, enrich.ErrCanceled),
			errors.Is(err, enrich.ErrReleased):
			return nil, err
		default:
			logger.Warn("enrichment failed; using defaults", zap.String("path", path), zap.Error(err))
			rec = enrich.DefaultRecord(path, r.enricher.Model(), r.clock.Now())
		}
		records = append(records, rec)

		done := i + 1
		percent := r.cfg.EnrichmentBase +
			int(math.Round(float64(done)/float64(total)*float64(r.cfg.EnrichmentSpan)))
		emitter.Progress(percent, fmt.Sprintf("Enriched %d of %d paths", done, total))
	}
	return records, nil
}

// fail writes the terminal event matching err and returns err.
func (r *Runner) fail(logger *zap.Logger, emitter *progress.Emitter, err error) error {
	var rateErr *enrich.RateLimitError
	switch {
	case isCancellation(err):
		metrics.ObserveSession("cancelled")
		logger.Info("session cancelled")
		emitter.Cancelled("Crawl cancelled")
	case errors.As(err, &rateErr):
		metrics.ObserveSession("rate_limited")
		logger.Warn("enrichment rate limited", zap.Error(err))
		details := map[string]any{"statusCode": rateErr.StatusCode}
		if rateErr.RetryAfter > 0 {
			details["retryAfterSeconds"] = int(math.Ceil(rateErr.RetryAfter.Seconds()))
		}
		emitter.Error("AI enrichment rate limit exceeded", details)
	case errors.Is(err, enrich.ErrRateLimited):
		metrics.ObserveSession("rate_limited")
		logger.Warn("enrichment rate limited", zap.Error(err))
		emitter.Error("AI enrichment rate limit exceeded", nil)
	case errors.Is(err, crawler.ErrInvalidURL):
		metrics.ObserveSession("invalid")
		emitter.Error(err.Error(), nil)
	default:
		metrics.ObserveSession("error")
		logger.Error("session failed", zap.Error(err))
		emitter.Error(err.Error(), nil)
	}
	return err
}

func isCancellation(err error) bool {
	return errors.Is(err, crawler.ErrCanceled) ||
		errors.Is(err, enrich.ErrCanceled) ||
		errors.Is(err, enrich.ErrReleased) ||
		errors.Is(err, context.Canceled)
}

// deliver hands result to the downstream handlers on a context detached
// from the caller's connection.
func (r *Runner) deliver(ctx context.Context, result Result, logger *zap.Logger) {
	hctx := context.WithoutCancel(ctx)
	if r.cfg.HandoffTimeout > 0 {
		var cancel context.CancelFunc
		hctx, cancel = context.WithTimeout(hctx, r.cfg.HandoffTimeout)
		defer cancel()
	}
	if err := r.handoff.Handle(hctx, result); err != nil {
		logger.Warn("result handoff failed", zap.Error(err))
	}
}

// pagesByPath indexes pages by normalized path, preferring successful ones.
func pagesByPath(pages []crawler.PageRecord) map[string]crawler.PageRecord {
	out := make(map[string]crawler.PageRecord, len(pages))
	for _, page := range pages {
		if prev, ok := out[page.Path]; ok && prev.Success {
			continue
		}
		out[page.Path] = page
	}
	return out
}
