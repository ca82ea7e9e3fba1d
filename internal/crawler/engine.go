package crawler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// ErrCanceled is returned by Engine.Crawl when the session was cancelled.
// Callers treat it as an outcome, not a failure.
var ErrCanceled = errors.New("crawl canceled")

// EngineConfig controls traversal behavior.
type EngineConfig struct {
	// Delay is the politeness pause after every hop, independent of the
	// fetch rate limiter.
	Delay time.Duration
}

// Engine drives a breadth-first traversal of one site.
type Engine struct {
	pages  PageFetcher
	pauser pauseController
	cfg    EngineConfig
	logger *zap.Logger
}

type frontierEntry struct {
	url   string
	depth int
}

// NewEngine wires the engine dependencies.
func NewEngine(pages PageFetcher, cfg EngineConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		pages:  pages,
		pauser: &timerPauseController{},
		cfg:    cfg,
		logger: logger,
	}
}

// Crawl visits the site rooted at req.BaseURL. It stops when the frontier is
// exhausted or max(req.MaxPages, 1) pages were visited. Per-page failures are
// recorded and never abort the run; cancellation returns ErrCanceled.
func (e *Engine) Crawl(ctx context.Context, req Request, obs Observer) (Result, error) {
	base, err := ParseBaseURL(req.BaseURL)
	if err != nil {
		return Result{}, err
	}
	baseURL := base.String()
	domain := Hostname(baseURL)
	maxPages := max(req.MaxPages, 1)

	visited := newVisitTracker()
	discovered := newVisitTracker()
	discovered.MarkIfNew(baseURL)
	frontier := []frontierEntry{{url: baseURL, depth: 0}}
	pages := make([]PageRecord, 0, maxPages)
	linksFound := 0

	logger := e.logger.With(zap.String("base_url", baseURL))
	logger.Debug("crawl started", zap.Int("max_depth", req.MaxDepth), zap.Int("max_pages", maxPages))

	for len(frontier) > 0 && visited.Len() < maxPages {
		if err := ctx.Err(); err != nil {
			logger.Info("crawl canceled", zap.Int("visited", visited.Len()))
			return Result{}, fmt.Errorf("%w: %w", ErrCanceled, err)
		}
		entry := frontier[0]
		frontier = frontier[1:]
		if visited.Has(entry.url) || entry.depth > req.MaxDepth {
			continue
		}
		visited.MarkIfNew(entry.url)

		page := e.pages.FetchPage(ctx, entry.url, domain)
		pages = append(pages, page)
		if page.Success {
			linksFound += len(page.Links)
			for _, link := range page.Links {
				key, abs, ok := resolveLink(base, link)
				if !ok || !sameHost(abs, base) {
					continue
				}
				if visited.Has(key) || !discovered.MarkIfNew(key) {
					continue
				}
				frontier = append(frontier, frontierEntry{url: key, depth: entry.depth + 1})
			}
		} else {
			logger.Debug("page fetch failed", zap.String("url", entry.url), zap.String("error", page.Error))
		}
		if obs != nil {
			obs.PageVisited(visited.Len(), page)
		}
		e.pauser.Pause(ctx, e.cfg.Delay)
	}
	// A cancel during the final fetch is still a cancellation.
	if err := ctx.Err(); err != nil {
		logger.Info("crawl canceled", zap.Int("visited", visited.Len()))
		return Result{}, fmt.Errorf("%w: %w", ErrCanceled, err)
	}

	result := Result{
		BaseURL:           baseURL,
		Domain:            domain,
		Pages:             pages,
		Discovered:        append([]string(nil), discovered.order...),
		TotalPagesCrawled: visited.Len(),
		TotalLinksFound:   linksFound,
		PendingCount:      discovered.Len() - countVisited(discovered.order, visited),
	}
	result.Paths = DiscoveredPaths(result.Discovered, domain)
	result.UniquePathsFound = len(result.Paths)
	result.PathMetadata = MatchPathMetadata(result.Paths, pages)
	logger.Info("crawl finished",
		zap.Int("pages", result.TotalPagesCrawled),
		zap.Int("links", result.TotalLinksFound),
		zap.Int("paths", result.UniquePathsFound),
	)
	return result, nil
}

func countVisited(urls []string, visited *visitTracker) int {
	n := 0
	for _, u := range urls {
		if visited.Has(u) {
			n++
		}
	}
	return n
}
