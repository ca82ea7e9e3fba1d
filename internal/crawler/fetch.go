package crawler

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const (
	defaultUserAgent      = "sitegraph-bot/0.1 (+https://github.com/JakeFAU/sitegraph)"
	defaultAccept         = "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8"
	defaultAcceptLanguage = "en-US,en;q=0.9"
)

// SitePageFetcher combines the rate limiter, a Fetcher, and an Extractor into
// a PageFetcher.
type SitePageFetcher struct {
	limiter   Limiter
	fetcher   Fetcher
	extractor Extractor
	clock     Clock
	headers   http.Header
	logger    *zap.Logger
}

// NewSitePageFetcher builds a SitePageFetcher sending the fixed header set
// with userAgent.
func NewSitePageFetcher(
	limiter Limiter,
	fetcher Fetcher,
	extractor Extractor,
	clock Clock,
	userAgent string,
	logger *zap.Logger,
) *SitePageFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if userAgent == "" {
		userAgent = defaultUserAgent
	}
	headers := http.Header{}
	headers.Set("User-Agent", userAgent)
	headers.Set("Accept", defaultAccept)
	headers.Set("Accept-Language", defaultAcceptLanguage)
	return &SitePageFetcher{
		limiter:   limiter,
		fetcher:   fetcher,
		extractor: extractor,
		clock:     clock,
		headers:   headers,
		logger:    logger,
	}
}

// FetchPage fetches and parses rawURL. Any failure, including cancellation,
// is reported through the returned record.
func (f *SitePageFetcher) FetchPage(ctx context.Context, rawURL, baseDomain string) PageRecord {
	rec := PageRecord{
		URL:       rawURL,
		Path:      NormalizePath(rawURL),
		Keywords:  []string{},
		Links:     []string{},
		FetchedAt: f.now(),
	}
	if f.limiter != nil {
		if err := f.limiter.Wait(ctx); err != nil {
			return f.fail(rec, baseDomain, fmt.Errorf("rate limit wait: %w", err))
		}
	}
	resp, err := f.fetcher.Fetch(ctx, FetchRequest{URL: rawURL, Headers: f.headers.Clone()})
	if err != nil {
		return f.fail(rec, baseDomain, err)
	}
	rec.StatusCode = resp.StatusCode
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return f.fail(rec, baseDomain, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return f.fail(rec, baseDomain, fmt.Errorf("unsupported content type %q", ct))
	}

	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return f.fail(rec, baseDomain, fmt.Errorf("parse url: %w", err))
	}
	if resp.URL != "" {
		if final, perr := url.Parse(resp.URL); perr == nil {
			if baseDomain != "" && !strings.EqualFold(final.Hostname(), baseDomain) {
				return f.fail(rec, baseDomain, fmt.Errorf("redirected off domain to %s", final.Hostname()))
			}
			pageURL = final
		}
	}

	ext, err := f.extractor.Extract(resp.Body, pageURL)
	if err != nil {
		return f.fail(rec, baseDomain, fmt.Errorf("extract: %w", err))
	}
	rec.Title = ext.Title
	rec.Description = ext.Description
	if ext.Keywords != nil {
		rec.Keywords = ext.Keywords
	}
	if ext.Links != nil {
		rec.Links = ext.Links
	}
	rec.Content = ext.Content
	rec.Success = true
	metrics.ObservePage(baseDomain, "success", len(resp.Body))
	return rec
}

func (f *SitePageFetcher) fail(rec PageRecord, baseDomain string, err error) PageRecord {
	rec.Success = false
	rec.Error = err.Error()
	metrics.ObservePage(baseDomain, "error", 0)
	f.logger.Debug("page fetch failed", zap.String("url", rec.URL), zap.Error(err))
	return rec
}

func (f *SitePageFetcher) now() time.Time {
	if f.clock == nil {
		return time.Now().UTC()
	}
	return f.clock.Now()
}
