package headless

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Detector decides whether a static response needs a browser render.
type Detector interface {
	ShouldPromote(resp crawler.FetchResponse) bool
}

// PromotingFetcher fetches with a static fetcher first and re-renders the page
// with the headless fetcher when the detector flags it. A failed render falls
// back to the static response.
type PromotingFetcher struct {
	static   crawler.Fetcher
	headless crawler.Fetcher
	detector Detector
	logger   *zap.Logger
}

var _ crawler.Fetcher = (*PromotingFetcher)(nil)

// NewPromotingFetcher wires the static and headless fetchers.
func NewPromotingFetcher(static, headless crawler.Fetcher, detector Detector, logger *zap.Logger) *PromotingFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PromotingFetcher{static: static, headless: headless, detector: detector, logger: logger}
}

// Fetch implements crawler.Fetcher.
func (p *PromotingFetcher) Fetch(ctx context.Context, request crawler.FetchRequest) (crawler.FetchResponse, error) {
	resp, err := p.static.Fetch(ctx, request)
	if err != nil || p.detector == nil || !p.detector.ShouldPromote(resp) {
		return resp, err
	}
	rendered, herr := p.headless.Fetch(ctx, request)
	if herr != nil {
		if ctx.Err() != nil {
			return crawler.FetchResponse{}, herr
		}
		p.logger.Warn("headless render failed; using static response",
			zap.String("url", request.URL), zap.Error(herr))
		return resp, nil
	}
	return rendered, nil
}
