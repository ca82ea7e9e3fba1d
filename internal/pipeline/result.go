package pipeline

import (
	"time"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/enrich"
)

// PathSelection marks a discovered path as allowed for the selected bots.
type PathSelection struct {
	Path        string `json:"path"`
	Allow       bool   `json:"allow"`
	Description string `json:"description"`
}

// Gating reports how the page cap was decided for the caller.
type Gating struct {
	IsDemo    bool `json:"isDemo"`
	PageLimit int  `json:"pageLimit"`
	// RemainingPages counts discovered pages left uncrawled by the demo cap.
	RemainingPages int `json:"remainingPages"`
}

// Result is the aggregate handed to the caller and the downstream handlers
// once per successful session. It is never mutated after Run builds it.
type Result struct {
	SessionID         string                 `json:"sessionId"`
	URL               string                 `json:"url"`
	Domain            string                 `json:"domain"`
	CrawledAt         time.Time              `json:"crawledAt"`
	DurationMillis    int64                  `json:"durationMs"`
	TotalPagesCrawled int                    `json:"totalPagesCrawled"`
	TotalLinksFound   int                    `json:"totalLinksFound"`
	UniquePathsFound  int                    `json:"uniquePathsFound"`
	Paths             []PathSelection        `json:"paths"`
	PathMetadata      []crawler.PathMetadata `json:"pathMetadata"`
	Pages             []crawler.PageRecord   `json:"pages"`
	Enrichment        []enrich.Record        `json:"enrichment,omitempty"`
	SelectedBots      []string               `json:"selectedBots"`
	Gating            Gating                 `json:"gating"`
}

func buildResult(req Request, crawl crawler.Result, records []enrich.Record, start, end time.Time) Result {
	paths := make([]PathSelection, 0, len(crawl.Paths))
	for _, p := range crawl.Paths {
		paths = append(paths, PathSelection{Path: p, Allow: true, Description: DescribePath(p)})
	}
	gating := Gating{IsDemo: req.Demo, PageLimit: max(req.PageLimit, 1)}
	if req.Demo {
		gating.RemainingPages = crawl.PendingCount
	}
	return Result{
		SessionID:         req.SessionID,
		URL:               crawl.BaseURL,
		Domain:            crawl.Domain,
		CrawledAt:         start,
		DurationMillis:    end.Sub(start).Milliseconds(),
		TotalPagesCrawled: crawl.TotalPagesCrawled,
		TotalLinksFound:   crawl.TotalLinksFound,
		UniquePathsFound:  crawl.UniquePathsFound,
		Paths:             paths,
		PathMetadata:      crawl.PathMetadata,
		Pages:             crawl.Pages,
		Enrichment:        records,
		SelectedBots:      req.selectedBots(),
		Gating:            gating,
	}
}
