package crawler

import (
	"context"
	"net/url"
	"time"
)

// Fetcher fetches a URL and returns the body plus metadata.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Extractor parses a fetched document relative to its URL.
type Extractor interface {
	Extract(body []byte, pageURL *url.URL) (Extracted, error)
}

// Limiter gates outbound fetches.
type Limiter interface {
	Wait(ctx context.Context) error
}

// PageFetcher retrieves and parses one page. Implementations report failures
// inside the returned record instead of returning an error.
type PageFetcher interface {
	FetchPage(ctx context.Context, rawURL, baseDomain string) PageRecord
}

// Observer is notified after every visited page.
type Observer interface {
	PageVisited(count int, page PageRecord)
}

// ObserverFunc adapts a function to the Observer interface.
type ObserverFunc func(count int, page PageRecord)

// PageVisited calls f.
func (f ObserverFunc) PageVisited(count int, page PageRecord) {
	f(count, page)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces session IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}

// Hasher computes digests used to name persisted artifacts.
type Hasher interface {
	Hash(data []byte) (string, error)
}
