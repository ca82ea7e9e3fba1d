// Package crawler defines core types shared across subsystems.
package crawler

import (
	"net/http"
	"time"
)

// PageRecord is produced once per visited URL. It is never mutated after the
// fetch that created it returns.
type PageRecord struct {
	URL         string    `json:"url"`
	Path        string    `json:"path"`
	Title       string    `json:"title"`
	Description string    `json:"description"`
	Keywords    []string  `json:"keywords"`
	Content     string    `json:"content"`
	Links       []string  `json:"links"`
	Success     bool      `json:"success"`
	Error       string    `json:"error,omitempty"`
	StatusCode  int       `json:"statusCode,omitempty"`
	FetchedAt   time.Time `json:"fetchedAt"`
}

// PathMetadata pairs a discovered path with the metadata of the page that
// shares its normalized form. Fields are empty when no page matched.
type PathMetadata struct {
	Path        string   `json:"path"`
	URL         string   `json:"url,omitempty"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Request captures the knobs for a single traversal run.
type Request struct {
	BaseURL  string
	MaxDepth int
	MaxPages int
}

// Result is the aggregate output of one traversal run.
type Result struct {
	BaseURL           string         `json:"baseUrl"`
	Domain            string         `json:"domain"`
	Pages             []PageRecord   `json:"pages"`
	Discovered        []string       `json:"-"`
	Paths             []string       `json:"paths"`
	PathMetadata      []PathMetadata `json:"pathMetadata"`
	TotalPagesCrawled int            `json:"totalPagesCrawled"`
	TotalLinksFound   int            `json:"totalLinksFound"`
	UniquePathsFound  int            `json:"uniquePathsFound"`
	// PendingCount is the number of discovered URLs left uncrawled when a cap
	// stopped the run.
	PendingCount int `json:"pendingCount"`
}

// FetchRequest captures everything needed to fetch a URL.
type FetchRequest struct {
	URL     string
	Headers http.Header
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
}

// Extracted is the structured view of a parsed HTML document.
type Extracted struct {
	Title       string
	Description string
	Keywords    []string
	Links       []string
	Content     string
}
