// Package detector decides when a statically fetched page should be re-rendered
// in a headless browser before its links are extracted.
package detector

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

const defaultBodyLengthThreshold = 2048

// Heuristic flags single-page-app shells: empty bodies, framework mount
// points, and small documents dominated by script tags.
type Heuristic struct {
	BodyLengthThreshold int
}

// NewHeuristic creates a new detector. A zero threshold uses 2048 bytes.
func NewHeuristic(threshold int) *Heuristic {
	if threshold <= 0 {
		threshold = defaultBodyLengthThreshold
	}
	return &Heuristic{BodyLengthThreshold: threshold}
}

var spaMarkers = [][]byte{
	[]byte("__next"),
	[]byte("id=\"root\""),
	[]byte("id=\"app\""),
	[]byte("data-reactroot"),
	[]byte("ng-version"),
	[]byte("data-server-rendered"),
}

// ShouldPromote reports whether resp looks like a client-rendered shell.
// Only successful HTML responses are candidates.
func (h *Heuristic) ShouldPromote(resp crawler.FetchResponse) bool {
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return false
	}
	if ct := resp.Headers.Get("Content-Type"); ct != "" && !strings.Contains(strings.ToLower(ct), "html") {
		return false
	}
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	if len(body) < h.BodyLengthThreshold && scriptShare(body) >= 25 {
		return true
	}
	for _, marker := range spaMarkers {
		if bytes.Contains(body, marker) {
			return true
		}
	}
	return false
}

// scriptShare returns the percentage of body covered by <script> elements.
// An unterminated tag counts through the end of the document.
func scriptShare(body []byte) int {
	lower := strings.ToLower(string(body))
	total := len(lower)
	if total == 0 {
		return 0
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	covered := 0
	pos := 0
	for {
		rel := strings.Index(lower[pos:], openTag)
		if rel == -1 {
			break
		}
		start := pos + rel
		end := total
		if gt := strings.IndexByte(lower[start:], '>'); gt != -1 {
			contentStart := start + gt + 1
			if relEnd := strings.Index(lower[contentStart:], closeTag); relEnd != -1 {
				end = contentStart + relEnd + len(closeTag)
			}
		}
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
