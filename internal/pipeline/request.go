package pipeline

import (
	"errors"
	"fmt"
	"strings"

	"github.com/JakeFAU/sitegraph/internal/crawler"
)

// Request limits.
const (
	MaxSessionIDLength = 128
	MaxBots            = 20
)

// ErrInvalidRequest wraps every validation failure.
var ErrInvalidRequest = errors.New("invalid request")

// Request is one caller's crawl order.
type Request struct {
	URL          string   `json:"url"`
	Bots         []string `json:"bots,omitempty"`
	AIEnrichment bool     `json:"aiEnrichment"`
	SessionID    string   `json:"sessionId"`
	// MaxDepth overrides the configured depth when set.
	MaxDepth *int `json:"maxDepth,omitempty"`

	// PageLimit and Demo are decided by the caller's authentication, never
	// by the request body.
	PageLimit int  `json:"-"`
	Demo      bool `json:"-"`
}

// Validate checks the request before any session state is created.
func (r Request) Validate() error {
	if strings.TrimSpace(r.URL) == "" {
		return fmt.Errorf("%w: url is required", ErrInvalidRequest)
	}
	if _, err := crawler.ParseBaseURL(r.URL); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if strings.TrimSpace(r.SessionID) == "" {
		return fmt.Errorf("%w: sessionId is required", ErrInvalidRequest)
	}
	if len(r.SessionID) > MaxSessionIDLength {
		return fmt.Errorf("%w: sessionId exceeds %d characters", ErrInvalidRequest, MaxSessionIDLength)
	}
	if len(r.Bots) > MaxBots {
		return fmt.Errorf("%w: at most %d bots may be selected", ErrInvalidRequest, MaxBots)
	}
	for i, bot := range r.Bots {
		if strings.TrimSpace(bot) == "" {
			return fmt.Errorf("%w: bots[%d] is empty", ErrInvalidRequest, i)
		}
	}
	if r.MaxDepth != nil && *r.MaxDepth < 0 {
		return fmt.Errorf("%w: maxDepth must be >= 0", ErrInvalidRequest)
	}
	return nil
}

func (r Request) selectedBots() []string {
	if len(r.Bots) == 0 {
		return []string{"*"}
	}
	out := make([]string, 0, len(r.Bots))
	for _, bot := range r.Bots {
		out = append(out, strings.TrimSpace(bot))
	}
	return out
}
