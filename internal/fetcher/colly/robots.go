package collyfetcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/sitegraph/internal/metrics"
)

const robotsCacheTTL = 10 * time.Minute

var robotsRetryBackoff = []time.Duration{
	250 * time.Millisecond,
	500 * time.Millisecond,
	time.Second,
}

// contextTransport binds every outbound request to the session context so a
// cancelled session aborts the in-flight fetch.
type contextTransport struct {
	ctx  context.Context
	base http.RoundTripper
}

func (t *contextTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("context transport received nil request")
	}
	if t.ctx == nil {
		return t.base.RoundTrip(req)
	}
	return t.base.RoundTrip(req.WithContext(t.ctx))
}

// robotsTransport caches robots.txt bodies per host and retries transient TLS
// failures, falling back to an allow-all document. Collectors are built per
// fetch, so without the cache every page would re-download robots.txt.
type robotsTransport struct {
	base  http.RoundTripper
	mu    sync.Mutex
	cache map[string]robotsEntry
	now   func() time.Time
}

type robotsEntry struct {
	status  int
	body    []byte
	expires time.Time
}

func newRobotsTransport(base http.RoundTripper) *robotsTransport {
	return &robotsTransport{
		base:  base,
		cache: make(map[string]robotsEntry),
		now:   time.Now,
	}
}

func (t *robotsTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("robots transport received nil request")
	}
	if !isRobotsTxtRequest(req) {
		resp, err := t.base.RoundTrip(req)
		if err != nil {
			return nil, fmt.Errorf("base roundtrip: %w", err)
		}
		return resp, nil
	}
	host := strings.ToLower(req.URL.Host)
	if entry, ok := t.lookup(host); ok {
		return entry.response(req), nil
	}
	entry, err := t.fetchRobots(req)
	if err != nil {
		return nil, err
	}
	t.store(host, entry)
	return entry.response(req), nil
}

func (t *robotsTransport) lookup(host string) (robotsEntry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.cache[host]
	if !ok || t.now().After(entry.expires) {
		return robotsEntry{}, false
	}
	return entry, true
}

func (t *robotsTransport) store(host string, entry robotsEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.cache[host] = entry
}

func (t *robotsTransport) fetchRobots(req *http.Request) (robotsEntry, error) {
	maxAttempts := len(robotsRetryBackoff) + 1
	for attempt := 0; attempt < maxAttempts; attempt++ {
		resp, err := t.base.RoundTrip(req.Clone(req.Context()))
		if err == nil {
			body, readErr := io.ReadAll(io.LimitReader(resp.Body, 512*1024))
			closeErr := resp.Body.Close()
			if readErr != nil {
				return robotsEntry{}, fmt.Errorf("read robots body: %w", readErr)
			}
			if closeErr != nil {
				return robotsEntry{}, fmt.Errorf("close robots body: %w", closeErr)
			}
			return robotsEntry{status: resp.StatusCode, body: body, expires: t.now().Add(robotsCacheTTL)}, nil
		}
		if !isTransientTLSError(err) {
			return robotsEntry{}, fmt.Errorf("robots roundtrip non-transient: %w", err)
		}
		if attempt == maxAttempts-1 {
			metrics.ObserveProbeTLSHandshakeTimeout()
			return robotsEntry{
				status:  http.StatusOK,
				body:    []byte("User-agent: *\nAllow: /"),
				expires: t.now().Add(robotsCacheTTL),
			}, nil
		}
		if err := sleepWithContext(req.Context(), robotsRetryBackoff[attempt]); err != nil {
			return robotsEntry{}, fmt.Errorf("robots roundtrip backoff sleep: %w", err)
		}
	}
	return robotsEntry{}, fmt.Errorf("robots roundtrip exhausted retries")
}

func (e robotsEntry) response(req *http.Request) *http.Response {
	return &http.Response{
		StatusCode:    e.status,
		Status:        fmt.Sprintf("%d %s", e.status, http.StatusText(e.status)),
		Body:          io.NopCloser(bytes.NewReader(e.body)),
		ContentLength: int64(len(e.body)),
		Header:        http.Header{"Content-Type": {"text/plain"}},
		Request:       req,
	}
}

func isRobotsTxtRequest(req *http.Request) bool {
	if req == nil || req.URL == nil {
		return false
	}
	return strings.EqualFold(req.URL.Path, "/robots.txt")
}

func sleepWithContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return nil
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return fmt.Errorf("robots backoff sleep context: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}

func isTransientTLSError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	return strings.Contains(err.Error(), "tls: handshake timeout")
}
