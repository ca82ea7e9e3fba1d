package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/sitegraph/internal/crawler"
	"github.com/JakeFAU/sitegraph/internal/enrich"
	"github.com/JakeFAU/sitegraph/internal/progress"
	"github.com/JakeFAU/sitegraph/internal/session"
)

const origin = "https://example.com"

type fakeSite struct {
	mu      sync.Mutex
	links   map[string][]string
	fetched []string
	onFetch func(n int)
}

func (s *fakeSite) FetchPage(_ context.Context, rawURL, _ string) crawler.PageRecord {
	s.mu.Lock()
	s.fetched = append(s.fetched, rawURL)
	n := len(s.fetched)
	hook := s.onFetch
	s.mu.Unlock()
	if hook != nil {
		hook(n)
	}
	path := crawler.NormalizePath(rawURL)
	links := make([]string, 0, len(s.links[path]))
	for _, l := range s.links[path] {
		links = append(links, origin+l)
	}
	return crawler.PageRecord{
		URL:      rawURL,
		Path:     path,
		Title:    "Title " + path,
		Content:  "content of " + path,
		Keywords: []string{},
		Links:    links,
		Success:  true,
	}
}

func (s *fakeSite) Fetched() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.fetched)
}

// hubSite links the root to n-1 leaf pages.
func hubSite(n int) *fakeSite {
	leaves := make([]string, 0, n-1)
	for i := 1; i < n; i++ {
		leaves = append(leaves, fmt.Sprintf("/p%d", i))
	}
	return &fakeSite{links: map[string][]string{"/": leaves}}
}

type fakeCompleter struct {
	mu     sync.Mutex
	calls  int
	failAt int
	err    error
}

func (c *fakeCompleter) Complete(context.Context, string) (string, error) {
	c.mu.Lock()
	c.calls++
	n := c.calls
	c.mu.Unlock()
	if n == c.failAt {
		return "", c.err
	}
	return "SUMMARY: A page\nCONTEXT: Marketing\nKEYWORDS: a, b\nCONTENT_TYPE: blog\nPRIORITY: high\n", nil
}

func (c *fakeCompleter) Calls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.calls
}

type eventLog struct {
	events []progress.Event
}

func (l *eventLog) sink() progress.Sink {
	// The emitter serializes Consume calls.
	return progress.SinkFunc(func(_ context.Context, batch []progress.Event) error {
		l.events = append(l.events, batch...)
		return nil
	})
}

func (l *eventLog) names() []progress.Name {
	out := make([]progress.Name, 0, len(l.events))
	for _, evt := range l.events {
		out = append(out, evt.Name)
	}
	return out
}

func (l *eventLog) count(name progress.Name) int {
	n := 0
	for _, evt := range l.events {
		if evt.Name == name {
			n++
		}
	}
	return n
}

func (l *eventLog) last() progress.Event {
	return l.events[len(l.events)-1]
}

func (l *eventLog) percents() []int {
	var out []int
	for _, evt := range l.events {
		if p, ok := evt.Data.(progress.ProgressData); ok {
			out = append(out, p.Percent)
		}
	}
	return out
}

type harness struct {
	runner    *Runner
	sessions  *session.Registry
	queue     *enrich.Queue
	completer *fakeCompleter
	mu        sync.Mutex
	handed    []Result
}

func (h *harness) Handed() []Result {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Result(nil), h.handed...)
}

func newHarness(t *testing.T, site *fakeSite, mutate func(*Config)) *harness {
	t.Helper()
	cfg := DefaultConfig()
	cfg.MaxDepth = 6
	cfg.HeartbeatInterval = 0
	if mutate != nil {
		mutate(&cfg)
	}
	h := &harness{
		sessions:  session.NewRegistry(),
		completer: &fakeCompleter{},
	}
	h.queue = enrich.NewQueue(enrich.QueueConfig{Model: "test-model"}, h.completer, nil, nil)
	runner, err := NewRunner(cfg, Deps{
		Crawler:  crawler.NewEngine(site, crawler.EngineConfig{}, nil),
		Enricher: h.queue,
		Sessions: h.sessions,
		Handoff: HandlerFunc(func(_ context.Context, r Result) error {
			h.mu.Lock()
			defer h.mu.Unlock()
			h.handed = append(h.handed, r)
			return nil
		}),
	})
	require.NoError(t, err)
	h.runner = runner
	return h
}

func TestRunLinearChain(t *testing.T) {
	t.Parallel()

	site := &fakeSite{links: map[string][]string{
		"/":  {"/b"},
		"/b": {"/c"},
	}}
	h := newHarness(t, site, nil)
	var log eventLog

	res, err := h.runner.Run(context.Background(), Request{URL: "example.com", SessionID: "chain"}, log.sink())
	require.NoError(t, err)
	require.NotNil(t, res)

	require.Equal(t, 3, res.TotalPagesCrawled)
	require.Equal(t, []PathSelection{
		{Path: "/", Allow: true, Description: "Homepage"},
		{Path: "/b", Allow: true, Description: "Pages under /b"},
		{Path: "/c", Allow: true, Description: "Pages under /c"},
	}, res.Paths)
	require.Equal(t, []string{"*"}, res.SelectedBots)
	require.Equal(t, "example.com", res.Domain)
	require.False(t, res.Gating.IsDemo)
	require.Zero(t, res.Gating.RemainingPages)
	require.Empty(t, res.Enrichment)

	require.Equal(t, progress.NameResult, log.last().Name)
	require.Equal(t, 1, log.count(progress.NameResult))
	require.Equal(t, 100, log.percents()[len(log.percents())-1])
	require.Equal(t, 0, h.sessions.Len())
	require.NoError(t, h.runner.Wait(context.Background()))
	require.Len(t, h.Handed(), 1)
	require.Equal(t, "chain", h.Handed()[0].SessionID)
}

func TestRunReturnsBeforeSlowHandoff(t *testing.T) {
	t.Parallel()

	cfg := DefaultConfig()
	cfg.HeartbeatInterval = 0
	sessions := session.NewRegistry()
	started := make(chan struct{})
	unblock := make(chan struct{})
	var recorded []string
	runner, err := NewRunner(cfg, Deps{
		Crawler:  crawler.NewEngine(hubSite(2), crawler.EngineConfig{}, nil),
		Sessions: sessions,
		Results: HandlerFunc(func(_ context.Context, r Result) error {
			recorded = append(recorded, r.SessionID)
			return nil
		}),
		Handoff: HandlerFunc(func(context.Context, Result) error {
			close(started)
			<-unblock
			return nil
		}),
	})
	require.NoError(t, err)
	var log eventLog

	res, err := runner.Run(context.Background(), Request{URL: origin, SessionID: "slow"}, log.sink())
	require.NoError(t, err)
	require.Equal(t, 2, res.TotalPagesCrawled)
	require.Equal(t, progress.NameResult, log.last().Name)
	require.Equal(t, []string{"slow"}, recorded)
	require.Zero(t, sessions.Len())
	require.False(t, sessions.Cancel("slow"))

	// The id can be reused while the previous result is still being handed off.
	_, _, err = sessions.Register(context.Background(), "slow")
	require.NoError(t, err)
	sessions.Release("slow")

	<-started
	waitCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, runner.Wait(waitCtx), context.DeadlineExceeded)

	close(unblock)
	require.NoError(t, runner.Wait(context.Background()))
}

func TestRunDemoGating(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hubSite(20), nil)
	var log eventLog

	res, err := h.runner.Run(context.Background(), Request{
		URL:       origin,
		SessionID: "demo",
		Bots:      []string{"GPTBot"},
		PageLimit: 5,
		Demo:      true,
	}, log.sink())
	require.NoError(t, err)
	require.Equal(t, 5, res.TotalPagesCrawled)
	require.Equal(t, Gating{IsDemo: true, PageLimit: 5, RemainingPages: 15}, res.Gating)
	require.Equal(t, []string{"GPTBot"}, res.SelectedBots)
}

func TestRunValidationErrorWritesOnlyError(t *testing.T) {
	t.Parallel()

	site := hubSite(2)
	h := newHarness(t, site, nil)

	cases := []Request{
		{URL: "", SessionID: "a"},
		{URL: "https://", SessionID: "a"},
		{URL: origin, SessionID: ""},
		{URL: origin, SessionID: "a", Bots: []string{"ok", " "}},
	}
	for _, req := range cases {
		var log eventLog
		res, err := h.runner.Run(context.Background(), req, log.sink())
		require.ErrorIs(t, err, ErrInvalidRequest)
		require.Nil(t, res)
		require.Equal(t, []progress.Name{progress.NameError}, log.names())
	}
	require.Zero(t, site.Fetched())
	require.Zero(t, h.sessions.Len())
}

func TestRunDuplicateSessionKeepsOriginal(t *testing.T) {
	t.Parallel()

	site := hubSite(2)
	h := newHarness(t, site, nil)
	ctx, _, err := h.sessions.Register(context.Background(), "dup")
	require.NoError(t, err)

	var log eventLog
	_, err = h.runner.Run(context.Background(), Request{URL: origin, SessionID: "dup"}, log.sink())
	require.ErrorIs(t, err, session.ErrDuplicate)
	require.Equal(t, []progress.Name{progress.NameError}, log.names())
	require.NoError(t, ctx.Err())
	require.Equal(t, 1, h.sessions.Len())
	require.Zero(t, site.Fetched())
}

func TestRunCancelDuringCrawl(t *testing.T) {
	t.Parallel()

	site := hubSite(10)
	h := newHarness(t, site, nil)
	site.onFetch = func(n int) {
		if n == 2 {
			h.sessions.Cancel("stop-me")
		}
	}
	var log eventLog

	res, err := h.runner.Run(context.Background(), Request{
		URL:          origin,
		SessionID:    "stop-me",
		AIEnrichment: true,
		PageLimit:    10,
	}, log.sink())
	require.ErrorIs(t, err, crawler.ErrCanceled)
	require.Nil(t, res)
	require.LessOrEqual(t, site.Fetched(), 2)
	require.Equal(t, progress.NameCancelled, log.last().Name)
	require.Zero(t, log.count(progress.NameResult))
	require.Zero(t, h.completer.Calls())
	require.Empty(t, h.Handed())
	require.Zero(t, h.sessions.Len())
	require.Zero(t, h.queue.Sessions())
}

func TestRunParentContextCancelled(t *testing.T) {
	t.Parallel()

	site := hubSite(5)
	h := newHarness(t, site, nil)
	ctx, cancel := context.WithCancel(context.Background())
	site.onFetch = func(int) { cancel() }
	var log eventLog

	_, err := h.runner.Run(ctx, Request{URL: origin, SessionID: "gone"}, log.sink())
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, progress.NameCancelled, log.last().Name)
	require.Zero(t, h.sessions.Len())
}

func TestRunRateLimitStopsEnrichment(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hubSite(10), nil)
	h.completer.failAt = 7
	h.completer.err = &enrich.RateLimitError{StatusCode: 429, RetryAfter: 30 * time.Second}
	var log eventLog

	res, err := h.runner.Run(context.Background(), Request{
		URL:          origin,
		SessionID:    "limited",
		AIEnrichment: true,
		PageLimit:    10,
	}, log.sink())
	require.ErrorIs(t, err, enrich.ErrRateLimited)
	require.Nil(t, res)
	require.Equal(t, 7, h.completer.Calls())

	last := log.last()
	require.Equal(t, progress.NameError, last.Name)
	data, ok := last.Data.(progress.ErrorData)
	require.True(t, ok)
	require.Equal(t, 30, data.Details["retryAfterSeconds"])
	require.Equal(t, 429, data.Details["statusCode"])
	require.Zero(t, log.count(progress.NameResult))
	require.Empty(t, h.Handed())
	require.Zero(t, h.queue.Sessions())
	require.Zero(t, h.sessions.Len())
}

func TestRunEnrichmentProgressIsExact(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hubSite(4), nil)
	var log eventLog

	res, err := h.runner.Run(context.Background(), Request{
		URL:          origin,
		SessionID:    "enrich",
		AIEnrichment: true,
		PageLimit:    4,
	}, log.sink())
	require.NoError(t, err)
	require.Len(t, res.Enrichment, 4)
	require.Equal(t, "blog", res.Enrichment[0].ContentType)
	require.Equal(t, "allow", res.Enrichment[0].AIUsageDirective)
	require.Equal(t, "test-model", res.Enrichment[0].Model)

	// 0 at start, base, four exact steps, then completion.
	require.Equal(t, []int{0, 50, 61, 73, 84, 95, 100}, log.percents())
}

func TestRunEnrichmentFailureFallsBackToDefaults(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hubSite(3), nil)
	h.completer.failAt = 2
	h.completer.err = errors.New("upstream 500")
	var log eventLog

	res, err := h.runner.Run(context.Background(), Request{
		URL:          origin,
		SessionID:    "fallback",
		AIEnrichment: true,
		PageLimit:    3,
	}, log.sink())
	require.NoError(t, err)
	require.Len(t, res.Enrichment, 3)
	require.Equal(t, enrich.DefaultSummary, res.Enrichment[1].Summary)
	require.Equal(t, enrich.DefaultUsage, res.Enrichment[1].AIUsageDirective)
	require.Equal(t, "A page", res.Enrichment[2].Summary)
	require.Equal(t, progress.NameResult, log.last().Name)
}

func TestRunAsyncPromptFiresOnce(t *testing.T) {
	t.Parallel()

	h := newHarness(t, hubSite(6), func(cfg *Config) {
		cfg.AsyncPromptThreshold = 3
	})
	var log eventLog

	_, err := h.runner.Run(context.Background(), Request{URL: origin, SessionID: "big", PageLimit: 6}, log.sink())
	require.NoError(t, err)
	require.Equal(t, 1, log.count(progress.NameAsyncPrompt))
}

func TestRunHeartbeatStopsWithCrawl(t *testing.T) {
	t.Parallel()

	site := hubSite(3)
	site.onFetch = func(int) { time.Sleep(5 * time.Millisecond) }
	h := newHarness(t, site, func(cfg *Config) {
		cfg.HeartbeatInterval = time.Millisecond
		cfg.HeartbeatStep = 1
	})
	var log eventLog

	_, err := h.runner.Run(context.Background(), Request{URL: origin, SessionID: "hb", PageLimit: 3}, log.sink())
	require.NoError(t, err)
	require.Equal(t, progress.NameResult, log.last().Name)

	percents := log.percents()
	require.Greater(t, len(percents), 2)
	for i := 1; i < len(percents); i++ {
		require.GreaterOrEqual(t, percents[i], percents[i-1])
	}
	for _, p := range percents[:len(percents)-1] {
		require.LessOrEqual(t, p, 90)
	}
}

func TestNewRunnerRequiresCollaborators(t *testing.T) {
	t.Parallel()

	_, err := NewRunner(DefaultConfig(), Deps{Sessions: session.NewRegistry()})
	require.Error(t, err)
	_, err = NewRunner(DefaultConfig(), Deps{Crawler: crawler.NewEngine(hubSite(1), crawler.EngineConfig{}, nil)})
	require.Error(t, err)
}
