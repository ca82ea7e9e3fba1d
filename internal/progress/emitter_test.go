package progress

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func names(events []Event) []Name {
	out := make([]Name, 0, len(events))
	for _, evt := range events {
		out = append(out, evt.Name)
	}
	return out
}

func percents(events []Event) []int {
	var out []int
	for _, evt := range events {
		if p, ok := evt.Data.(ProgressData); ok {
			out = append(out, p.Percent)
		}
	}
	return out
}

func TestEmitterPercentMonotonicAndCapped(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	e := NewEmitter(context.Background(), "s1", sink)

	require.True(t, e.Progress(10, "a"))
	require.True(t, e.Progress(5, "b"))
	require.True(t, e.Progress(150, "c"))
	require.True(t, e.Progress(-3, "d"))

	require.Equal(t, []int{10, 10, 100, 100}, percents(sink.Events()))
	require.Equal(t, 100, e.Percent())
}

func TestEmitterAdvanceStopsAtCeiling(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	e := NewEmitter(context.Background(), "s1", sink)

	for range 20 {
		e.Advance(3, 10, "crawling")
	}
	require.Equal(t, []int{3, 6, 9, 10}, percents(sink.Events()))
	require.False(t, e.Advance(3, 10, "crawling"))
}

func TestEmitterAsyncPromptOnce(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	e := NewEmitter(context.Background(), "s1", sink)

	require.True(t, e.AsyncPrompt("long job"))
	require.False(t, e.AsyncPrompt("long job"))
	require.Equal(t, []Name{NameAsyncPrompt}, names(sink.Events()))
}

func TestEmitterSingleTerminalEvent(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	e := NewEmitter(context.Background(), "s1", sink)

	require.True(t, e.Progress(40, "crawling"))
	require.True(t, e.Cancelled("stopped"))
	require.False(t, e.Result(map[string]any{"ok": true}))
	require.False(t, e.Error("late", nil))
	require.False(t, e.Progress(90, "late"))
	require.False(t, e.AsyncPrompt("late"))

	require.Equal(t, []Name{NameProgress, NameCancelled}, names(sink.Events()))
	require.Equal(t, NameCancelled, e.Terminal())
}

func TestEmitterErrorPayload(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	e := NewEmitter(context.Background(), "s1", sink)
	require.True(t, e.Error("rate limited", map[string]any{"retryAfterSeconds": 30}))

	events := sink.Events()
	require.Len(t, events, 1)
	data, ok := events[0].Data.(ErrorData)
	require.True(t, ok)
	require.Equal(t, "rate limited", data.Message)
	require.Equal(t, 30, data.Details["retryAfterSeconds"])
}

func TestEmitterWritesAfterCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var seen []error
	sink := SinkFunc(func(ctx context.Context, _ []Event) error {
		seen = append(seen, ctx.Err())
		return nil
	})
	e := NewEmitter(ctx, "s1", sink)
	require.True(t, e.Cancelled("bye"))
	require.Equal(t, []error{nil}, seen)
}

func TestEmitterSinkFailureStopsWritesButKeepsTap(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	sink.err = errors.New("broken pipe")
	tap := &recordingPublisher{}
	e := NewEmitter(context.Background(), "s1", sink, WithPublisher(tap))

	e.Progress(10, "a")
	e.Result("done")

	require.Len(t, sink.Events(), 1)
	require.EqualError(t, e.Err(), "broken pipe")
	require.Equal(t, []Name{NameProgress, NameResult}, names(tap.Events()))
	require.Equal(t, NameResult, e.Terminal())
}

func TestEmitterStampsEvents(t *testing.T) {
	t.Parallel()

	at := time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC)
	sink := newStubSink()
	e := NewEmitter(context.Background(), "s9", sink, WithClock(func() time.Time { return at }))
	e.Progress(1, "x")

	evt := sink.Events()[0]
	require.Equal(t, "s9", evt.SessionID)
	require.Equal(t, at, evt.TS)
	require.NoError(t, evt.Validate())
}

func TestEmitterConcurrentWritersStayOrdered(t *testing.T) {
	t.Parallel()

	sink := newStubSink()
	e := NewEmitter(context.Background(), "s1", sink)

	var wg sync.WaitGroup
	for i := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range 10 {
				e.Progress(i*10+j, "p")
			}
		}()
	}
	wg.Wait()

	got := percents(sink.Events())
	require.Len(t, got, 80)
	for i := 1; i < len(got); i++ {
		require.GreaterOrEqual(t, got[i], got[i-1])
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Emit(evt Event) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, evt)
}

func (p *recordingPublisher) Events() []Event {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Event(nil), p.events...)
}
