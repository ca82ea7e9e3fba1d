package progress

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Emitter writes one session's events in order. Percent never decreases and
// never exceeds 100, asyncPrompt is written at most once, and exactly one
// terminal event is written; anything after it is dropped. Safe for use by
// the pipeline and its heartbeat concurrently.
type Emitter struct {
	sessionID string
	sink      Sink
	tap       Publisher
	logger    *zap.Logger
	now       func() time.Time

	mu       sync.Mutex
	ctx      context.Context
	percent  int
	prompted bool
	terminal Name
	writeErr error
}

// EmitterOption customizes an Emitter.
type EmitterOption func(*Emitter)

// WithPublisher taps every written event to pub.
func WithPublisher(pub Publisher) EmitterOption {
	return func(e *Emitter) { e.tap = pub }
}

// WithLogger sets the logger used for sink write failures.
func WithLogger(logger *zap.Logger) EmitterOption {
	return func(e *Emitter) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// WithClock overrides the timestamp source.
func WithClock(now func() time.Time) EmitterOption {
	return func(e *Emitter) {
		if now != nil {
			e.now = now
		}
	}
}

// NewEmitter binds an emitter to sink. Sink writes use a context detached
// from ctx's cancellation so the terminal event still reaches the caller
// after the session has been cancelled.
func NewEmitter(ctx context.Context, sessionID string, sink Sink, opts ...EmitterOption) *Emitter {
	e := &Emitter{
		sessionID: sessionID,
		sink:      sink,
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
		ctx:       context.WithoutCancel(ctx),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Progress writes a progress event at max(percent, current), capped at 100.
// It reports whether an event was written.
func (e *Emitter) Progress(percent int, message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal != "" {
		return false
	}
	e.percent = clamp(max(percent, e.percent))
	e.write(NameProgress, ProgressData{Percent: e.percent, Message: message})
	return true
}

// Advance moves percent up by step without passing ceiling. Once the
// ceiling is reached it writes nothing.
func (e *Emitter) Advance(step, ceiling int, message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal != "" || step <= 0 || e.percent >= clamp(ceiling) {
		return false
	}
	e.percent = min(e.percent+step, clamp(ceiling))
	e.write(NameProgress, ProgressData{Percent: e.percent, Message: message})
	return true
}

// AsyncPrompt writes the asyncPrompt event the first time it is called.
func (e *Emitter) AsyncPrompt(message string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal != "" || e.prompted {
		return false
	}
	e.prompted = true
	e.write(NameAsyncPrompt, MessageData{Message: message})
	return true
}

// Result writes the final payload and closes the stream.
func (e *Emitter) Result(payload any) bool {
	return e.finish(NameResult, payload)
}

// Cancelled closes the stream with a cancelled event.
func (e *Emitter) Cancelled(message string) bool {
	return e.finish(NameCancelled, MessageData{Message: message})
}

// Error closes the stream with an error event. details may be nil.
func (e *Emitter) Error(message string, details map[string]any) bool {
	return e.finish(NameError, ErrorData{Message: message, Details: details})
}

// Percent returns the last percent written.
func (e *Emitter) Percent() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.percent
}

// Terminal returns the terminal event written, or "" while the stream is open.
func (e *Emitter) Terminal() Name {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal
}

// Err returns the first sink write failure.
func (e *Emitter) Err() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.writeErr
}

func (e *Emitter) finish(name Name, data any) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.terminal != "" {
		return false
	}
	e.terminal = name
	e.write(name, data)
	return true
}

// write sends one event to the sink and the tap. Callers hold e.mu.
func (e *Emitter) write(name Name, data any) {
	evt := Event{SessionID: e.sessionID, Name: name, TS: e.now(), Data: data}
	if e.sink != nil && e.writeErr == nil {
		if err := e.sink.Consume(e.ctx, []Event{evt}); err != nil {
			e.writeErr = err
			e.logger.Warn("progress write failed",
				zap.String("session_id", e.sessionID),
				zap.String("event", string(name)),
				zap.Error(err))
		}
	}
	if e.tap != nil {
		e.tap.Emit(evt)
	}
}

func clamp(percent int) int {
	return min(max(percent, 0), 100)
}
