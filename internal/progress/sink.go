package progress

import "context"

// Sink consumes batches of progress events. Implementations must honor ctx
// deadlines. Session sinks receive one-event batches in stream order; hub
// sinks may be called with larger batches from the hub goroutine.
type Sink interface {
	Consume(ctx context.Context, batch []Event) error
	Close(ctx context.Context) error
}

// Publisher accepts a copy of every event for out-of-band observation. Hub
// satisfies it; implementations must not block.
type Publisher interface {
	Emit(evt Event)
}

// SinkFunc adapts a function to Sink with a no-op Close.
type SinkFunc func(ctx context.Context, batch []Event) error

// Consume calls f.
func (f SinkFunc) Consume(ctx context.Context, batch []Event) error {
	return f(ctx, batch)
}

// Close implements Sink.
func (SinkFunc) Close(context.Context) error {
	return nil
}
