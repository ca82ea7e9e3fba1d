package pipeline

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
)

// ResultHandler receives each completed Result exactly once.
type ResultHandler interface {
	Handle(ctx context.Context, result Result) error
}

// HandlerFunc adapts a function to ResultHandler.
type HandlerFunc func(ctx context.Context, result Result) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, result Result) error {
	return f(ctx, result)
}

// Handoff fans a Result out to every handler in order. A failing handler
// does not stop the ones after it; Handle joins their errors.
type Handoff struct {
	handlers []ResultHandler
	logger   *zap.Logger
}

var _ ResultHandler = (*Handoff)(nil)

// NewHandoff skips nil handlers.
func NewHandoff(logger *zap.Logger, handlers ...ResultHandler) *Handoff {
	if logger == nil {
		logger = zap.NewNop()
	}
	h := &Handoff{logger: logger.Named("handoff")}
	for _, handler := range handlers {
		if handler != nil {
			h.handlers = append(h.handlers, handler)
		}
	}
	return h
}

// Handle delivers result to every handler.
func (h *Handoff) Handle(ctx context.Context, result Result) error {
	var errs []error
	for i, handler := range h.handlers {
		if err := handler.Handle(ctx, result); err != nil {
			h.logger.Warn("result handler failed",
				zap.String("session_id", result.SessionID),
				zap.Int("handler", i),
				zap.Error(err))
			errs = append(errs, fmt.Errorf("handler %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

// Len returns the number of registered handlers.
func (h *Handoff) Len() int {
	return len(h.handlers)
}
