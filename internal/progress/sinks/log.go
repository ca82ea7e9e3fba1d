package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/sitegraph/internal/progress"
)

// LogSink writes one structured log line per event. Progress ticks go to
// debug; everything else is info.
type LogSink struct {
	logger *zap.Logger
}

var _ progress.Sink = (*LogSink)(nil)

// NewLogSink wires a zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger.Named("progress")}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		fields := []zap.Field{
			zap.String("session_id", evt.SessionID),
			zap.String("event", string(evt.Name)),
			zap.Time("ts", evt.TS),
		}
		switch data := evt.Data.(type) {
		case progress.ProgressData:
			fields = append(fields, zap.Int("percent", data.Percent), zap.String("message", data.Message))
			s.logger.Debug("progress event", fields...)
			continue
		case progress.MessageData:
			fields = append(fields, zap.String("message", data.Message))
		case progress.ErrorData:
			fields = append(fields, zap.String("message", data.Message), zap.Any("details", data.Details))
		}
		s.logger.Info("progress event", fields...)
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
