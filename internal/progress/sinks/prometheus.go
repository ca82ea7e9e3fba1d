package sinks

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/sitegraph/internal/progress"
)

// PrometheusSink counts stream events by name and records the percent each
// stream had reached when it ended.
type PrometheusSink struct {
	events       *prometheus.CounterVec
	finalPercent *prometheus.HistogramVec
	lastPercent  map[string]int
}

var _ progress.Sink = (*PrometheusSink)(nil)

// NewPrometheusSink registers the collectors against reg.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "sitegraph_progress_events_total",
			Help: "Stream events written, partitioned by event name.",
		}, []string{"event"}),
		finalPercent: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "sitegraph_progress_final_percent",
			Help:    "Percent reached when a stream ended, partitioned by terminal event.",
			Buckets: []float64{10, 25, 45, 50, 75, 90, 100},
		}, []string{"event"}),
		lastPercent: make(map[string]int),
	}
	for _, collector := range []prometheus.Collector{s.events, s.finalPercent} {
		if err := reg.Register(collector); err != nil {
			return nil, fmt.Errorf("register progress collector: %w", err)
		}
	}
	return s, nil
}

// Consume updates the collectors. The hub calls it from one goroutine.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		s.events.WithLabelValues(string(evt.Name)).Inc()
		if p, ok := evt.Data.(progress.ProgressData); ok {
			s.lastPercent[evt.SessionID] = p.Percent
		}
		if evt.Name.Terminal() {
			percent := s.lastPercent[evt.SessionID]
			if evt.Name == progress.NameResult {
				percent = 100
			}
			s.finalPercent.WithLabelValues(string(evt.Name)).Observe(float64(percent))
			delete(s.lastPercent, evt.SessionID)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}
