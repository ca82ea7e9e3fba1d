// Package progress turns crawl and enrichment milestones into the ordered,
// named event stream a caller sees for one session. An Emitter owns the
// ordering rules for a single session and writes through a Sink; a Hub taps a
// copy of every event to process-wide sinks such as logs and metrics without
// ever blocking the session.
package progress
