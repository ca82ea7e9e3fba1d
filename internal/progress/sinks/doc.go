// Package sinks implements progress consumers: the server-sent-events writer
// that carries a session stream to its caller, plus the structured log and
// Prometheus sinks that observe every session through the hub.
package sinks
