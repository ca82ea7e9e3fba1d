// Package api hosts the HTTP server, middleware, and handlers. Notable routes:
//   - POST /v1/crawl/stream runs a session and streams its events as SSE.
//   - POST /v1/crawl/cancel cancels a running session by id.
//   - GET /v1/crawl/{session_id}/result returns the last result of a session.
//   - GET /healthz and /readyz for probes, GET /metrics for Prometheus.
package api
