// Command sitegraph maps a website's same-domain page graph.
//
// Architecture overview:
//   - HTTP API: internal/api serves POST /v1/crawl/stream (Server-Sent Events), POST /v1/crawl/cancel,
//     GET /v1/crawl/{session_id}/result, health checks, and /metrics.
//   - Pipeline: internal/pipeline validates a request, registers the session, runs the breadth-first crawl
//     (internal/crawler) and the optional enrichment phase (internal/enrich), then emits the result.
//   - Fetch path: a process-wide rate limiter gates every fetch; colly performs the GET and chromedp renders
//     pages when headless mode is on; goquery extracts the page metadata.
//   - Handoff: completed results go to the in-memory result store, the configured blob store (memory, local,
//     GCS), a Postgres summary row, and a Pub/Sub notification.
//   - Plumbing: Viper loads config (SITEGRAPH_ env prefix), zap logs, Prometheus counts.
//
// Run locally: go run . serve --config config.yaml, or go run . crawl https://example.com.
package main

import (
	"github.com/JakeFAU/sitegraph/cmd"
)

func main() {
	cmd.Execute()
}
