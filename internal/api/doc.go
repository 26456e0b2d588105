// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz and /readyz for container probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/runs to queue a crawl run, GET /v1/runs/{run_id} and
//     /v1/runs/{run_id}/sites to follow it.
//   - GET /v1/sites lists the configured supplier sites.
package api
