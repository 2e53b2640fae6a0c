// Package api hosts the admin HTTP server the autoscaler exposes for
// operators. Notable routes:
//   - GET /healthz and /readyz for container probes (/readyz pings the store).
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/status for depth, fleet size, readiness and barrier counters.
//   - GET /v1/workers and /v1/workers/{name}/jobs for the fleet and its
//     in-flight sub-tasks.
//   - GET /v1/batches for the batch ledger, when one is configured.
package api
