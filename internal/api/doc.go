// Package api hosts the HTTP server, middleware, and REST handlers for the
// milestone tracker. Notable routes:
//   - GET /healthz / readyz for probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/progress for the current progress view.
//   - GET /v1/events and /v1/events/{event_id} for recorded telemetry via the
//     EventRepository interface.
//   - GET /milestones.json and /api/userinfo for local development only; both
//     are 404 in production.
package api
