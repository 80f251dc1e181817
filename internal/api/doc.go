// Package api hosts the HTTP control surface for the acquisition
// pipeline, one Coordinator per source. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/sources/{source_id}/jobs to start a run.
//   - GET /v1/sources/{source_id}/jobs/status and .../logs for read-only
//     progress.
//   - POST /v1/sources/{source_id}/jobs/{pause,resume,cancel} for control
//     signals.
package api
