// Package api hosts the read-only status server for operators. Routes:
//   - GET /healthz and /readyz for health checks; readyz pings Postgres.
//   - GET /metrics for Prometheus scraping.
//   - GET /v1/runs/latest?state=AL for the newest run of a state.
//   - GET /v1/runs/{run_id} for one run.
//   - GET /v1/staging/counts for row counts of the staging and reject tables.
package api
