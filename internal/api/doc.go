// Package api hosts the HTTP server, middleware, and REST handlers. Notable routes:
//   - GET /healthz / readyz for Kubernetes probes.
//   - GET /metrics for Prometheus scraping.
//   - POST /v1/discover, POST /v1/links, GET /v1/robots and GET /v1/sitemaps for
//     crawl reconnaissance and frontier growth.
//   - /v1/resources/{resource} for record CRUD, kept in step with the full-text index.
//   - GET /v1/search/{resource} and /v1/index/... for search and index maintenance.
package api
