// Package api hosts the HTTP server, middleware, and REST handlers for operator
// access. Notable routes:
//   - GET /healthz for liveness probes.
//   - GET /metrics for Prometheus scraping.
//   - GET /api/accounts, /api/creators, /api/posts and /api/media for browsing
//     the archive.
//   - POST /api/rate/post, /api/rate/media and /api/media/{id}/caption, guarded
//     by X-API-Key when a key is configured. Ratings are debounced per target.
package api
