// Package server exposes the reconciliation engine over HTTP.
//
// Routes are served by a chi router. Everything under /api except the
// health check requires the configured bearer token. Batch progress is
// pushed as server-sent events from /api/operations/{id}/stream; each event
// carries one operation snapshot and the stream ends after the terminal
// snapshot. Errors are JSON bodies of type api.ErrorResponse; cascade
// conflicts answer 409 with requires_cascade and affected_entities.
package server
