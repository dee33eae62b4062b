// Package client is the HTTP client for the reconcile daemon API.
//
// Errors from the daemon decode into *APIError. Cascade conflicts decode
// into *CascadeConflict; a 409 whose payload does not name the affected
// entities fails with ErrMalformedConflict instead of being treated as an
// empty list. Progress streams that end before a terminal snapshot fail
// with ErrStreamDisrupted; Follow then re-queries the operation and keeps
// reporting the outcome as unknown while it is still not terminal.
package client
