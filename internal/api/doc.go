// Package api defines the JSON payloads exchanged between the reconcile
// HTTP server and its clients.
//
// Domain records (operations, rows, candidates) are reused as they are
// serialized by their own packages; this package only adds request and
// response envelopes.
package api
