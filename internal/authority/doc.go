// Package authority talks to the external authority service that proposes
// candidate matches for a free-text query.
//
// Requests are rate limited and pass through a circuit breaker so a failing
// authority trips quickly instead of stalling a batch run. Queries shorter
// than the minimum length are refused before any request is sent.
package authority
