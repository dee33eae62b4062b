// Package review implements the operator actions on reconciled rows:
// candidate search, single and bulk accept or reject, will-not-match
// marking, and the cascade confirmation flow for mapping writes.
//
// Every mutating action refuses to run while a batch operation is active
// for the same entity field. A *store.CascadeError is passed through
// unchanged so callers can offer the cascade retry.
package review
