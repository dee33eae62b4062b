// Package store persists reconciliation state in SQLite: entity specs, source
// records with their last fetched candidates, mappings, the materialization
// dependency graph, and operation history.
//
// Mapping writes are idempotent per source value. A write that changes a
// row's target or will-not-match flag while materialized entities depend on
// the row's entity is refused with *CascadeError unless the caller asks to
// cascade, in which case every affected dependent is unmaterialized in the
// same transaction.
package store
