// Command reconcile is the CLI and daemon for entity reconciliation.
//
// `reconcile serve` runs the HTTP daemon. Every other command talks to a
// running daemon through internal/client: starting and following batch runs,
// reviewing rows, bulk actions, import and export, and the materialization
// graph. Commands that would orphan materialized entities ask for
// confirmation on a terminal, or require --cascade otherwise.
package main
