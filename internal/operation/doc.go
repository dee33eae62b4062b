// Package operation tracks long-running batch reconciliation runs.
//
// A Tracker owns one Operation and moves it through
// pending -> running -> completed | failed | cancelled. Every mutation bumps a
// sequence number and wakes waiters, so consumers read a monotonic stream of
// snapshots through Next or Subscribe. Cancellation is cooperative: Cancel
// marks the operation terminal at once and the producer observes Cancelled
// between rows. The Registry enforces one active operation per entity and
// target field and persists terminal snapshots through an optional Store.
package operation
