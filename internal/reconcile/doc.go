// Package reconcile holds the reconciliation domain model and the pure policy
// that sits on top of it.
//
// Classification maps a row's best confidence to one of four buckets using the
// operator's thresholds. It is always derived: rows store only the confidence
// and target identifier written at accept time, and every view recomputes the
// bucket from the thresholds passed in. The package also parses identifiers
// out of candidate references, projects filtered views over a row set, and
// reads and writes the audit CSV export.
package reconcile
