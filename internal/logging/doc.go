// Package logging assembles structured slog loggers and formatting helpers used
// across the reconciliation service.
//
// It owns the console and JSON handlers, centralizes level and output plumbing,
// and exposes context helpers so batch and review code can tag log lines with
// operation IDs, entities, and target fields without threading them by hand.
// A no-op logger is provided for tests and wiring code that cannot fail.
package logging
