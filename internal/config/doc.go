// Package config loads, normalizes, and validates reconciler configuration.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours environment fallbacks such as
// RECONCILE_AUTHORITY_API_KEY. The Config type centralizes every knob the
// daemon and CLI need: storage and log directories, the authority endpoint,
// classification thresholds, and logging/metrics switches.
//
// Always obtain settings through this package so downstream code receives
// sanitized paths, canonical log formats, and clear validation errors.
package config
