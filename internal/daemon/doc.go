// Package daemon owns the lifecycle of the long-running reconcile process.
//
// Assemble wires the store, authority client, operation registry, batch
// runner, review coordinator, and API server from configuration. Start takes
// an flock-based lock so only one daemon serves a data directory, fails any
// operations a previous process left unfinished, and starts the API server.
package daemon
