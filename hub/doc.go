// Package hub is the connection/room registry and message-routing engine.
// It tracks live connections, the rooms each belongs to and, for every
// publish, computes the exact recipient set and the exact bytes sent to each.
// Transports and process bootstrap live outside this package; the registry
// bus is the extension point adapters use for cross-process mirroring.
package hub
