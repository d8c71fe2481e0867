// Package server implements the relay's HTTP and WebSocket surface.
//
// The implementation is organized into specialized files for configuration,
// origin checks, metrics, routing and HTTP handlers. Broadcast and
// per-connection behavior live in the hub and session packages; this package
// wires them together and owns their lifecycle.
package server
