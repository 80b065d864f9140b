// Package app wires configuration, infrastructure, services and transport
// into a runnable keywarden server.
//
// Construction order matters: logger first so every later failure is
// reported through it, then telemetry, then the store, then services, then
// the router. Application.Run blocks until SIGINT or SIGTERM and shuts the
// pieces down in reverse order.
//
// The WebSocket event feed is registered outside the main middleware group
// because response-wrapping middleware breaks the connection hijack the
// upgrade needs.
package app
