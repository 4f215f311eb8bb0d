// Package api serves the HTTP control surface of a running acquisition.
//
// Endpoints under /api/v1:
//
//	GET  /health     liveness, no authentication
//	GET  /status     orchestrator status and applied configuration
//	POST /commands   queue a parameter command (one JSON object)
//	GET  /telemetry  server-sent orchestrator events
//	GET  /traces     WebSocket feed of acquired traces in text form
//
// Every JSON reply uses the same envelope with a correlation ID.
package api
