// Package telemetry streams acquisition events to HTTP clients as
// server-sent events.
//
// Each run has its own monotonic event IDs and a bounded replay buffer, so
// a client reconnecting with Last-Event-ID receives what it missed. A
// heartbeat event is sent while at least one client is connected.
package telemetry
