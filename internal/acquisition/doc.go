// Package acquisition runs the digitizer control loop.
//
// An Orchestrator owns one driver session. Each iteration it folds queued
// commands into the configuration, calibrates when due, arms the
// instrument, waits for the acquisition by polling or blocking, fetches the
// data into an aggregate and hands it to a sink. Observers receive state
// changes and per-iteration outcomes for telemetry, audit and cataloguing.
package acquisition
