// Package sim provides a simulated digitizer session.
//
// The simulated instrument generates one sine tone per channel, supports
// every fetch kind of package driver (single record, multi-record, DDC,
// accumulated and streaming), the continuous-rearm (TSR) continue/poll
// cycle, and the calibration-required flag. Faults can be injected to
// exercise timeouts, overrange errors, TSR memory overflow, calibration
// failures, rejected attribute writes and streaming under-runs.
//
// Importing the package registers the "SIM" resource prefix, so
// driver.Open(ctx, "SIM:M9703A", opts) returns a *Digitizer.
package sim
