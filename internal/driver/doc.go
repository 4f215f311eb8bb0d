// Package driver defines the instrument session consumed by the acquisition
// loop.
//
// A Session wraps one opened digitizer. Attribute access is keyed by a
// repeated-capability name ("Channel1", "DDCCore1", "External1", or "" for
// instrument-wide attributes) and an Attribute identifier. Fetch operations
// return the tagged result types of package waveform.
//
// Vendor failures are normalized into the sentinel errors of this package
// (ErrTimeout, ErrOverrange, ErrNoAcquisitionInProgress, ...) wrapped in a
// *DriverError that keeps the original error for diagnostics.
//
// Implementations register an Opener for a resource prefix; Open dispatches
// "SIM:M9703A" to the opener registered under "SIM".
package driver
