// Package calibration decides when a digitizer self-calibrates and runs the
// calibration with the user-signal routing cleared.
//
// Calibration is due on the first loop, on every multiple of the configured
// period, and whenever the instrument reports it is required. A forced
// request (set after a hot reconfiguration) overrides the period and the
// calibrate-once policy; disabling calibration overrides everything.
package calibration
