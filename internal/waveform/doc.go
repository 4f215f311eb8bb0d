// Package waveform holds the in-memory aggregation model for digitizer
// captures.
//
// A driver fetch result (Fetch, MultiFetch, DDCFetch, AccFetch) is appended
// into one of the aggregate shapes:
//
//   - Record: one waveform per channel, all captured on the same trigger.
//   - MultiRecord: one batch per channel, each batch covering many records.
//   - DDCMultiRecord: MultiRecord whose samples are interleaved I/Q pairs,
//     projected through a selectable View on read.
//   - AccMultiRecord: MultiRecord of accumulated (averaged) samples.
//
// Every append checks that the new channel agrees with the channels already
// present (sample count, sampling period and, unless relaxed, trigger timing).
// A mismatch is reported as *ConsistencyError and leaves the aggregate
// unchanged.
//
// All shapes implement Aggregate, which the trace codec consumes.
package waveform
