// Package trace reads and writes the line-oriented trace interchange format.
//
// A trace stream is a sequence of blocks, one per record:
//
//	$TraceType Digitizer
//	$SampleType Int16
//	$ActualChannels 2
//	$XIncrement 6.25e-10
//	$$ScaleFactor 0 6.103515625e-05
//	-2243 -5486
//	3171 -18
//	<blank line>
//
// Scalar headers are "$Key value", per-channel headers are
// "$$Key channel value" with 0-based channel indices, and every sample row
// carries one value per channel. A header line that follows sample rows
// starts the next block.
//
// The decoder also accepts the legacy header set (#CHANNELS, FULLSCALE,
// CHANNELFSR, SAMPIVAL, HORPOS, MODEL) written by older acquisition tools.
package trace
