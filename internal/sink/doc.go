// Package sink delivers assembled aggregates to their consumers: the trace
// stream on standard output, an archive file, and any other writer the
// process wires in.
package sink
