package sink

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"syscall"

	"github.com/golang/snappy"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/trace"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// ErrDownstreamClosed reports that the consumer of a sink stopped reading.
// It ends a run without being an error.
var ErrDownstreamClosed = errors.New("downstream closed")

// Sink receives one aggregate per acquisition.
type Sink interface {
	Write(agg waveform.Aggregate) error
}

// Func adapts a function to Sink.
type Func func(agg waveform.Aggregate) error

func (f Func) Write(agg waveform.Aggregate) error { return f(agg) }

// Discard drops every aggregate.
var Discard Sink = Func(func(waveform.Aggregate) error { return nil })

// Stream encodes aggregates as trace blocks on a writer.
type Stream struct {
	enc *trace.Encoder
}

// NewStream returns a Stream writing to w.
func NewStream(w io.Writer) *Stream {
	return &Stream{enc: trace.NewEncoder(w)}
}

// Write encodes agg. A closed pipe is reported as ErrDownstreamClosed.
func (s *Stream) Write(agg waveform.Aggregate) error {
	if err := s.enc.Encode(agg); err != nil {
		if closedPipe(err) {
			return fmt.Errorf("%w: %v", ErrDownstreamClosed, err)
		}
		return fmt.Errorf("encode trace: %w", err)
	}
	return nil
}

func closedPipe(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, fs.ErrClosed)
}

// Archive writes the trace stream to a file, optionally snappy framed.
type Archive struct {
	file *os.File
	zw   *snappy.Writer
	enc  *trace.Encoder
}

// CreateArchive creates or truncates path.
func CreateArchive(path string, compress bool) (*Archive, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	a := &Archive{file: f}
	if compress {
		a.zw = snappy.NewBufferedWriter(f)
		a.enc = trace.NewEncoder(a.zw)
	} else {
		a.enc = trace.NewEncoder(f)
	}
	return a, nil
}

// Write appends agg to the archive.
func (a *Archive) Write(agg waveform.Aggregate) error {
	if err := a.enc.Encode(agg); err != nil {
		return fmt.Errorf("archive trace: %w", err)
	}
	if a.zw != nil {
		if err := a.zw.Flush(); err != nil {
			return fmt.Errorf("archive trace: %w", err)
		}
	}
	return nil
}

// Close flushes and closes the archive file.
func (a *Archive) Close() error {
	var err error
	if a.zw != nil {
		err = a.zw.Close()
	}
	return errors.Join(err, a.file.Close())
}

// OpenArchive opens an archive for reading, undoing snappy framing when
// compressed is set.
func OpenArchive(path string, compressed bool) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	if !compressed {
		return f, nil
	}
	return struct {
		io.Reader
		io.Closer
	}{snappy.NewReader(f), f}, nil
}

// Multi writes every aggregate to all sinks in order. All sinks are
// written even when one fails; the errors are joined.
type Multi []Sink

func (m Multi) Write(agg waveform.Aggregate) error {
	var errs []error
	for _, s := range m {
		if err := s.Write(agg); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
