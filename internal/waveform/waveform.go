package waveform

import (
	"errors"
	"fmt"
)

// ErrIndexOutOfRange is returned when a record or channel index is outside
// the aggregate.
var ErrIndexOutOfRange = errors.New("index out of range")

// TraceType tags the sample interpretation of an aggregate.
type TraceType string

const (
	TraceDigitizer   TraceType = "Digitizer"
	TraceDDC         TraceType = "DDC"
	TraceAccumulated TraceType = "Accumulated"
)

// Waveform is one channel of one record. It is a view into the fetch buffer
// and must not be modified.
type Waveform struct {
	InitialXOffset       float64
	InitialXTimeSeconds  float64
	InitialXTimeFraction float64
	XIncrement           float64
	ScaleFactor          float64
	ScaleOffset          float64

	samples Buffer
}

// NewWaveform builds the waveform view described by a single-record fetch.
func NewWaveform(f *Fetch) (*Waveform, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &Waveform{
		InitialXOffset:       f.InitialXOffset,
		InitialXTimeSeconds:  f.InitialXTimeSeconds,
		InitialXTimeFraction: f.InitialXTimeFraction,
		XIncrement:           f.XIncrement,
		ScaleFactor:          f.ScaleFactor,
		ScaleOffset:          f.ScaleOffset,
		samples:              f.Samples.Slice(f.FirstValidPoint, f.FirstValidPoint+f.ActualPoints),
	}, nil
}

// Samples returns the valid samples of the waveform.
func (w *Waveform) Samples() Buffer { return w.samples }

// ActualPoints returns the number of valid samples.
func (w *Waveform) ActualPoints() int { return w.samples.Len() }

// Value returns sample i in physical units.
func (w *Waveform) Value(i int) float64 {
	return w.samples.Float(i)*w.ScaleFactor + w.ScaleOffset
}

// Metadata is the header surface shared by all aggregates.
type Metadata struct {
	TraceType            TraceType
	SampleType           SampleType
	FullScale            float64
	NbrAdcBits           int
	Model                string
	ActualAverages       int
	View                 View
	XIncrement           float64
	InitialXOffset       float64
	InitialXTimeSeconds  float64
	InitialXTimeFraction float64
}

// RecordView is one record across every channel of an aggregate.
type RecordView interface {
	Channels() int
	Channel(i int) (*Waveform, error)
	Metadata() Metadata
}

// Aggregate is implemented by Record, MultiRecord, DDCMultiRecord and
// AccMultiRecord.
type Aggregate interface {
	Records() int
	Record(i int) (RecordView, error)
}

// PairSource is implemented by record views whose samples are interleaved
// I/Q pairs. Pairs returns the raw interleaved values of a channel.
type PairSource interface {
	Pairs(channel int) (Buffer, error)
}

// ConsistencyError reports a mismatch between a newly appended channel and
// the channels already aggregated. Record and Channel are -1 when not
// applicable.
type ConsistencyError struct {
	Field    string
	Record   int
	Channel  int
	Expected any
	Actual   any
}

func (e *ConsistencyError) Error() string {
	where := ""
	switch {
	case e.Channel >= 0 && e.Record >= 0:
		where = fmt.Sprintf(" (channel %d, record %d)", e.Channel, e.Record)
	case e.Channel >= 0:
		where = fmt.Sprintf(" (channel %d)", e.Channel)
	case e.Record >= 0:
		where = fmt.Sprintf(" (record %d)", e.Record)
	}
	return fmt.Sprintf("inconsistent %s%s: expected %v, got %v", e.Field, where, e.Expected, e.Actual)
}

// Option configures an aggregate at construction.
type Option func(*options)

type options struct {
	checkXOffset bool
	fullScale    float64
	nbrAdcBits   int
	model        string
	sampleType   SampleType
}

func newOptions(opts []Option) options {
	o := options{checkXOffset: true}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithCheckXOffset controls whether appends compare trigger timing
// (InitialXOffset, InitialXTimeSeconds, InitialXTimeFraction). Default true.
func WithCheckXOffset(check bool) Option {
	return func(o *options) { o.checkXOffset = check }
}

// WithFullScale overrides the full scale derived from the sample type.
func WithFullScale(fs float64) Option {
	return func(o *options) { o.fullScale = fs }
}

// WithNbrAdcBits records the ADC resolution of the capturing device.
func WithNbrAdcBits(bits int) Option {
	return func(o *options) { o.nbrAdcBits = bits }
}

// WithModel records the instrument model.
func WithModel(model string) Option {
	return func(o *options) { o.model = model }
}

// WithSampleType sets the sample type reported while the aggregate is empty.
func WithSampleType(t SampleType) Option {
	return func(o *options) { o.sampleType = t }
}

func (o options) scale(t SampleType) float64 {
	if o.fullScale > 0 {
		return o.fullScale
	}
	return t.FullScale()
}

func checkWaveform(ref, w *Waveform, checkXOffset bool, record, channel int) error {
	mismatch := func(field string, expected, actual any) error {
		return &ConsistencyError{Field: field, Record: record, Channel: channel, Expected: expected, Actual: actual}
	}
	if ref.samples.Type() != w.samples.Type() {
		return mismatch("SampleType", ref.samples.Type(), w.samples.Type())
	}
	if ref.ActualPoints() != w.ActualPoints() {
		return mismatch("ActualPoints", ref.ActualPoints(), w.ActualPoints())
	}
	if ref.XIncrement != w.XIncrement {
		return mismatch("XIncrement", ref.XIncrement, w.XIncrement)
	}
	if !checkXOffset {
		return nil
	}
	if ref.InitialXOffset != w.InitialXOffset {
		return mismatch("InitialXOffset", ref.InitialXOffset, w.InitialXOffset)
	}
	if ref.InitialXTimeSeconds != w.InitialXTimeSeconds {
		return mismatch("InitialXTimeSeconds", ref.InitialXTimeSeconds, w.InitialXTimeSeconds)
	}
	if ref.InitialXTimeFraction != w.InitialXTimeFraction {
		return mismatch("InitialXTimeFraction", ref.InitialXTimeFraction, w.InitialXTimeFraction)
	}
	return nil
}

func outOfRange(what string, i, n int) error {
	return fmt.Errorf("%w: %s %d of %d", ErrIndexOutOfRange, what, i, n)
}
