package waveform

import (
	"fmt"
	"math"
)

// View selects how interleaved I/Q pairs are projected on read.
type View int

const (
	ViewReal View = iota
	ViewImaginary
	ViewComplex
	ViewMagnitude
	ViewPhase
)

var viewNames = [...]string{"REAL", "IMAGINARY", "COMPLEX", "MAGNITUDE", "PHASE"}

func (v View) String() string {
	if v < 0 || int(v) >= len(viewNames) {
		return fmt.Sprintf("View(%d)", int(v))
	}
	return viewNames[v]
}

// ParseView parses REAL, IMAGINARY, COMPLEX, MAGNITUDE or PHASE.
func ParseView(s string) (View, error) {
	for i, name := range viewNames {
		if name == s {
			return View(i), nil
		}
	}
	return ViewReal, fmt.Errorf("unknown DDC view %q", s)
}

func (v View) valid() bool { return v >= ViewReal && v <= ViewPhase }

type pairSample interface {
	~int8 | ~int16 | ~int32 | ~float64
}

func component[T pairSample](pairs []T, offset int) []T {
	out := make([]T, len(pairs)/2)
	for i := range out {
		out[i] = pairs[2*i+offset]
	}
	return out
}

// Project converts interleaved I/Q values into the samples seen through v.
// REAL and IMAGINARY keep the raw sample type, COMPLEX yields Complex128s,
// MAGNITUDE and PHASE yield Real64s.
func Project(pairs Buffer, v View) (Buffer, error) {
	if pairs.Len()%2 != 0 {
		return nil, fmt.Errorf("odd number of I/Q values: %d", pairs.Len())
	}
	switch v {
	case ViewReal, ViewImaginary:
		offset := 0
		if v == ViewImaginary {
			offset = 1
		}
		switch b := pairs.(type) {
		case Int8s:
			return Int8s(component(b, offset)), nil
		case Int16s:
			return Int16s(component(b, offset)), nil
		case Int32s:
			return Int32s(component(b, offset)), nil
		case Real64s:
			return Real64s(component(b, offset)), nil
		}
		return nil, fmt.Errorf("cannot project %s samples", pairs.Type())
	case ViewComplex:
		out := make(Complex128s, pairs.Len()/2)
		for i := range out {
			out[i] = complex(pairs.Float(2*i), pairs.Float(2*i+1))
		}
		return out, nil
	case ViewMagnitude:
		out := make(Real64s, pairs.Len()/2)
		for i := range out {
			out[i] = math.Hypot(pairs.Float(2*i), pairs.Float(2*i+1))
		}
		return out, nil
	case ViewPhase:
		out := make(Real64s, pairs.Len()/2)
		for i := range out {
			out[i] = math.Atan2(pairs.Float(2*i+1), pairs.Float(2*i))
		}
		return out, nil
	}
	return nil, fmt.Errorf("unknown DDC view %d", int(v))
}

// DDCMultiRecord holds down-converted I/Q batches, one per DDC core.
type DDCMultiRecord struct {
	batches
	view View
}

// NewDDCMultiRecord returns an empty DDCMultiRecord projecting through REAL.
func NewDDCMultiRecord(opts ...Option) *DDCMultiRecord {
	return &DDCMultiRecord{batches: batches{opts: newOptions(opts)}}
}

// SetCheckXOffset changes the timing check applied by Append.
func (d *DDCMultiRecord) SetCheckXOffset(check bool) { d.opts.checkXOffset = check }

// View returns the current projection.
func (d *DDCMultiRecord) View() View { return d.view }

// SetView changes the projection used by subsequent reads.
func (d *DDCMultiRecord) SetView(v View) error {
	if !v.valid() {
		return fmt.Errorf("unknown DDC view %d", int(v))
	}
	d.view = v
	return nil
}

// Append adds the batch of the next DDC core.
func (d *DDCMultiRecord) Append(f *DDCFetch) error {
	return d.AppendChecked(f, d.opts.checkXOffset)
}

// AppendChecked adds the batch of the next DDC core with an explicit timing
// check policy.
func (d *DDCMultiRecord) AppendChecked(f *DDCFetch, checkXOffset bool) error {
	b, err := newBatch(&f.MultiFetch, 2)
	if err != nil {
		return err
	}
	return d.add(b, checkXOffset)
}

func (d *DDCMultiRecord) Records() int  { return d.records() }
func (d *DDCMultiRecord) Channels() int { return len(d.entries) }

// Record returns a cross-channel view of record i using the current projection.
func (d *DDCMultiRecord) Record(i int) (RecordView, error) {
	if err := d.checkRecord(i); err != nil {
		return nil, err
	}
	return &ddcRecordView{d: d, index: i, view: d.view}, nil
}

// Waveform returns channel c of record i projected through the current view.
func (d *DDCMultiRecord) Waveform(i, c int) (*Waveform, error) {
	return d.waveform(i, c, d.view)
}

// Pairs returns the raw interleaved I/Q values of channel c, record i.
func (d *DDCMultiRecord) Pairs(i, c int) (Buffer, error) {
	if err := d.checkRecord(i); err != nil {
		return nil, err
	}
	if err := d.checkChannel(c); err != nil {
		return nil, err
	}
	return d.entries[c].raw(i).samples, nil
}

func (d *DDCMultiRecord) waveform(i, c int, v View) (*Waveform, error) {
	if err := d.checkRecord(i); err != nil {
		return nil, err
	}
	if err := d.checkChannel(c); err != nil {
		return nil, err
	}
	w := d.entries[c].raw(i)
	projected, err := Project(w.samples, v)
	if err != nil {
		return nil, err
	}
	w.samples = projected
	return w, nil
}

func (d *DDCMultiRecord) metadata(i int, v View) Metadata {
	md := d.batches.metadata(i, TraceDDC)
	md.View = v
	if v == ViewPhase && d.opts.fullScale <= 0 {
		md.FullScale = 2 * math.Pi
	}
	return md
}

type ddcRecordView struct {
	d     *DDCMultiRecord
	index int
	view  View
}

func (v *ddcRecordView) Channels() int { return len(v.d.entries) }

func (v *ddcRecordView) Channel(c int) (*Waveform, error) { return v.d.waveform(v.index, c, v.view) }

func (v *ddcRecordView) Pairs(c int) (Buffer, error) { return v.d.Pairs(v.index, c) }

// Metadata reports the raw sample type; the projected type is carried by
// the waveform samples.
func (v *ddcRecordView) Metadata() Metadata { return v.d.metadata(v.index, v.view) }
