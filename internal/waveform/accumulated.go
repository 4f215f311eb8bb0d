package waveform

import "math"

// AccMultiRecord holds accumulated (averaged) batches, one per channel.
type AccMultiRecord struct {
	batches
	averages int
}

// NewAccMultiRecord returns an empty AccMultiRecord.
func NewAccMultiRecord(opts ...Option) *AccMultiRecord {
	return &AccMultiRecord{batches: batches{opts: newOptions(opts)}}
}

// SetCheckXOffset changes the timing check applied by Append.
func (a *AccMultiRecord) SetCheckXOffset(check bool) { a.opts.checkXOffset = check }

// ActualAverages returns the number of accumulated triggers per record.
func (a *AccMultiRecord) ActualAverages() int { return a.averages }

// Append adds the batch of the next channel.
func (a *AccMultiRecord) Append(f *AccFetch) error {
	return a.AppendChecked(f, a.opts.checkXOffset)
}

// AppendChecked adds the batch of the next channel with an explicit timing
// check policy. Every channel must report the same number of averages.
func (a *AccMultiRecord) AppendChecked(f *AccFetch, checkXOffset bool) error {
	mf := f.multi()
	b, err := newBatch(&mf, 1)
	if err != nil {
		return err
	}
	if len(a.entries) > 0 && a.averages != f.ActualAverages {
		return &ConsistencyError{Field: "ActualAverages", Record: -1, Channel: len(a.entries), Expected: a.averages, Actual: f.ActualAverages}
	}
	if err := a.add(b, checkXOffset); err != nil {
		return err
	}
	a.averages = f.ActualAverages
	return nil
}

func (a *AccMultiRecord) Records() int  { return a.records() }
func (a *AccMultiRecord) Channels() int { return len(a.entries) }

// Record returns a cross-channel view of record i.
func (a *AccMultiRecord) Record(i int) (RecordView, error) {
	if err := a.checkRecord(i); err != nil {
		return nil, err
	}
	return &accRecordView{a: a, index: i}, nil
}

// Waveform returns channel c of record i.
func (a *AccMultiRecord) Waveform(i, c int) (*Waveform, error) {
	if err := a.checkRecord(i); err != nil {
		return nil, err
	}
	if err := a.checkChannel(c); err != nil {
		return nil, err
	}
	return a.entries[c].raw(i), nil
}

// FullScale is 2^bits × averages for integer accumulation and 1 for
// normalized floating-point samples. 12-bit digitizers accumulate with one
// extra bit.
func (a *AccMultiRecord) FullScale(t SampleType) float64 {
	if a.opts.fullScale > 0 {
		return a.opts.fullScale
	}
	if t != SampleInt32 {
		return 1
	}
	bits := a.opts.nbrAdcBits
	switch bits {
	case 0:
		bits = 8
	case 12:
		bits = 13
	}
	return math.Ldexp(float64(a.averages), bits)
}

type accRecordView struct {
	a     *AccMultiRecord
	index int
}

func (v *accRecordView) Channels() int { return len(v.a.entries) }

func (v *accRecordView) Channel(c int) (*Waveform, error) { return v.a.Waveform(v.index, c) }

func (v *accRecordView) Metadata() Metadata {
	md := v.a.metadata(v.index, TraceAccumulated)
	md.ActualAverages = v.a.averages
	md.FullScale = v.a.FullScale(md.SampleType)
	return md
}
