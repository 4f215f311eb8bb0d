package waveform

// Record holds one waveform per channel for a single trigger.
type Record struct {
	opts      options
	waveforms []*Waveform
}

// NewRecord returns an empty Record.
func NewRecord(opts ...Option) *Record {
	return &Record{opts: newOptions(opts)}
}

// SetCheckXOffset changes the timing check applied by Append.
func (r *Record) SetCheckXOffset(check bool) { r.opts.checkXOffset = check }

// Append adds the next channel.
func (r *Record) Append(f *Fetch) error {
	return r.AppendChecked(f, r.opts.checkXOffset)
}

// AppendChecked adds the next channel with an explicit timing check policy.
// The record is unchanged when an error is returned.
func (r *Record) AppendChecked(f *Fetch, checkXOffset bool) error {
	w, err := NewWaveform(f)
	if err != nil {
		return err
	}
	if len(r.waveforms) > 0 {
		if err := checkWaveform(r.waveforms[0], w, checkXOffset, -1, len(r.waveforms)); err != nil {
			return err
		}
	}
	r.waveforms = append(r.waveforms, w)
	return nil
}

// Records returns 1 once a channel has been appended, 0 before.
func (r *Record) Records() int {
	if len(r.waveforms) == 0 {
		return 0
	}
	return 1
}

// Record returns the record itself for index 0.
func (r *Record) Record(i int) (RecordView, error) {
	if i != 0 || len(r.waveforms) == 0 {
		return nil, outOfRange("record", i, r.Records())
	}
	return r, nil
}

// Channels returns the number of appended channels.
func (r *Record) Channels() int { return len(r.waveforms) }

// Channel returns the waveform of channel i (0-based).
func (r *Record) Channel(i int) (*Waveform, error) {
	if i < 0 || i >= len(r.waveforms) {
		return nil, outOfRange("channel", i, len(r.waveforms))
	}
	return r.waveforms[i], nil
}

// Metadata reports the record header. Timing comes from the first channel.
func (r *Record) Metadata() Metadata {
	md := Metadata{
		TraceType:  TraceDigitizer,
		SampleType: r.opts.sampleType,
		NbrAdcBits: r.opts.nbrAdcBits,
		Model:      r.opts.model,
	}
	if len(r.waveforms) > 0 {
		w := r.waveforms[0]
		md.SampleType = w.samples.Type()
		md.XIncrement = w.XIncrement
		md.InitialXOffset = w.InitialXOffset
		md.InitialXTimeSeconds = w.InitialXTimeSeconds
		md.InitialXTimeFraction = w.InitialXTimeFraction
	}
	md.FullScale = r.opts.scale(md.SampleType)
	return md
}
