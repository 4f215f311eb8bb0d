package waveform

// batch is the per-channel result of one multi-record fetch. stride is the
// number of buffer values per point: 1 for real samples, 2 for I/Q pairs.
type batch struct {
	samples     Buffer
	stride      int
	records     int
	points      []int
	first       []int
	xOffset     []float64
	xSeconds    []float64
	xFraction   []float64
	xIncrement  float64
	scaleFactor float64
	scaleOffset float64
}

func newBatch(f *MultiFetch, stride int) (*batch, error) {
	if err := f.validate(stride); err != nil {
		return nil, err
	}
	return &batch{
		samples:     f.Samples,
		stride:      stride,
		records:     f.ActualRecords,
		points:      f.ActualPoints,
		first:       f.FirstValidPoint,
		xOffset:     f.InitialXOffset,
		xSeconds:    f.InitialXTimeSeconds,
		xFraction:   f.InitialXTimeFraction,
		xIncrement:  f.XIncrement,
		scaleFactor: f.ScaleFactor,
		scaleOffset: f.ScaleOffset,
	}, nil
}

// raw returns the un-projected waveform of record i.
func (b *batch) raw(i int) *Waveform {
	lo := b.first[i] * b.stride
	hi := lo + b.points[i]*b.stride
	return &Waveform{
		InitialXOffset:       b.xOffset[i],
		InitialXTimeSeconds:  b.xSeconds[i],
		InitialXTimeFraction: b.xFraction[i],
		XIncrement:           b.xIncrement,
		ScaleFactor:          b.scaleFactor,
		ScaleOffset:          b.scaleOffset,
		samples:              b.samples.Slice(lo, hi),
	}
}

// batches is the channel-major storage shared by the multi-record shapes.
type batches struct {
	opts    options
	entries []*batch
}

func (bs *batches) add(b *batch, checkXOffset bool) error {
	if len(bs.entries) > 0 {
		ref := bs.entries[0]
		channel := len(bs.entries)
		if ref.records != b.records {
			return &ConsistencyError{Field: "ActualRecords", Record: -1, Channel: channel, Expected: ref.records, Actual: b.records}
		}
		for i := 0; i < b.records; i++ {
			if err := checkWaveform(ref.raw(i), b.raw(i), checkXOffset, i, channel); err != nil {
				return err
			}
		}
	}
	bs.entries = append(bs.entries, b)
	return nil
}

func (bs *batches) records() int {
	if len(bs.entries) == 0 {
		return 0
	}
	return bs.entries[0].records
}

func (bs *batches) checkRecord(i int) error {
	if n := bs.records(); i < 0 || i >= n {
		return outOfRange("record", i, n)
	}
	return nil
}

func (bs *batches) checkChannel(c int) error {
	if c < 0 || c >= len(bs.entries) {
		return outOfRange("channel", c, len(bs.entries))
	}
	return nil
}

func (bs *batches) metadata(record int, tt TraceType) Metadata {
	md := Metadata{
		TraceType:  tt,
		SampleType: bs.opts.sampleType,
		NbrAdcBits: bs.opts.nbrAdcBits,
		Model:      bs.opts.model,
	}
	if len(bs.entries) > 0 && record < bs.entries[0].records {
		b := bs.entries[0]
		md.SampleType = b.samples.Type()
		md.XIncrement = b.xIncrement
		md.InitialXOffset = b.xOffset[record]
		md.InitialXTimeSeconds = b.xSeconds[record]
		md.InitialXTimeFraction = b.xFraction[record]
	}
	md.FullScale = bs.opts.scale(md.SampleType)
	return md
}

// MultiRecord holds one multi-record batch per channel and exposes them
// record by record.
type MultiRecord struct {
	batches
}

// NewMultiRecord returns an empty MultiRecord.
func NewMultiRecord(opts ...Option) *MultiRecord {
	return &MultiRecord{batches{opts: newOptions(opts)}}
}

// SetCheckXOffset changes the timing check applied by Append.
func (m *MultiRecord) SetCheckXOffset(check bool) { m.opts.checkXOffset = check }

// Append adds the batch of the next channel.
func (m *MultiRecord) Append(f *MultiFetch) error {
	return m.AppendChecked(f, m.opts.checkXOffset)
}

// AppendChecked adds the batch of the next channel with an explicit timing
// check policy. The aggregate is unchanged when an error is returned.
func (m *MultiRecord) AppendChecked(f *MultiFetch, checkXOffset bool) error {
	b, err := newBatch(f, 1)
	if err != nil {
		return err
	}
	return m.add(b, checkXOffset)
}

// Records returns the number of records per channel.
func (m *MultiRecord) Records() int { return m.records() }

// Channels returns the number of appended channel batches.
func (m *MultiRecord) Channels() int { return len(m.entries) }

// Record returns a cross-channel view of record i. No samples are copied.
func (m *MultiRecord) Record(i int) (RecordView, error) {
	if err := m.checkRecord(i); err != nil {
		return nil, err
	}
	return &multiRecordView{m: m, index: i}, nil
}

// Waveform returns channel c of record i.
func (m *MultiRecord) Waveform(i, c int) (*Waveform, error) {
	if err := m.checkRecord(i); err != nil {
		return nil, err
	}
	if err := m.checkChannel(c); err != nil {
		return nil, err
	}
	return m.entries[c].raw(i), nil
}

type multiRecordView struct {
	m     *MultiRecord
	index int
}

func (v *multiRecordView) Channels() int { return len(v.m.entries) }

func (v *multiRecordView) Channel(c int) (*Waveform, error) { return v.m.Waveform(v.index, c) }

func (v *multiRecordView) Metadata() Metadata { return v.m.metadata(v.index, TraceDigitizer) }
