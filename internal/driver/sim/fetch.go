package sim

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// Each record is laid out in the fetch buffer after a short preamble.
const (
	recordPadding = 16
	preamble      = 8
	amplitude     = 0.8
)

// QueryMinWaveformMemory returns the number of elements a fetch buffer
// needs.
func (d *Digitizer) QueryMinWaveformMemory(ctx context.Context, dataWidth, numRecords, offset, numPoints int) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "QueryMinWaveformMemory"); err != nil {
		return 0, err
	}
	switch dataWidth {
	case 8, 16, 32, 64:
	default:
		return 0, d.fail(fmt.Errorf("SIM_INVALID_VALUE: data width %d", dataWidth))
	}
	if numRecords <= 0 || numPoints < 0 || offset < 0 {
		return 0, d.fail(fmt.Errorf("SIM_INVALID_VALUE: %d records of %d points at %d", numRecords, numPoints, offset))
	}
	return numRecords * (offset + numPoints + recordPadding), nil
}

// FetchWaveform reads record 0 of one channel.
func (d *Digitizer) FetchWaveform(ctx context.Context, req driver.FetchRequest) (*waveform.Fetch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "FetchWaveform"); err != nil {
		return nil, err
	}
	ch, err := d.prepareFetch(req, "Channel")
	if err != nil {
		return nil, err
	}
	points := d.points(req)
	if req.BufferSize < preamble+points {
		return nil, d.fail(fmt.Errorf("SIM_INVALID_VALUE: buffer of %d elements too small", req.BufferSize))
	}
	rng, off := d.vertical(req.Source)
	buf, sf, so, err := d.samples(req.SampleType, req.BufferSize, rng, off)
	if err != nil {
		return nil, err
	}
	xinc := 1 / d.appliedRate
	fill(buf, preamble, points, func(n int) float64 { return tone(ch, 0, n, xinc) })
	xoff, secs, frac := d.timing(0, xinc)
	return &waveform.Fetch{
		Samples:              buf,
		ActualPoints:         points,
		FirstValidPoint:      preamble,
		InitialXOffset:       xoff,
		InitialXTimeSeconds:  secs,
		InitialXTimeFraction: frac,
		XIncrement:           xinc,
		ScaleFactor:          sf,
		ScaleOffset:          so,
	}, nil
}

// FetchMultiRecordWaveform reads several records of one channel.
func (d *Digitizer) FetchMultiRecordWaveform(ctx context.Context, req driver.FetchRequest) (*waveform.MultiFetch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "FetchMultiRecordWaveform"); err != nil {
		return nil, err
	}
	ch, err := d.prepareFetch(req, "Channel")
	if err != nil {
		return nil, err
	}
	nrec, points, err := d.extent(req, 1)
	if err != nil {
		return nil, err
	}
	rng, off := d.vertical(req.Source)
	buf, sf, so, err := d.samples(req.SampleType, req.BufferSize, rng, off)
	if err != nil {
		return nil, err
	}
	xinc := 1 / d.appliedRate
	mf := d.multiFetch(buf, nrec, points, xinc, req.FirstRecord)
	mf.ScaleFactor, mf.ScaleOffset = sf, so
	for r := 0; r < nrec; r++ {
		rec := req.FirstRecord + r
		fill(buf, mf.FirstValidPoint[r], points, func(n int) float64 { return tone(ch, rec, n, xinc) })
	}
	return mf, nil
}

// FetchDDCWaveform reads interleaved I/Q records of one DDC core.
func (d *Digitizer) FetchDDCWaveform(ctx context.Context, req driver.FetchRequest) (*waveform.DDCFetch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "FetchDDCWaveform"); err != nil {
		return nil, err
	}
	core, err := d.prepareFetch(req, "DDCCore")
	if err != nil {
		return nil, err
	}
	if req.SampleType != waveform.SampleInt16 && req.SampleType != waveform.SampleInt32 {
		return nil, d.fail(fmt.Errorf("SIM_INVALID_VALUE: DDC fetch of %v", req.SampleType))
	}
	nrec, points, err := d.extent(req, 2)
	if err != nil {
		return nil, err
	}
	rng, off := d.vertical(driver.ChannelName(core))
	buf, sf, so, err := d.samples(req.SampleType, req.BufferSize, rng, off)
	if err != nil {
		return nil, err
	}
	num := d.integer(driver.DDCCoreName(core), driver.AttrDDCDecimationNum, 1)
	den := d.integer(driver.DDCCoreName(core), driver.AttrDDCDecimationDen, 1)
	xinc := float64(num) / float64(den) / d.appliedRate
	mf := d.multiFetch(buf, nrec, points, xinc, req.FirstRecord)
	mf.ScaleFactor, mf.ScaleOffset = sf, so
	for r := 0; r < nrec; r++ {
		rec := req.FirstRecord + r
		first := mf.FirstValidPoint[r]
		// I at even positions, Q at odd positions.
		fill(buf, 2*first, 2*points, func(i int) float64 {
			n := i / 2
			phase := 2*math.Pi*1e6*float64(core)*float64(n)*xinc + 0.1*float64(rec)
			if i%2 == 0 {
				return math.Cos(phase)
			}
			return math.Sin(phase)
		})
	}
	return &waveform.DDCFetch{MultiFetch: *mf, Flags: make([]int32, nrec)}, nil
}

// FetchAccumulatedWaveform reads averaged records of one channel.
func (d *Digitizer) FetchAccumulatedWaveform(ctx context.Context, req driver.FetchRequest) (*waveform.AccFetch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "FetchAccumulatedWaveform"); err != nil {
		return nil, err
	}
	ch, err := d.prepareFetch(req, "Channel")
	if err != nil {
		return nil, err
	}
	nrec, points, err := d.extent(req, 1)
	if err != nil {
		return nil, err
	}
	averages := int(d.integer("", driver.AttrNumberOfAverages, 1))
	rng, off := d.vertical(req.Source)
	xinc := 1 / d.appliedRate
	var (
		buf    waveform.Buffer
		sf, so float64
	)
	switch req.SampleType {
	case waveform.SampleInt32:
		codes := make(waveform.Int32s, req.BufferSize)
		full := math.Ldexp(1, d.identity.NbrADCBits-1)
		buf, sf, so = codes, rng/(2*full*float64(averages)), off
		d.each(nrec, points, func(r, i, n int) {
			codes[i] = int32(math.Round(amplitude * full * tone(ch, req.FirstRecord+r, n, xinc) * float64(averages)))
		})
	case waveform.SampleReal64:
		volts := make(waveform.Real64s, req.BufferSize)
		buf, sf, so = volts, 1, 0
		d.each(nrec, points, func(r, i, n int) {
			volts[i] = off + amplitude*rng/2*tone(ch, req.FirstRecord+r, n, xinc)
		})
	default:
		return nil, d.fail(fmt.Errorf("SIM_INVALID_VALUE: accumulated fetch of %v", req.SampleType))
	}
	mf := d.multiFetch(buf, nrec, points, xinc, req.FirstRecord)
	return &waveform.AccFetch{
		Samples:              buf,
		ActualAverages:       averages,
		ActualRecords:        nrec,
		ActualPoints:         mf.ActualPoints,
		FirstValidPoint:      mf.FirstValidPoint,
		InitialXOffset:       mf.InitialXOffset[0],
		InitialXTimeSeconds:  mf.InitialXTimeSeconds,
		InitialXTimeFraction: mf.InitialXTimeFraction,
		XIncrement:           xinc,
		ScaleFactor:          sf,
		ScaleOffset:          so,
		Flags:                make([]int32, nrec),
	}, nil
}

// StreamFetch reads up to requested elements from a streaming channel.
// Every call makes one acquisition worth of new elements available.
func (d *Digitizer) StreamFetch(ctx context.Context, stream string, requested int) (*driver.StreamFetch, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "StreamFetch"); err != nil {
		return nil, err
	}
	ch, err := index(stream, "StreamCh")
	if err != nil {
		return nil, d.fail(err)
	}
	if !d.acquiring || !d.streaming() {
		return nil, d.fail(fmt.Errorf("SIM_NOT_ARMED: no acquisition in progress"))
	}
	rng, off := d.vertical(driver.ChannelName(ch))
	xinc := 1 / d.appliedRate
	res := &driver.StreamFetch{XIncrement: xinc, ScaleFactor: rng / math.Ldexp(1, 32), ScaleOffset: off}
	switch {
	case d.faults.StreamFailure:
		res.AvailableElements = -1
		return res, nil
	case d.faults.StreamUnderruns > 0:
		d.faults.StreamUnderruns--
		res.AvailableElements = d.streamAvail[stream]
		return res, nil
	}
	d.streamAvail[stream] += int(d.integer("", driver.AttrRecordSize, 1) * d.integer("", driver.AttrNumRecordsToAcquire, 1))
	avail := d.streamAvail[stream]
	n := min(requested, avail)
	codes := make(waveform.Int32s, n)
	full := math.Ldexp(1, 31)
	pos := d.streamPos[stream]
	for i := range codes {
		codes[i] = int32(math.Round(amplitude * full * tone(ch, 0, pos+i, xinc)))
	}
	d.streamPos[stream] = pos + n
	d.streamAvail[stream] = avail - n
	res.Samples = codes
	res.ActualElements = n
	res.RemainingElements = avail - n
	res.AvailableElements = avail
	return res, nil
}

// prepareFetch checks that data is available and consumes one injected
// overrange fault. It returns the 1-based index of the source.
func (d *Digitizer) prepareFetch(req driver.FetchRequest, prefix string) (int, error) {
	n, err := index(req.Source, prefix)
	if err != nil {
		return 0, d.fail(err)
	}
	if !d.completed {
		return 0, d.fail(fmt.Errorf("SIM_NOT_ARMED: no acquisition data to fetch"))
	}
	if d.faults.Overrange > 0 && d.flag("", driver.AttrErrorOnOverrange) {
		d.faults.Overrange--
		return 0, d.fail(fmt.Errorf("SIM_OVERRANGE: %s overrange", req.Source))
	}
	return n, nil
}

func index(source, prefix string) (int, error) {
	s, ok := strings.CutPrefix(source, prefix)
	if !ok {
		return 0, fmt.Errorf("SIM_INVALID_VALUE: unknown source %q", source)
	}
	n, err := strconv.Atoi(s)
	if err != nil || n < 1 {
		return 0, fmt.Errorf("SIM_INVALID_VALUE: unknown source %q", source)
	}
	return n, nil
}

func (d *Digitizer) points(req driver.FetchRequest) int {
	return max(0, min(int(d.integer("", driver.AttrRecordSize, 0))-req.Offset, req.NumPoints))
}

// extent returns the number of records and points a multi-record fetch
// returns, checking the buffer holds them. width is the number of values per
// point.
func (d *Digitizer) extent(req driver.FetchRequest, width int) (int, int, error) {
	acquired := int(d.integer("", driver.AttrNumRecordsToAcquire, 1))
	nrec := min(req.NumRecords, acquired-req.FirstRecord)
	if req.FirstRecord < 0 || nrec <= 0 {
		return 0, 0, d.fail(fmt.Errorf("SIM_INVALID_VALUE: records %d+%d of %d", req.FirstRecord, req.NumRecords, acquired))
	}
	points := d.points(req)
	if need := width * nrec * (points + recordPadding); req.BufferSize < need {
		return 0, 0, d.fail(fmt.Errorf("SIM_INVALID_VALUE: buffer of %d elements too small, need %d", req.BufferSize, need))
	}
	return nrec, points, nil
}

func (d *Digitizer) multiFetch(buf waveform.Buffer, nrec, points int, xinc float64, firstRecord int) *waveform.MultiFetch {
	mf := &waveform.MultiFetch{
		Samples:              buf,
		ActualRecords:        nrec,
		ActualPoints:         make([]int, nrec),
		FirstValidPoint:      make([]int, nrec),
		InitialXOffset:       make([]float64, nrec),
		InitialXTimeSeconds:  make([]float64, nrec),
		InitialXTimeFraction: make([]float64, nrec),
		XIncrement:           xinc,
		ScaleFactor:          1,
	}
	for r := 0; r < nrec; r++ {
		mf.ActualPoints[r] = points
		mf.FirstValidPoint[r] = r*(points+recordPadding) + preamble
		mf.InitialXOffset[r], mf.InitialXTimeSeconds[r], mf.InitialXTimeFraction[r] = d.timing(firstRecord+r, xinc)
	}
	return mf
}

// each calls fn for every valid point of every record with the buffer
// position of the point.
func (d *Digitizer) each(nrec, points int, fn func(r, i, n int)) {
	for r := 0; r < nrec; r++ {
		first := r*(points+recordPadding) + preamble
		for n := 0; n < points; n++ {
			fn(r, first+n, n)
		}
	}
}

func (d *Digitizer) vertical(channel string) (rng, off float64) {
	return d.real(channel, driver.AttrChannelRange, 1), d.real(channel, driver.AttrChannelOffset, 0)
}

// samples allocates a fetch buffer and returns the scale converting its
// codes to volts.
func (d *Digitizer) samples(t waveform.SampleType, size int, rng, off float64) (waveform.Buffer, float64, float64, error) {
	buf, err := waveform.NewBuffer(t, size)
	if err != nil || t == waveform.SampleComplex128 {
		return nil, 0, 0, d.fail(fmt.Errorf("SIM_INVALID_VALUE: sample type %v", t))
	}
	if t == waveform.SampleReal64 {
		return buf, 1, 0, nil
	}
	return buf, rng / t.FullScale(), off, nil
}

// fill writes count normalized values starting at buffer position first.
func fill(buf waveform.Buffer, first, count int, value func(n int) float64) {
	switch b := buf.(type) {
	case waveform.Int8s:
		for n := 0; n < count; n++ {
			b[first+n] = int8(math.Round(amplitude * 127 * value(n)))
		}
	case waveform.Int16s:
		for n := 0; n < count; n++ {
			b[first+n] = int16(math.Round(amplitude*2047*value(n))) << 4
		}
	case waveform.Int32s:
		for n := 0; n < count; n++ {
			b[first+n] = int32(math.Round(amplitude*2047*value(n))) << 20
		}
	case waveform.Real64s:
		for n := 0; n < count; n++ {
			b[first+n] = amplitude / 2 * value(n)
		}
	}
}
