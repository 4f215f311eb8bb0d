package waveform

import "fmt"

// Fetch is the result of a single-record, single-channel fetch.
// Drivers that report no scaling set ScaleFactor to 1 and ScaleOffset to 0.
type Fetch struct {
	Samples              Buffer
	ActualPoints         int
	FirstValidPoint      int
	InitialXOffset       float64
	InitialXTimeSeconds  float64
	InitialXTimeFraction float64
	XIncrement           float64
	ScaleFactor          float64
	ScaleOffset          float64
}

// MultiFetch is the result of a multi-record fetch on one channel.
// The per-record slices all have ActualRecords entries.
type MultiFetch struct {
	Samples              Buffer
	ActualRecords        int
	ActualPoints         []int
	FirstValidPoint      []int
	InitialXOffset       []float64
	InitialXTimeSeconds  []float64
	InitialXTimeFraction []float64
	XIncrement           float64
	ScaleFactor          float64
	ScaleOffset          float64
}

// DDCFetch is the result of a down-conversion fetch on one DDC core.
// Samples hold interleaved I/Q values; ActualPoints and FirstValidPoint
// count pairs, not values.
type DDCFetch struct {
	MultiFetch
	Flags []int32
}

// AccFetch is the result of an accumulated (averager) fetch on one channel.
type AccFetch struct {
	Samples              Buffer
	ActualAverages       int
	ActualRecords        int
	ActualPoints         []int
	FirstValidPoint      []int
	InitialXOffset       float64
	InitialXTimeSeconds  []float64
	InitialXTimeFraction []float64
	XIncrement           float64
	ScaleFactor          float64
	ScaleOffset          float64
	Flags                []int32
}

func (f *Fetch) validate() error {
	if f.Samples == nil {
		return fmt.Errorf("fetch has no sample buffer")
	}
	if f.ActualPoints < 0 || f.FirstValidPoint < 0 {
		return fmt.Errorf("fetch reports negative extent (first %d, points %d)", f.FirstValidPoint, f.ActualPoints)
	}
	if f.FirstValidPoint+f.ActualPoints > f.Samples.Len() {
		return fmt.Errorf("fetch extent %d+%d exceeds buffer of %d samples",
			f.FirstValidPoint, f.ActualPoints, f.Samples.Len())
	}
	return nil
}

// validate checks the per-record slices against ActualRecords and the
// buffer. stride is the number of buffer values per point.
func (f *MultiFetch) validate(stride int) error {
	if f.Samples == nil {
		return fmt.Errorf("fetch has no sample buffer")
	}
	n := f.ActualRecords
	if n < 0 {
		return fmt.Errorf("fetch reports %d records", n)
	}
	for _, c := range []struct {
		name string
		got  int
	}{
		{"ActualPoints", len(f.ActualPoints)},
		{"FirstValidPoint", len(f.FirstValidPoint)},
		{"InitialXOffset", len(f.InitialXOffset)},
		{"InitialXTimeSeconds", len(f.InitialXTimeSeconds)},
		{"InitialXTimeFraction", len(f.InitialXTimeFraction)},
	} {
		if c.got != n {
			return &ConsistencyError{Field: c.name, Record: -1, Channel: -1, Expected: n, Actual: c.got}
		}
	}
	for r := 0; r < n; r++ {
		first, points := f.FirstValidPoint[r], f.ActualPoints[r]
		if first < 0 || points < 0 {
			return fmt.Errorf("record %d reports negative extent (first %d, points %d)", r, first, points)
		}
		if (first+points)*stride > f.Samples.Len() {
			return fmt.Errorf("record %d extent %d+%d exceeds buffer of %d samples",
				r, first, points, f.Samples.Len()/stride)
		}
	}
	return nil
}

func (f *AccFetch) multi() MultiFetch {
	offsets := make([]float64, f.ActualRecords)
	for i := range offsets {
		offsets[i] = f.InitialXOffset
	}
	return MultiFetch{
		Samples:              f.Samples,
		ActualRecords:        f.ActualRecords,
		ActualPoints:         f.ActualPoints,
		FirstValidPoint:      f.FirstValidPoint,
		InitialXOffset:       offsets,
		InitialXTimeSeconds:  f.InitialXTimeSeconds,
		InitialXTimeFraction: f.InitialXTimeFraction,
		XIncrement:           f.XIncrement,
		ScaleFactor:          f.ScaleFactor,
		ScaleOffset:          f.ScaleOffset,
	}
}
