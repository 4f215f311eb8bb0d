package trace

import (
	"errors"
	"fmt"
	"io"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// Window selects a sub-range of a trace stream. Counts below zero mean
// "to the end". Channels holds 1-based channel numbers; empty keeps all.
type Window struct {
	RecordStart int
	RecordCount int
	SampleStart int
	SampleCount int
	Channels    []int
}

func (w Window) keepRecord(i int) (keep, done bool) {
	if i < w.RecordStart {
		return false, false
	}
	if w.RecordCount >= 0 && i >= w.RecordStart+w.RecordCount {
		return false, true
	}
	return true, false
}

func (w Window) channels(n int) []int {
	if len(w.Channels) == 0 {
		all := make([]int, n)
		for i := range all {
			all[i] = i
		}
		return all
	}
	var out []int
	for _, c := range w.Channels {
		if c >= 1 && c <= n {
			out = append(out, c-1)
		}
	}
	return out
}

func (w Window) samples(n int) (first, count int) {
	first = min(max(w.SampleStart, 0), n)
	count = n - first
	if w.SampleCount >= 0 && w.SampleCount < count {
		count = w.SampleCount
	}
	return first, count
}

// Filter copies the records of dec selected by w to enc and returns the
// number of records written.
func Filter(dec *Decoder, enc *Encoder, w Window) (int, error) {
	index, written := 0, 0
	for {
		agg, err := dec.Decode()
		if errors.Is(err, io.EOF) {
			return written, nil
		}
		if err != nil {
			return written, err
		}
		for r := 0; r < agg.Records(); r++ {
			keep, done := w.keepRecord(index)
			index++
			if done {
				return written, nil
			}
			if !keep {
				continue
			}
			rec, err := agg.Record(r)
			if err != nil {
				return written, err
			}
			out, err := Slice(rec, w)
			if err != nil {
				return written, err
			}
			if err := enc.Encode(out); err != nil {
				return written, err
			}
			written++
		}
	}
}

// Slice returns a copy-free single-record aggregate holding the channels
// and samples of rec selected by w.
func Slice(rec waveform.RecordView, w Window) (waveform.Aggregate, error) {
	md := rec.Metadata()
	opts := []waveform.Option{
		waveform.WithCheckXOffset(false),
		waveform.WithFullScale(md.FullScale),
		waveform.WithNbrAdcBits(md.NbrAdcBits),
		waveform.WithModel(md.Model),
		waveform.WithSampleType(md.SampleType),
	}
	channels := w.channels(rec.Channels())

	switch md.TraceType {
	case waveform.TraceDDC:
		src, ok := rec.(waveform.PairSource)
		if !ok {
			return nil, fmt.Errorf("DDC record does not expose I/Q pairs")
		}
		out := waveform.NewDDCMultiRecord(opts...)
		if err := out.SetView(md.View); err != nil {
			return nil, err
		}
		for _, c := range channels {
			wf, err := rec.Channel(c)
			if err != nil {
				return nil, err
			}
			pairs, err := src.Pairs(c)
			if err != nil {
				return nil, err
			}
			first, count := w.samples(pairs.Len() / 2)
			f := multiFetch(wf, pairs, first, count)
			if err := out.Append(&waveform.DDCFetch{MultiFetch: f}); err != nil {
				return nil, err
			}
		}
		return out, nil

	case waveform.TraceAccumulated:
		out := waveform.NewAccMultiRecord(opts...)
		for _, c := range channels {
			wf, err := rec.Channel(c)
			if err != nil {
				return nil, err
			}
			first, count := w.samples(wf.ActualPoints())
			f := multiFetch(wf, wf.Samples(), first, count)
			err = out.Append(&waveform.AccFetch{
				Samples:              f.Samples,
				ActualAverages:       md.ActualAverages,
				ActualRecords:        1,
				ActualPoints:         f.ActualPoints,
				FirstValidPoint:      f.FirstValidPoint,
				InitialXOffset:       wf.InitialXOffset,
				InitialXTimeSeconds:  f.InitialXTimeSeconds,
				InitialXTimeFraction: f.InitialXTimeFraction,
				XIncrement:           f.XIncrement,
				ScaleFactor:          f.ScaleFactor,
				ScaleOffset:          f.ScaleOffset,
			})
			if err != nil {
				return nil, err
			}
		}
		return out, nil
	}

	out := waveform.NewRecord(opts...)
	for _, c := range channels {
		wf, err := rec.Channel(c)
		if err != nil {
			return nil, err
		}
		first, count := w.samples(wf.ActualPoints())
		err = out.Append(&waveform.Fetch{
			Samples:              wf.Samples(),
			ActualPoints:         count,
			FirstValidPoint:      first,
			InitialXOffset:       wf.InitialXOffset,
			InitialXTimeSeconds:  wf.InitialXTimeSeconds,
			InitialXTimeFraction: wf.InitialXTimeFraction,
			XIncrement:           wf.XIncrement,
			ScaleFactor:          wf.ScaleFactor,
			ScaleOffset:          wf.ScaleOffset,
		})
		if err != nil {
			return nil, err
		}
	}
	return out, nil
}

func multiFetch(wf *waveform.Waveform, samples waveform.Buffer, first, count int) waveform.MultiFetch {
	return waveform.MultiFetch{
		Samples:              samples,
		ActualRecords:        1,
		ActualPoints:         []int{count},
		FirstValidPoint:      []int{first},
		InitialXOffset:       []float64{wf.InitialXOffset},
		InitialXTimeSeconds:  []float64{wf.InitialXTimeSeconds},
		InitialXTimeFraction: []float64{wf.InitialXTimeFraction},
		XIncrement:           wf.XIncrement,
		ScaleFactor:          wf.ScaleFactor,
		ScaleOffset:          wf.ScaleOffset,
	}
}
