package acquisition

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// ReadSampleType returns the sample type of normal-mode fetches. Without an
// explicit read type, devices of at most 8 bits read int8 and the others
// int16.
func ReadSampleType(readType string, nbrAdcBits int) waveform.SampleType {
	switch readType {
	case "int8":
		return waveform.SampleInt8
	case "int16":
		return waveform.SampleInt16
	case "int32":
		return waveform.SampleInt32
	case "real64":
		return waveform.SampleReal64
	}
	if nbrAdcBits > 0 && nbrAdcBits <= 8 {
		return waveform.SampleInt8
	}
	return waveform.SampleInt16
}

// DDCSampleType returns the sample type of DDC fetches. A decimation
// numerator of 4 delivers 16-bit pairs.
func DDCSampleType(numerator int) waveform.SampleType {
	if numerator == 4 {
		return waveform.SampleInt16
	}
	return waveform.SampleInt32
}

func dataWidth(t waveform.SampleType) int {
	switch t {
	case waveform.SampleInt8:
		return 8
	case waveform.SampleInt16:
		return 16
	case waveform.SampleInt32:
		return 32
	}
	return 64
}

// Fetcher reads the data of a completed acquisition into an aggregate.
// It keeps the partial windows of streaming channels between calls.
type Fetcher struct {
	log        logrus.FieldLogger
	identity   driver.Identity
	retryDelay time.Duration
	streams    map[string]*streamState
}

// NewFetcher returns a Fetcher for the instrument described by id.
func NewFetcher(log logrus.FieldLogger, id driver.Identity) *Fetcher {
	return &Fetcher{
		log:        log,
		identity:   id,
		retryDelay: time.Millisecond,
		streams:    make(map[string]*streamState),
	}
}

// Reset drops buffered streaming elements.
func (f *Fetcher) Reset() {
	f.streams = make(map[string]*streamState)
}

// Fetch reads every configured channel and assembles the aggregate the
// mode calls for: a Record for single-record reads, a MultiRecord,
// DDCMultiRecord or AccMultiRecord otherwise.
func (f *Fetcher) Fetch(ctx context.Context, s driver.Session, cfg *config.Config) (waveform.Aggregate, error) {
	switch {
	case cfg.Streaming():
		return f.fetchStream(ctx, s, cfg)
	case cfg.Mode == config.ModeDDC:
		return f.fetchDDC(ctx, s, cfg)
	case cfg.Mode == config.ModeAVG:
		return f.fetchAccumulated(ctx, s, cfg)
	case cfg.ReadRecords == 1:
		return f.fetchRecord(ctx, s, cfg)
	default:
		return f.fetchMulti(ctx, s, cfg)
	}
}

func (f *Fetcher) options(cfg *config.Config, t waveform.SampleType) []waveform.Option {
	return []waveform.Option{
		waveform.WithCheckXOffset(!cfg.NoCheckXOffset),
		waveform.WithNbrAdcBits(f.identity.NbrADCBits),
		waveform.WithModel(f.identity.Model),
		waveform.WithSampleType(t),
	}
}

// request sizes a fetch of source from the driver's minimum buffer size.
// factor scales the buffer for interleaved pairs.
func request(ctx context.Context, s driver.Session, source string, records, points int, t waveform.SampleType, factor int) (driver.FetchRequest, error) {
	size, err := s.QueryMinWaveformMemory(ctx, dataWidth(t), records, 0, points)
	if err != nil {
		return driver.FetchRequest{}, fmt.Errorf("query buffer size for %s: %w", source, err)
	}
	return driver.FetchRequest{
		Source:     source,
		NumRecords: records,
		NumPoints:  points,
		SampleType: t,
		BufferSize: size * factor,
	}, nil
}

func (f *Fetcher) fetchRecord(ctx context.Context, s driver.Session, cfg *config.Config) (waveform.Aggregate, error) {
	t := ReadSampleType(cfg.ReadType, f.identity.NbrADCBits)
	rec := waveform.NewRecord(f.options(cfg, t)...)
	for _, ch := range cfg.ReadChannels {
		req, err := request(ctx, s, driver.ChannelName(ch), 1, cfg.ReadSamples, t, 1)
		if err != nil {
			return nil, err
		}
		fetch, err := retryOverrange(ctx, s, f.log, req.Source, func() (*waveform.Fetch, error) {
			return s.FetchWaveform(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Source, err)
		}
		if err := rec.Append(fetch); err != nil {
			return nil, fmt.Errorf("append %s: %w", req.Source, err)
		}
	}
	return rec, nil
}

func (f *Fetcher) fetchMulti(ctx context.Context, s driver.Session, cfg *config.Config) (waveform.Aggregate, error) {
	t := ReadSampleType(cfg.ReadType, f.identity.NbrADCBits)
	mr := waveform.NewMultiRecord(f.options(cfg, t)...)
	for _, ch := range cfg.ReadChannels {
		req, err := request(ctx, s, driver.ChannelName(ch), cfg.ReadRecords, cfg.ReadSamples, t, 1)
		if err != nil {
			return nil, err
		}
		fetch, err := retryOverrange(ctx, s, f.log, req.Source, func() (*waveform.MultiFetch, error) {
			return s.FetchMultiRecordWaveform(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Source, err)
		}
		if err := mr.Append(fetch); err != nil {
			return nil, fmt.Errorf("append %s: %w", req.Source, err)
		}
	}
	return mr, nil
}

func (f *Fetcher) fetchDDC(ctx context.Context, s driver.Session, cfg *config.Config) (waveform.Aggregate, error) {
	t := DDCSampleType(cfg.DDCDecimationNumerator)
	view, err := waveform.ParseView(cfg.DDCSampleView)
	if err != nil {
		return nil, err
	}
	ddc := waveform.NewDDCMultiRecord(f.options(cfg, t)...)
	if err := ddc.SetView(view); err != nil {
		return nil, err
	}
	for _, core := range cfg.ReadChannels {
		req, err := request(ctx, s, driver.DDCCoreName(core), cfg.ReadRecords, cfg.ReadSamples, t, 2)
		if err != nil {
			return nil, err
		}
		fetch, err := retryOverrange(ctx, s, f.log, req.Source, func() (*waveform.DDCFetch, error) {
			return s.FetchDDCWaveform(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Source, err)
		}
		if err := ddc.Append(fetch); err != nil {
			return nil, fmt.Errorf("append %s: %w", req.Source, err)
		}
	}
	return ddc, nil
}

func (f *Fetcher) fetchAccumulated(ctx context.Context, s driver.Session, cfg *config.Config) (waveform.Aggregate, error) {
	t := waveform.SampleInt32
	if cfg.ReadType == "real64" {
		t = waveform.SampleReal64
	}
	acc := waveform.NewAccMultiRecord(f.options(cfg, t)...)
	for _, ch := range cfg.ReadChannels {
		req, err := request(ctx, s, driver.ChannelName(ch), cfg.ReadRecords, cfg.ReadSamples, t, 1)
		if err != nil {
			return nil, err
		}
		fetch, err := retryOverrange(ctx, s, f.log, req.Source, func() (*waveform.AccFetch, error) {
			return s.FetchAccumulatedWaveform(ctx, req)
		})
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.Source, err)
		}
		if err := acc.Append(fetch); err != nil {
			return nil, fmt.Errorf("append %s: %w", req.Source, err)
		}
	}
	return acc, nil
}

// retryOverrange runs fetch and, if the driver reports an overrange, runs it
// once more with overrange errors disabled. Overrange reporting is enabled
// again afterwards whatever the outcome.
func retryOverrange[T any](ctx context.Context, s driver.Session, log logrus.FieldLogger, source string, fetch func() (T, error)) (v T, err error) {
	v, err = fetch()
	if !errors.Is(err, driver.ErrOverrange) {
		return v, err
	}
	log.WithField("source", source).Warn("overrange, fetching again with overrange errors disabled")
	if serr := s.SetAttribute(ctx, "", driver.AttrErrorOnOverrange, false); serr != nil {
		return v, errors.Join(err, serr)
	}
	defer func() {
		if rerr := s.SetAttribute(ctx, "", driver.AttrErrorOnOverrange, true); rerr != nil {
			err = errors.Join(err, fmt.Errorf("restore overrange errors: %w", rerr))
		}
	}()
	return fetch()
}

type streamState struct {
	pending  waveform.Int32s
	position int
	xinc     float64
	sf, so   float64
}

func (st *streamState) add(sf *driver.StreamFetch) {
	st.pending = append(st.pending, sf.Samples[:sf.ActualElements]...)
	st.xinc, st.sf, st.so = sf.XIncrement, sf.ScaleFactor, sf.ScaleOffset
}

// take cuts records windows of samples elements off the pending run.
func (st *streamState) take(records, samples int) *waveform.MultiFetch {
	n := records * samples
	buf := make(waveform.Int32s, n)
	copy(buf, st.pending[:n])
	st.pending = append(st.pending[:0], st.pending[n:]...)

	mf := &waveform.MultiFetch{
		Samples:              buf,
		ActualRecords:        records,
		ActualPoints:         make([]int, records),
		FirstValidPoint:      make([]int, records),
		InitialXOffset:       make([]float64, records),
		InitialXTimeSeconds:  make([]float64, records),
		InitialXTimeFraction: make([]float64, records),
		XIncrement:           st.xinc,
		ScaleFactor:          st.sf,
		ScaleOffset:          st.so,
	}
	for r := 0; r < records; r++ {
		mf.ActualPoints[r] = samples
		mf.FirstValidPoint[r] = r * samples
		t := float64(st.position+r*samples) * st.xinc
		secs := math.Floor(t)
		mf.InitialXTimeSeconds[r] = secs
		mf.InitialXTimeFraction[r] = t - secs
	}
	st.position += n
	return mf
}

// fetchStream fills every stream until it holds enough elements for the
// configured records, then slices one window off each. No window is taken
// until all streams are filled, so a timeout leaves the streams aligned.
// Empty reads are retried until the wait timeout; a negative available
// count ends the run.
func (f *Fetcher) fetchStream(ctx context.Context, s driver.Session, cfg *config.Config) (waveform.Aggregate, error) {
	need := cfg.ReadRecords * cfg.ReadSamples
	timeout := cfg.WaitTimeoutDuration()
	deadline := time.Now().Add(timeout)

	states := make([]*streamState, len(cfg.ReadChannels))
	for i, ch := range cfg.ReadChannels {
		name := driver.StreamName(ch)
		st, ok := f.streams[name]
		if !ok {
			st = &streamState{}
			f.streams[name] = st
		}
		states[i] = st
		if err := f.fill(ctx, s, name, st, need, deadline, timeout); err != nil {
			return nil, err
		}
	}

	mr := waveform.NewMultiRecord(f.options(cfg, waveform.SampleInt32)...)
	for i, ch := range cfg.ReadChannels {
		if err := mr.Append(states[i].take(cfg.ReadRecords, cfg.ReadSamples)); err != nil {
			return nil, fmt.Errorf("append %s: %w", driver.StreamName(ch), err)
		}
	}
	return mr, nil
}

// fill reads name until st holds need elements or the deadline passes.
func (f *Fetcher) fill(ctx context.Context, s driver.Session, name string, st *streamState, need int, deadline time.Time, timeout time.Duration) error {
	for len(st.pending) < need {
		res, err := s.StreamFetch(ctx, name, need-len(st.pending))
		if err != nil {
			return &StreamError{Stream: name, Err: err}
		}
		if res.AvailableElements < 0 {
			return &StreamError{Stream: name, Available: res.AvailableElements}
		}
		if res.ActualElements > 0 {
			st.add(res)
			continue
		}
		if time.Now().After(deadline) {
			return &AcquisitionTimeoutError{Phase: "stream", Timeout: timeout}
		}
		f.log.WithField("stream", name).Debug("stream underrun, retrying")
		if err := sleep(ctx, f.retryDelay); err != nil {
			return err
		}
	}
	return nil
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
