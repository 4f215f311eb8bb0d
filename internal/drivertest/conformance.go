// Package drivertest provides vendor-agnostic conformance testing for
// digitizer sessions.
//
// Every driver.Session implementation is expected to normalize its failures
// to the sentinels of package driver and to honor the fetch contract of
// package waveform.
package drivertest

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// Capabilities describes what the session under test supports.
type Capabilities struct {
	Channels    []int
	RecordSize  int
	Records     int
	SampleTypes []waveform.SampleType
	DDC         bool
	Accumulated bool
	TSR         bool
	WaitTimeout time.Duration
}

// ConformanceResult is the outcome of one conformance check.
type ConformanceResult struct {
	TestName string
	Passed   bool
	Error    string
	Duration time.Duration
	Details  map[string]any
}

// ConformanceReport collects the results of a conformance run.
type ConformanceReport struct {
	Model         string
	TotalTests    int
	PassedTests   int
	FailedTests   int
	Results       []ConformanceResult
	OverallPassed bool
	Duration      time.Duration
}

type check struct {
	name string
	run  func(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error
}

var checks = []check{
	{"Identity", checkIdentity},
	{"Attribute_RoundTrip", checkAttributeRoundTrip},
	{"Attribute_InvalidValue", checkInvalidValue},
	{"Fetch_WithoutAcquisition", checkFetchWithoutAcquisition},
	{"TSRContinue_NotArmed", checkContinueNotArmed},
	{"Acquire_Single", checkSingle},
	{"Acquire_MultiRecord", checkMultiRecord},
	{"Acquire_DDC", checkDDC},
	{"Acquire_Accumulated", checkAccumulated},
	{"Acquire_TSR", checkTSR},
	{"Abort_Idempotent", checkAbort},
	{"Context_Cancelled", checkCancelled},
}

// RunConformance runs the conformance suite. newSession must return a fresh
// session for every check.
func RunConformance(t *testing.T, newSession func() driver.Session, caps Capabilities) {
	t.Helper()
	if caps.WaitTimeout == 0 {
		caps.WaitTimeout = time.Second
	}
	start := time.Now()
	report := &ConformanceReport{OverallPassed: true}

	for _, c := range checks {
		s := newSession()
		if report.Model == "" {
			if id, err := s.Identity(context.Background()); err == nil {
				report.Model = id.Model
			}
		}
		result := ConformanceResult{TestName: c.name, Details: make(map[string]any)}
		begin := time.Now()
		err := c.run(context.Background(), s, caps, result.Details)
		result.Duration = time.Since(begin)
		_ = s.Close()
		if errors.Is(err, errUnsupported) {
			continue
		}
		result.Passed = err == nil
		if err != nil {
			result.Error = err.Error()
		}
		report.addResult(result)
	}

	report.Duration = time.Since(start)
	printConformanceReport(t, report)
	if !report.OverallPassed {
		t.Fatalf("Driver conformance test failed: %d/%d tests passed", report.PassedTests, report.TotalTests)
	}
}

var errUnsupported = errors.New("unsupported")

func (r *ConformanceReport) addResult(result ConformanceResult) {
	r.Results = append(r.Results, result)
	r.TotalTests++
	if result.Passed {
		r.PassedTests++
	} else {
		r.FailedTests++
		r.OverallPassed = false
	}
}

func printConformanceReport(t *testing.T, report *ConformanceReport) {
	t.Helper()
	t.Logf("=== Driver Conformance Report: %s ===", report.Model)
	t.Logf("Total: %d, Passed: %d, Failed: %d, Duration: %v",
		report.TotalTests, report.PassedTests, report.FailedTests, report.Duration)
	for _, r := range report.Results {
		status := "PASS"
		if !r.Passed {
			status = "FAIL"
		}
		t.Logf("  [%s] %s (%v)", status, r.TestName, r.Duration)
		if r.Error != "" {
			t.Logf("         %s", r.Error)
		}
	}
}

func expectCode(err, code error) error {
	if err == nil {
		return fmt.Errorf("expected %v, got nil", code)
	}
	if !errors.Is(err, code) {
		return fmt.Errorf("expected %v, got %v", code, err)
	}
	return nil
}

func checkIdentity(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	id, err := s.Identity(ctx)
	if err != nil {
		return err
	}
	if id.Model == "" {
		return fmt.Errorf("identity has no model")
	}
	if id.NbrADCBits <= 0 {
		return fmt.Errorf("identity reports %d ADC bits", id.NbrADCBits)
	}
	for _, ch := range caps.Channels {
		if ch > id.ChannelCount {
			return fmt.Errorf("channel %d beyond reported count %d", ch, id.ChannelCount)
		}
	}
	details["model"] = id.Model
	details["bits"] = id.NbrADCBits
	return nil
}

func checkAttributeRoundTrip(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if err := s.SetAttribute(ctx, "", driver.AttrRecordSize, int64(caps.RecordSize)); err != nil {
		return err
	}
	n, err := driver.GetInt64(ctx, s, "", driver.AttrRecordSize)
	if err != nil {
		return err
	}
	if n != int64(caps.RecordSize) {
		return fmt.Errorf("record size reads back %d, wrote %d", n, caps.RecordSize)
	}
	ch := driver.ChannelName(caps.Channels[0])
	if err := s.SetAttribute(ctx, ch, driver.AttrChannelRange, 0.5); err != nil {
		return err
	}
	rng, err := driver.GetReal64(ctx, s, ch, driver.AttrChannelRange)
	if err != nil {
		return err
	}
	if rng != 0.5 {
		return fmt.Errorf("range reads back %v, wrote 0.5", rng)
	}
	return nil
}

func checkInvalidValue(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	return expectCode(s.SetAttribute(ctx, "", driver.AttrRecordSize, int64(-1)), driver.ErrInvalidValue)
}

func checkFetchWithoutAcquisition(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	_, err := s.FetchWaveform(ctx, driver.FetchRequest{
		Source:     driver.ChannelName(caps.Channels[0]),
		NumRecords: 1,
		NumPoints:  caps.RecordSize,
		SampleType: caps.SampleTypes[0],
		BufferSize: 2 * caps.RecordSize,
	})
	return expectCode(err, driver.ErrNoAcquisitionInProgress)
}

func checkContinueNotArmed(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	return expectCode(s.TSRContinue(ctx), driver.ErrNoAcquisitionInProgress)
}

// configure sets up a normal-mode acquisition of caps.Records records.
func configure(ctx context.Context, s driver.Session, caps Capabilities, mode string) error {
	for _, w := range []struct {
		attr  driver.Attribute
		value any
	}{
		{driver.AttrAcquisitionMode, mode},
		{driver.AttrRecordSize, int64(caps.RecordSize)},
		{driver.AttrNumRecordsToAcquire, int64(caps.Records)},
		{driver.AttrTriggerActiveSource, driver.ImmediateTriggerSource},
	} {
		if err := s.SetAttribute(ctx, "", w.attr, w.value); err != nil {
			return fmt.Errorf("set %s: %w", w.attr, err)
		}
	}
	return s.ApplySetup(ctx)
}

func acquire(ctx context.Context, s driver.Session, caps Capabilities) error {
	if err := s.Initiate(ctx); err != nil {
		return fmt.Errorf("initiate: %w", err)
	}
	if err := s.WaitForComplete(ctx, caps.WaitTimeout); err != nil {
		return fmt.Errorf("wait: %w", err)
	}
	idle, err := s.IsIdle(ctx)
	if err != nil {
		return err
	}
	if !idle {
		return fmt.Errorf("session not idle after completed acquisition")
	}
	return nil
}

func request(ctx context.Context, s driver.Session, source string, width int, caps Capabilities, t waveform.SampleType) (driver.FetchRequest, error) {
	size, err := s.QueryMinWaveformMemory(ctx, width, caps.Records, 0, caps.RecordSize)
	if err != nil {
		return driver.FetchRequest{}, err
	}
	return driver.FetchRequest{
		Source:     source,
		NumRecords: caps.Records,
		NumPoints:  caps.RecordSize,
		SampleType: t,
		BufferSize: size,
	}, nil
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

func checkSingle(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if err := configure(ctx, s, caps, driver.ModeNormal); err != nil {
		return err
	}
	if err := acquire(ctx, s, caps); err != nil {
		return err
	}
	for _, t := range caps.SampleTypes {
		rec := waveform.NewRecord()
		for _, ch := range caps.Channels {
			req, err := request(ctx, s, driver.ChannelName(ch), dataWidth(t), caps, t)
			if err != nil {
				return err
			}
			f, err := s.FetchWaveform(ctx, req)
			if err != nil {
				return fmt.Errorf("fetch %s %v: %w", req.Source, t, err)
			}
			if f.Samples.Type() != t {
				return fmt.Errorf("fetch %v returned %v samples", t, f.Samples.Type())
			}
			if err := rec.Append(f); err != nil {
				return err
			}
		}
		w, err := rec.Channel(0)
		if err != nil {
			return err
		}
		if w.ActualPoints() != caps.RecordSize {
			return fmt.Errorf("fetched %d points, want %d", w.ActualPoints(), caps.RecordSize)
		}
		details[t.String()] = w.ActualPoints()
	}
	return nil
}

func checkMultiRecord(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if err := configure(ctx, s, caps, driver.ModeNormal); err != nil {
		return err
	}
	if err := acquire(ctx, s, caps); err != nil {
		return err
	}
	t := caps.SampleTypes[0]
	mrec := waveform.NewMultiRecord()
	for _, ch := range caps.Channels {
		req, err := request(ctx, s, driver.ChannelName(ch), dataWidth(t), caps, t)
		if err != nil {
			return err
		}
		f, err := s.FetchMultiRecordWaveform(ctx, req)
		if err != nil {
			return err
		}
		if err := mrec.Append(f); err != nil {
			return err
		}
	}
	if mrec.Records() != caps.Records {
		return fmt.Errorf("fetched %d records, want %d", mrec.Records(), caps.Records)
	}
	details["records"] = mrec.Records()
	return nil
}

func checkDDC(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if !caps.DDC {
		return errUnsupported
	}
	if err := configure(ctx, s, caps, driver.ModeDownConversion); err != nil {
		return err
	}
	if err := acquire(ctx, s, caps); err != nil {
		return err
	}
	rec := waveform.NewDDCMultiRecord()
	for _, ch := range caps.Channels {
		req, err := request(ctx, s, driver.DDCCoreName(ch), 32, caps, waveform.SampleInt32)
		if err != nil {
			return err
		}
		req.BufferSize *= 2
		f, err := s.FetchDDCWaveform(ctx, req)
		if err != nil {
			return err
		}
		if err := rec.Append(f); err != nil {
			return err
		}
	}
	pairs, err := rec.Pairs(0, 0)
	if err != nil {
		return err
	}
	if pairs.Len() != 2*caps.RecordSize {
		return fmt.Errorf("DDC record holds %d values, want %d", pairs.Len(), 2*caps.RecordSize)
	}
	return nil
}

func checkAccumulated(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if !caps.Accumulated {
		return errUnsupported
	}
	if err := s.SetAttribute(ctx, "", driver.AttrNumberOfAverages, int64(8)); err != nil {
		return err
	}
	if err := configure(ctx, s, caps, driver.ModeAverager); err != nil {
		return err
	}
	if err := acquire(ctx, s, caps); err != nil {
		return err
	}
	acc := waveform.NewAccMultiRecord()
	for _, ch := range caps.Channels {
		req, err := request(ctx, s, driver.ChannelName(ch), 32, caps, waveform.SampleInt32)
		if err != nil {
			return err
		}
		f, err := s.FetchAccumulatedWaveform(ctx, req)
		if err != nil {
			return err
		}
		if err := acc.Append(f); err != nil {
			return err
		}
	}
	if acc.ActualAverages() != 8 {
		return fmt.Errorf("accumulated %d averages, want 8", acc.ActualAverages())
	}
	return nil
}

func checkTSR(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if !caps.TSR {
		return errUnsupported
	}
	if err := s.SetAttribute(ctx, "", driver.AttrTSREnabled, true); err != nil {
		return err
	}
	if err := configure(ctx, s, caps, driver.ModeNormal); err != nil {
		return err
	}
	if err := s.Initiate(ctx); err != nil {
		return err
	}
	complete, err := driver.GetBool(ctx, s, "", driver.AttrTSRIsAcquisitionComplete)
	if err != nil {
		return err
	}
	if !complete {
		return fmt.Errorf("TSR acquisition not complete after initiate")
	}
	if err := s.TSRContinue(ctx); err != nil {
		return fmt.Errorf("continue: %w", err)
	}
	overflow, err := driver.GetBool(ctx, s, "", driver.AttrTSRMemoryOverflow)
	if err != nil {
		return err
	}
	details["overflow"] = overflow
	return s.Abort(ctx)
}

func checkAbort(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	if err := s.Abort(ctx); err != nil {
		return err
	}
	if err := s.Abort(ctx); err != nil {
		return err
	}
	idle, err := s.IsIdle(ctx)
	if err != nil {
		return err
	}
	if !idle {
		return fmt.Errorf("session busy after abort")
	}
	return nil
}

func checkCancelled(ctx context.Context, s driver.Session, caps Capabilities, details map[string]any) error {
	ctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := s.IsIdle(ctx); !errors.Is(err, context.Canceled) {
		return fmt.Errorf("expected context.Canceled, got %v", err)
	}
	return nil
}
