package sim

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
)

func init() {
	driver.Register("SIM", func(ctx context.Context, resource string, opts driver.Options) (driver.Session, error) {
		_, model, _ := strings.Cut(resource, ":")
		return New(resource, model), nil
	})
}

// Faults configures injected failures. A zero Faults injects nothing.
type Faults struct {
	// NeverComplete keeps an initiated acquisition busy forever.
	NeverComplete bool
	// BusyPolls is the number of IsIdle calls reporting busy after Initiate.
	BusyPolls int
	// Overrange is the number of fetches failing with an overrange error
	// while error-on-overrange is enabled.
	Overrange int
	// TSROverflowAfter sets the memory-overflow flag on the n-th TSR continue.
	TSROverflowAfter int
	// CalibrationRequired is reported until the next successful calibration.
	CalibrationRequired bool
	CalibrationFails    bool
	// Reject lists attributes whose writes fail.
	Reject map[driver.Attribute]bool
	// StreamUnderruns is the number of stream fetches finding no new data.
	StreamUnderruns int
	// StreamFailure makes stream fetches report a negative available count.
	StreamFailure bool
}

type attrKey struct {
	repCap string
	attr   driver.Attribute
}

type kind int

const (
	kindBool kind = iota
	kindInt
	kindReal
	kindString
)

var attrKinds = map[driver.Attribute]kind{
	driver.AttrSampleClockSource:            kindString,
	driver.AttrSampleClockExternalFrequency: kindReal,
	driver.AttrSampleClockExternalDivider:   kindReal,
	driver.AttrReferenceOscillatorSource:    kindString,
	driver.AttrAcquisitionMode:              kindString,
	driver.AttrNumberOfAverages:             kindInt,
	driver.AttrSampleRate:                   kindReal,
	driver.AttrRecordSize:                   kindInt,
	driver.AttrNumRecordsToAcquire:          kindInt,
	driver.AttrTSREnabled:                   kindBool,
	driver.AttrTSRIsAcquisitionComplete:     kindBool,
	driver.AttrTSRMemoryOverflow:            kindBool,
	driver.AttrStreamingMode:                kindString,
	driver.AttrErrorOnOverrange:             kindBool,
	driver.AttrDDCCenterFrequency:           kindReal,
	driver.AttrDDCDecimationNum:             kindInt,
	driver.AttrDDCDecimationDen:             kindInt,
	driver.AttrTimeInterleavedList:          kindString,
	driver.AttrChannelRange:                 kindReal,
	driver.AttrChannelOffset:                kindReal,
	driver.AttrCalibrationTargetVolt:        kindReal,
	driver.AttrTriggerActiveSource:          kindString,
	driver.AttrTriggerLevel:                 kindReal,
	driver.AttrTriggerSlope:                 kindString,
	driver.AttrTriggerDelay:                 kindReal,
	driver.AttrTriggerOutputEnabled:         kindBool,
	driver.AttrTriggerOutputSource:          kindString,
	driver.AttrTriggerOutputOffset:          kindReal,
	driver.AttrSelfTriggerMode:              kindString,
	driver.AttrSelfTriggerFrequency:         kindReal,
	driver.AttrSelfTriggerDuty:              kindReal,
	driver.AttrSelfTriggerPulse:             kindReal,
	driver.AttrCalibrationRequired:          kindBool,
	driver.AttrCalibrationUserSignal:        kindString,
	driver.AttrCalibrationTargetVoltE:       kindBool,
	driver.AttrControlIOSignal:              kindString,
}

var readOnly = map[driver.Attribute]bool{
	driver.AttrTSRIsAcquisitionComplete: true,
	driver.AttrTSRMemoryOverflow:        true,
	driver.AttrCalibrationRequired:      true,
}

// Digitizer is a simulated instrument. Its methods are safe for concurrent
// use, although package acquisition uses a session from one goroutine.
type Digitizer struct {
	mu       sync.Mutex
	identity driver.Identity
	baseRate float64
	faults   Faults
	attrs    map[attrKey]any
	closed   bool

	appliedRate float64
	acquiring   bool
	completed   bool
	busyPolls   int
	tsrArmed    bool
	continues   int
	overflow    bool
	acquired    int
	streamAvail map[string]int
	streamPos   map[string]int

	calls       []string
	calSignals  []string
	initiations int
}

// New returns a simulated digitizer. An empty model defaults to M9703A.
func New(resource, model string) *Digitizer {
	if model == "" {
		model = "M9703A"
	}
	d := &Digitizer{
		identity: driver.Identity{
			Resource:         resource,
			Model:            model,
			SerialNumber:     "SIM0000001",
			FirmwareRevision: "A.01.00",
			DriverRevision:   "sim-1.0",
			Options:          []string{"SR2", "M10", "F10", "INT", "DDC", "AVG", "TSR"},
			ChannelCount:     8,
			DDCCoreCount:     8,
			ControlIOCount:   3,
			NbrADCBits:       12,
		},
		baseRate:    1.6e9,
		attrs:       make(map[attrKey]any),
		streamAvail: make(map[string]int),
		streamPos:   make(map[string]int),
	}
	d.appliedRate = d.baseRate
	d.attrs[attrKey{"", driver.AttrSampleRate}] = d.baseRate
	d.attrs[attrKey{"", driver.AttrRecordSize}] = int64(1000)
	d.attrs[attrKey{"", driver.AttrNumRecordsToAcquire}] = int64(1)
	d.attrs[attrKey{"", driver.AttrAcquisitionMode}] = driver.ModeNormal
	d.attrs[attrKey{"", driver.AttrNumberOfAverages}] = int64(1)
	d.attrs[attrKey{"", driver.AttrErrorOnOverrange}] = true
	d.attrs[attrKey{"", driver.AttrTSREnabled}] = false
	d.attrs[attrKey{"", driver.AttrCalibrationUserSignal}] = ""
	return d
}

// SetFaults replaces the injected faults.
func (d *Digitizer) SetFaults(f Faults) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.faults = f
}

// Faults returns the remaining injected faults.
func (d *Digitizer) Faults() Faults {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.faults
}

// Calls returns the names of the session methods invoked so far.
func (d *Digitizer) Calls() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calls...)
}

// CountCalls returns how many times method was invoked.
func (d *Digitizer) CountCalls(method string) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := 0
	for _, c := range d.calls {
		if c == method {
			n++
		}
	}
	return n
}

// CalibrationSignals returns the calibration user-signal routing in effect
// at each SelfCalibrate call.
func (d *Digitizer) CalibrationSignals() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.calSignals...)
}

// Attribute returns the raw stored value of an attribute.
func (d *Digitizer) Attribute(repCap string, attr driver.Attribute) (any, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	v, ok := d.attrs[attrKey{repCap, attr}]
	return v, ok
}

// enter records a call and checks the session and context.
func (d *Digitizer) enter(ctx context.Context, method string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	d.calls = append(d.calls, method)
	if d.closed {
		return d.fail(fmt.Errorf("SIM_INVALID_VALUE: session closed"))
	}
	return nil
}

func (d *Digitizer) fail(err error) error {
	return driver.NormalizeVendorErrorWithVendor(err, d.identity.Resource, "sim")
}

// Identity returns the instrument identity.
func (d *Digitizer) Identity(ctx context.Context) (driver.Identity, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "Identity"); err != nil {
		return driver.Identity{}, err
	}
	return d.identity, nil
}

// SetAttribute stores an attribute value after checking its type.
func (d *Digitizer) SetAttribute(ctx context.Context, repCap string, attr driver.Attribute, value any) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "SetAttribute"); err != nil {
		return err
	}
	k, known := attrKinds[attr]
	if !known || readOnly[attr] {
		return d.fail(fmt.Errorf("SIM_UNKNOWN_ATTRIBUTE: %s is not writable", attr))
	}
	if d.faults.Reject[attr] {
		return d.fail(fmt.Errorf("SIM_INVALID_VALUE: %s rejected value %v", attr, value))
	}
	v, err := coerce(k, value)
	if err != nil {
		return d.fail(fmt.Errorf("SIM_INVALID_VALUE: %s: %v", attr, err))
	}
	switch attr {
	case driver.AttrRecordSize, driver.AttrNumRecordsToAcquire, driver.AttrNumberOfAverages,
		driver.AttrDDCDecimationNum, driver.AttrDDCDecimationDen:
		if v.(int64) <= 0 {
			return d.fail(fmt.Errorf("SIM_INVALID_VALUE: %s must be positive, got %v", attr, v))
		}
	case driver.AttrSampleRate, driver.AttrChannelRange:
		if v.(float64) <= 0 {
			return d.fail(fmt.Errorf("SIM_INVALID_VALUE: %s must be positive, got %v", attr, v))
		}
	}
	d.attrs[attrKey{repCap, attr}] = v
	return nil
}

func coerce(k kind, value any) (any, error) {
	switch k {
	case kindBool:
		if b, ok := value.(bool); ok {
			return b, nil
		}
	case kindInt:
		switch n := value.(type) {
		case int:
			return int64(n), nil
		case int32:
			return int64(n), nil
		case int64:
			return n, nil
		}
	case kindReal:
		switch n := value.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		}
	case kindString:
		if s, ok := value.(string); ok {
			return s, nil
		}
	}
	return nil, fmt.Errorf("unexpected value type %T", value)
}

// GetAttribute returns an attribute value. Unset attributes read as the zero
// value of their type.
func (d *Digitizer) GetAttribute(ctx context.Context, repCap string, attr driver.Attribute) (any, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "GetAttribute"); err != nil {
		return nil, err
	}
	switch attr {
	case driver.AttrSampleRate:
		return d.appliedRate, nil
	case driver.AttrTSRIsAcquisitionComplete:
		return d.tsrArmed && !d.faults.NeverComplete, nil
	case driver.AttrTSRMemoryOverflow:
		return d.overflow, nil
	case driver.AttrCalibrationRequired:
		return d.faults.CalibrationRequired, nil
	}
	k, known := attrKinds[attr]
	if !known {
		return nil, d.fail(fmt.Errorf("SIM_UNKNOWN_ATTRIBUTE: %s", attr))
	}
	if v, ok := d.attrs[attrKey{repCap, attr}]; ok {
		return v, nil
	}
	switch k {
	case kindBool:
		return false, nil
	case kindInt:
		return int64(0), nil
	case kindReal:
		return 0.0, nil
	}
	return "", nil
}

func (d *Digitizer) str(repCap string, attr driver.Attribute) string {
	s, _ := d.attrs[attrKey{repCap, attr}].(string)
	return s
}

func (d *Digitizer) integer(repCap string, attr driver.Attribute, def int64) int64 {
	if n, ok := d.attrs[attrKey{repCap, attr}].(int64); ok {
		return n
	}
	return def
}

func (d *Digitizer) real(repCap string, attr driver.Attribute, def float64) float64 {
	if f, ok := d.attrs[attrKey{repCap, attr}].(float64); ok {
		return f
	}
	return def
}

func (d *Digitizer) flag(repCap string, attr driver.Attribute) bool {
	b, _ := d.attrs[attrKey{repCap, attr}].(bool)
	return b
}

// ApplySetup commits pending settings. Interleaving a channel pair doubles
// the effective sample rate.
func (d *Digitizer) ApplySetup(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "ApplySetup"); err != nil {
		return err
	}
	if d.acquiring {
		return d.fail(fmt.Errorf("SIM_BUSY: acquisition in progress"))
	}
	rate := d.real("", driver.AttrSampleRate, d.baseRate)
	if d.str("", driver.AttrSampleClockSource) == driver.ClockExternal {
		div := d.real("", driver.AttrSampleClockExternalDivider, 1)
		if div <= 0 {
			div = 1
		}
		rate = d.real("", driver.AttrSampleClockExternalFrequency, rate) / div
	}
	for k, v := range d.attrs {
		if k.attr == driver.AttrTimeInterleavedList && v.(string) != "" {
			rate *= 2
			break
		}
	}
	d.appliedRate = rate
	return nil
}

func (d *Digitizer) streaming() bool {
	return d.str("", driver.AttrStreamingMode) != ""
}

// Initiate starts an acquisition.
func (d *Digitizer) Initiate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "Initiate"); err != nil {
		return err
	}
	if d.acquiring {
		return d.fail(fmt.Errorf("SIM_BUSY: acquisition in progress"))
	}
	d.initiations++
	d.acquiring = true
	d.completed = false
	d.busyPolls = d.faults.BusyPolls
	if d.flag("", driver.AttrTSREnabled) {
		d.tsrArmed = true
		d.completed = !d.faults.NeverComplete
		d.acquired++
	}
	if d.streaming() {
		d.streamAvail = make(map[string]int)
		d.streamPos = make(map[string]int)
	}
	return nil
}

// Abort stops any acquisition in progress.
func (d *Digitizer) Abort(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "Abort"); err != nil {
		return err
	}
	d.acquiring = false
	d.tsrArmed = false
	return nil
}

// IsIdle reports whether no acquisition is running.
func (d *Digitizer) IsIdle(ctx context.Context) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "IsIdle"); err != nil {
		return false, err
	}
	if !d.acquiring {
		return true, nil
	}
	if d.faults.NeverComplete || d.tsrArmed || d.streaming() {
		return false, nil
	}
	if d.busyPolls > 0 {
		d.busyPolls--
		return false, nil
	}
	d.complete()
	return true, nil
}

func (d *Digitizer) complete() {
	d.acquiring = false
	d.completed = true
	d.acquired++
}

// WaitForComplete blocks until the acquisition completes or timeout
// elapses.
func (d *Digitizer) WaitForComplete(ctx context.Context, timeout time.Duration) error {
	d.mu.Lock()
	if err := d.enter(ctx, "WaitForComplete"); err != nil {
		d.mu.Unlock()
		return err
	}
	if !d.acquiring && !d.completed {
		d.mu.Unlock()
		return d.fail(fmt.Errorf("SIM_NOT_ARMED: no acquisition in progress"))
	}
	never := d.faults.NeverComplete
	if !never && d.acquiring {
		d.busyPolls = 0
		d.complete()
	}
	d.mu.Unlock()
	if !never {
		return nil
	}
	t := time.NewTimer(timeout)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
	}
	return d.fail(fmt.Errorf("SIM_TIMEOUT: max time exceeded after %v", timeout))
}

// SelfCalibrate runs a simulated calibration.
func (d *Digitizer) SelfCalibrate(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "SelfCalibrate"); err != nil {
		return err
	}
	d.calSignals = append(d.calSignals, d.str("", driver.AttrCalibrationUserSignal))
	if d.acquiring {
		return d.fail(fmt.Errorf("SIM_BUSY: acquisition in progress"))
	}
	if d.faults.CalibrationFails {
		return d.fail(fmt.Errorf("SIM_CALIBRATION: self calibration failed"))
	}
	d.faults.CalibrationRequired = false
	return nil
}

// TSRContinue releases the acquisition memory of the previous TSR record
// set. It fails when no TSR acquisition is armed.
func (d *Digitizer) TSRContinue(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.enter(ctx, "TSRContinue"); err != nil {
		return err
	}
	if !d.tsrArmed {
		return d.fail(fmt.Errorf("SIM_NOT_ARMED: no acquisition in progress"))
	}
	d.continues++
	if d.faults.TSROverflowAfter > 0 && d.continues >= d.faults.TSROverflowAfter {
		d.overflow = true
	}
	d.completed = !d.faults.NeverComplete
	d.acquired++
	return nil
}

// Close releases the session.
func (d *Digitizer) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, "Close")
	d.closed = true
	d.acquiring = false
	d.tsrArmed = false
	return nil
}

// tone returns the sine value in [-1, 1] of channel ch at sample n of
// record r.
func tone(ch, r, n int, xinc float64) float64 {
	freq := 10e6 * float64(ch)
	phase := 0.1 * float64(r)
	return math.Sin(2*math.Pi*freq*float64(n)*xinc + phase)
}

// timing returns the trigger timestamp and sub-sample offset of record r of
// the current acquisition.
func (d *Digitizer) timing(r int, xinc float64) (offset, seconds, fraction float64) {
	frac := math.Mod(float64(r+1)*0.37, 1)
	offset = -frac * xinc
	seconds = float64(d.acquired)
	fraction = float64(r) * 1e-3
	return offset, seconds, fraction
}
