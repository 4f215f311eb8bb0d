package driver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// Attribute identifies a driver attribute.
type Attribute string

// Instrument attributes written by the configuration applier and read by
// the acquisition loop.
const (
	AttrSampleClockSource            Attribute = "SampleClock.Source"
	AttrSampleClockExternalFrequency Attribute = "SampleClock.ExternalFrequency"
	AttrSampleClockExternalDivider   Attribute = "SampleClock.ExternalDivider"
	AttrReferenceOscillatorSource    Attribute = "ReferenceOscillator.Source"

	AttrAcquisitionMode          Attribute = "Acquisition.Mode"
	AttrNumberOfAverages         Attribute = "Acquisition.NumberOfAverages"
	AttrSampleRate               Attribute = "Acquisition.SampleRate"
	AttrRecordSize               Attribute = "Acquisition.RecordSize"
	AttrNumRecordsToAcquire      Attribute = "Acquisition.NumberOfRecordsToAcquire"
	AttrTSREnabled               Attribute = "Acquisition.TSR.Enabled"
	AttrTSRIsAcquisitionComplete Attribute = "Acquisition.TSR.IsAcquisitionComplete"
	AttrTSRMemoryOverflow        Attribute = "Acquisition.TSR.MemoryOverflowOccurred"
	AttrStreamingMode            Attribute = "Acquisition.Streaming.Mode"
	AttrErrorOnOverrange         Attribute = "Acquisition.ErrorOnOverrangeEnabled"
	AttrDDCCenterFrequency       Attribute = "DDCCore.CenterFrequency"
	AttrDDCDecimationNum         Attribute = "DDCCore.DecimationNumerator"
	AttrDDCDecimationDen         Attribute = "DDCCore.DecimationDenominator"
	AttrTimeInterleavedList      Attribute = "Channel.TimeInterleavedChannelList"
	AttrChannelRange             Attribute = "Channel.Range"
	AttrChannelOffset            Attribute = "Channel.Offset"
	AttrCalibrationTargetVolt    Attribute = "Channel.CalibrationTargetVoltage"

	AttrTriggerActiveSource  Attribute = "Trigger.ActiveSource"
	AttrTriggerLevel         Attribute = "TriggerSource.Level"
	AttrTriggerSlope         Attribute = "TriggerSource.Slope"
	AttrTriggerDelay         Attribute = "Trigger.Delay"
	AttrTriggerOutputEnabled Attribute = "Trigger.OutputEnabled"
	AttrTriggerOutputSource  Attribute = "Trigger.Output.Source"
	AttrTriggerOutputOffset  Attribute = "Trigger.Output.Offset"
	AttrSelfTriggerMode      Attribute = "SelfTrigger.Mode"
	AttrSelfTriggerFrequency Attribute = "SelfTrigger.SquareWave.Frequency"
	AttrSelfTriggerDuty      Attribute = "SelfTrigger.SquareWave.DutyCycle"
	AttrSelfTriggerPulse     Attribute = "SelfTrigger.PulseDuration"

	AttrCalibrationRequired    Attribute = "Calibration.IsRequired"
	AttrCalibrationUserSignal  Attribute = "Calibration.UserSignal"
	AttrCalibrationTargetVoltE Attribute = "Calibration.TargetVoltageEnabled"
	AttrControlIOSignal        Attribute = "ControlIO.Signal"
)

// Enumerated attribute values.
const (
	ClockInternal = "Internal"
	ClockExternal = "External"

	RefInternal = "Internal"
	RefExternal = "External"
	RefPXIe     = "PxiExpressClk100"
	RefAXIe     = "AXIeClk100"

	ModeNormal         = "Normal"
	ModeDownConversion = "DownConversion"
	ModeAverager       = "Averager"
	ModeUserDefined    = "UserDefined"

	StreamingContinuous = "Continuous"
	StreamingTriggered  = "Triggered"

	SlopePositive = "Positive"
	SlopeNegative = "Negative"

	SelfTriggerSquareWave  = "SquareWave"
	SelfTriggerArmedPulse  = "ArmedPulse"
	SelfTriggerSourceName  = "SelfTrigger"
	ImmediateTriggerSource = "Immediate"
)

// Identity describes the opened instrument.
type Identity struct {
	Resource         string   `json:"resource"`
	Model            string   `json:"model"`
	SerialNumber     string   `json:"serialNumber"`
	FirmwareRevision string   `json:"firmwareRevision"`
	DriverRevision   string   `json:"driverRevision"`
	Options          []string `json:"options,omitempty"`
	ChannelCount     int      `json:"channelCount"`
	DDCCoreCount     int      `json:"ddcCoreCount"`
	ControlIOCount   int      `json:"controlIoCount"`
	NbrADCBits       int      `json:"nbrAdcBits"`
}

// FetchRequest sizes a fetch. Source is the channel or DDC core name.
// BufferSize is the element count returned by QueryMinWaveformMemory.
type FetchRequest struct {
	Source      string
	FirstRecord int
	NumRecords  int
	Offset      int
	NumPoints   int
	SampleType  waveform.SampleType
	BufferSize  int
}

// StreamFetch is a run of elements read from a streaming channel.
// AvailableElements below zero signals a device-side failure.
type StreamFetch struct {
	Samples           waveform.Int32s
	FirstElement      int
	ActualElements    int
	RemainingElements int
	AvailableElements int
	XIncrement        float64
	ScaleFactor       float64
	ScaleOffset       float64
}

// Session is an opened digitizer. A Session is not safe for concurrent use.
type Session interface {
	Identity(ctx context.Context) (Identity, error)

	SetAttribute(ctx context.Context, repCap string, attr Attribute, value any) error
	GetAttribute(ctx context.Context, repCap string, attr Attribute) (any, error)

	ApplySetup(ctx context.Context) error
	Initiate(ctx context.Context) error
	Abort(ctx context.Context) error
	IsIdle(ctx context.Context) (bool, error)
	WaitForComplete(ctx context.Context, timeout time.Duration) error
	SelfCalibrate(ctx context.Context) error
	TSRContinue(ctx context.Context) error

	QueryMinWaveformMemory(ctx context.Context, dataWidth, numRecords, offset, numPoints int) (int, error)
	FetchWaveform(ctx context.Context, req FetchRequest) (*waveform.Fetch, error)
	FetchMultiRecordWaveform(ctx context.Context, req FetchRequest) (*waveform.MultiFetch, error)
	FetchDDCWaveform(ctx context.Context, req FetchRequest) (*waveform.DDCFetch, error)
	FetchAccumulatedWaveform(ctx context.Context, req FetchRequest) (*waveform.AccFetch, error)
	StreamFetch(ctx context.Context, stream string, requested int) (*StreamFetch, error)

	Close() error
}

// GetBool reads a boolean attribute.
func GetBool(ctx context.Context, s Session, repCap string, attr Attribute) (bool, error) {
	v, err := s.GetAttribute(ctx, repCap, attr)
	if err != nil {
		return false, getError(attr, err)
	}
	b, ok := v.(bool)
	if !ok {
		return false, typeError(attr, "bool", v)
	}
	return b, nil
}

// GetReal64 reads a floating-point attribute.
func GetReal64(ctx context.Context, s Session, repCap string, attr Attribute) (float64, error) {
	v, err := s.GetAttribute(ctx, repCap, attr)
	if err != nil {
		return 0, getError(attr, err)
	}
	switch n := v.(type) {
	case float64:
		return n, nil
	case int64:
		return float64(n), nil
	case int:
		return float64(n), nil
	}
	return 0, typeError(attr, "float64", v)
}

// GetInt64 reads an integer attribute.
func GetInt64(ctx context.Context, s Session, repCap string, attr Attribute) (int64, error) {
	v, err := s.GetAttribute(ctx, repCap, attr)
	if err != nil {
		return 0, getError(attr, err)
	}
	switch n := v.(type) {
	case int64:
		return n, nil
	case int:
		return int64(n), nil
	case int32:
		return int64(n), nil
	}
	return 0, typeError(attr, "int64", v)
}

// GetString reads a string attribute.
func GetString(ctx context.Context, s Session, repCap string, attr Attribute) (string, error) {
	v, err := s.GetAttribute(ctx, repCap, attr)
	if err != nil {
		return "", getError(attr, err)
	}
	str, ok := v.(string)
	if !ok {
		return "", typeError(attr, "string", v)
	}
	return str, nil
}

// getError normalizes a failed read. Cancellation is passed through.
func getError(attr Attribute, err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return NormalizeVendorError(err, attr)
}

func typeError(attr Attribute, want string, got any) error {
	return &DriverError{
		Code:     ErrInvalidValue,
		Original: fmt.Errorf("attribute %s: want %s, got %T", attr, want, got),
	}
}

// ChannelName returns the repeated-capability name of 1-based channel n.
func ChannelName(n int) string { return fmt.Sprintf("Channel%d", n) }

// DDCCoreName returns the repeated-capability name of 1-based DDC core n.
func DDCCoreName(n int) string { return fmt.Sprintf("DDCCore%d", n) }

// StreamName returns the streaming channel name of 1-based channel n.
func StreamName(n int) string { return fmt.Sprintf("StreamCh%d", n) }

// ControlIOName returns the repeated-capability name of 1-based control I/O n.
func ControlIOName(n int) string { return fmt.Sprintf("ControlIO%d", n) }
