package setup

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
)

// ConfigurationError reports an attribute write the driver rejected.
type ConfigurationError struct {
	Field     string
	RepCap    string
	Attribute driver.Attribute
	Value     any
	Err       error
}

func (e *ConfigurationError) Error() string {
	target := string(e.Attribute)
	if e.RepCap != "" {
		target = e.RepCap + "." + target
	}
	if e.Field == "" {
		return fmt.Sprintf("configuration rejected at %s: %v", target, e.Err)
	}
	return fmt.Sprintf("configuration field %s rejected: set %s = %v: %v", e.Field, target, e.Value, e.Err)
}

func (e *ConfigurationError) Unwrap() error { return e.Err }

// Applier writes configurations to a session. It remembers the channel it
// interleaved last so that a later configuration without interleaving
// restores it. The channel is committed only once ApplySetup succeeds.
type Applier struct {
	log         logrus.FieldLogger
	interleaved string
	pending     string
}

// NewApplier returns an Applier logging to log.
func NewApplier(log logrus.FieldLogger) *Applier {
	return &Applier{log: log}
}

type writer struct {
	ctx context.Context
	s   driver.Session
	log logrus.FieldLogger
}

func (w writer) set(field, repCap string, attr driver.Attribute, value any) error {
	if err := w.s.SetAttribute(w.ctx, repCap, attr, value); err != nil {
		return &ConfigurationError{Field: field, RepCap: repCap, Attribute: attr, Value: value, Err: err}
	}
	w.log.WithFields(logrus.Fields{"field": field, "attribute": attr, "rep_cap": repCap, "value": value}).Debug("attribute set")
	return nil
}

// Apply aborts any acquisition in progress, writes cfg in dependency order
// and commits it with ApplySetup. The returned copy of cfg carries the
// sample rate the instrument actually selected.
func (a *Applier) Apply(ctx context.Context, s driver.Session, cfg *config.Config) (*config.Config, error) {
	id, err := s.Identity(ctx)
	if err != nil {
		return nil, fmt.Errorf("identity: %w", err)
	}
	idle, err := s.IsIdle(ctx)
	if err != nil {
		return nil, fmt.Errorf("idle status: %w", err)
	}
	if !idle {
		a.log.Info("aborting acquisition in progress before configuration")
		if err := s.Abort(ctx); err != nil {
			return nil, fmt.Errorf("abort: %w", err)
		}
	}

	a.pending = a.interleaved
	w := writer{ctx: ctx, s: s, log: a.log}
	steps := []func(writer, *config.Config, driver.Identity) error{
		applyClock,
		applyMode,
		a.applyInterleave,
		applyContinuous,
		applyRecordSize,
		applyTrigger,
		applyChannels,
		applyCalibration,
		applyControlIO,
		applySelfTrigger,
	}
	for _, step := range steps {
		if err := step(w, cfg, id); err != nil {
			return nil, err
		}
	}

	if err := s.ApplySetup(ctx); err != nil {
		return nil, &ConfigurationError{Attribute: "ApplySetup", Err: err}
	}
	a.interleaved = a.pending

	rate, err := driver.GetReal64(ctx, s, "", driver.AttrSampleRate)
	if err != nil {
		return nil, fmt.Errorf("read back sample rate: %w", err)
	}
	out := cfg.Clone()
	out.SamplingFrequency = rate
	if rate > 0 {
		out.SamplingInterval = 1 / rate
	}
	a.log.WithFields(logrus.Fields{
		"model":       id.Model,
		"firmware":    id.FirmwareRevision,
		"sample_rate": rate,
		"mode":        cfg.Mode,
		"records":     cfg.Records,
		"samples":     cfg.Samples,
	}).Info("configuration applied")
	return out, nil
}

func applyClock(w writer, c *config.Config, _ driver.Identity) error {
	if c.ClockExternal > 0 {
		if err := w.set("clock_external", "", driver.AttrSampleClockSource, driver.ClockExternal); err != nil {
			return err
		}
		if err := w.set("clock_external", "", driver.AttrSampleClockExternalFrequency, c.ClockExternal); err != nil {
			return err
		}
		return w.set("clock_ext_divider", "", driver.AttrSampleClockExternalDivider, c.ClockExtDivider)
	}
	if err := w.set("clock_external", "", driver.AttrSampleClockSource, driver.ClockInternal); err != nil {
		return err
	}
	ref := driver.RefInternal
	switch c.ClockRef {
	case config.RefExternal:
		ref = driver.RefExternal
	case config.RefPXI:
		ref = driver.RefPXIe
	case config.RefAXIe:
		ref = driver.RefAXIe
	}
	return w.set("clock_ref", "", driver.AttrReferenceOscillatorSource, ref)
}

func applyMode(w writer, c *config.Config, id driver.Identity) error {
	switch c.Mode {
	case config.ModeDDC:
		if err := w.set("mode", "", driver.AttrAcquisitionMode, driver.ModeDownConversion); err != nil {
			return err
		}
		for core := 1; core <= id.DDCCoreCount; core++ {
			name := driver.DDCCoreName(core)
			if err := w.set("ddc_local_oscillator_frequency", name, driver.AttrDDCCenterFrequency, c.DDCLocalOscillatorFrequency); err != nil {
				return err
			}
			if c.DDCDecimationNumerator > 0 {
				if err := w.set("ddc_decimation_numerator", name, driver.AttrDDCDecimationNum, int64(c.DDCDecimationNumerator)); err != nil {
					return err
				}
			}
			if c.DDCDecimationDenominator > 0 {
				if err := w.set("ddc_decimation_denominator", name, driver.AttrDDCDecimationDen, int64(c.DDCDecimationDenominator)); err != nil {
					return err
				}
			}
		}
		return nil
	case config.ModeAVG:
		if err := w.set("mode", "", driver.AttrAcquisitionMode, driver.ModeAverager); err != nil {
			return err
		}
		return w.set("averages", "", driver.AttrNumberOfAverages, int64(c.Averages))
	case config.ModeUser:
		return w.set("mode", "", driver.AttrAcquisitionMode, driver.ModeUserDefined)
	}
	return w.set("mode", "", driver.AttrAcquisitionMode, driver.ModeNormal)
}

func (a *Applier) applyInterleave(w writer, c *config.Config, _ driver.Identity) error {
	if len(c.Interleave) >= 2 {
		ch, sub := driver.ChannelName(c.Interleave[0]), driver.ChannelName(c.Interleave[1])
		if ch != a.interleaved && a.interleaved != "" {
			if err := w.set("interleave", a.interleaved, driver.AttrTimeInterleavedList, ""); err != nil {
				return err
			}
		}
		if err := w.set("interleave", ch, driver.AttrTimeInterleavedList, sub); err != nil {
			return err
		}
		a.pending = ch
		return nil
	}
	if a.interleaved != "" {
		if err := w.set("interleave", a.interleaved, driver.AttrTimeInterleavedList, ""); err != nil {
			return err
		}
		a.pending = ""
	}
	return nil
}

func applyContinuous(w writer, c *config.Config, _ driver.Identity) error {
	if err := w.set("tsr", "", driver.AttrTSREnabled, c.TSR); err != nil {
		return err
	}
	if c.Streaming() {
		mode := driver.StreamingTriggered
		if c.StreamingContinuous {
			mode = driver.StreamingContinuous
		}
		return w.set("streaming_continuous", "", driver.AttrStreamingMode, mode)
	}
	return nil
}

func applyRecordSize(w writer, c *config.Config, _ driver.Identity) error {
	if c.SamplingFrequency > 0 {
		if err := w.set("sampling_frequency", "", driver.AttrSampleRate, c.SamplingFrequency); err != nil {
			return err
		}
	}
	if err := w.set("samples", "", driver.AttrRecordSize, int64(c.Samples)); err != nil {
		return err
	}
	return w.set("records", "", driver.AttrNumRecordsToAcquire, int64(c.Records))
}

// ActiveTrigger returns the trigger source name selected by c.
func ActiveTrigger(c *config.Config) string {
	switch {
	case c.ImmediateTrigger:
		return driver.ImmediateTriggerSource
	case c.TriggerName != "":
		return c.TriggerName
	case c.TriggerExternal == 4:
		return "AXIe_SYNC"
	case c.TriggerExternal > 0:
		return fmt.Sprintf("External%d", c.TriggerExternal)
	case c.TriggerInternal > 0:
		return fmt.Sprintf("Internal%d", c.TriggerInternal)
	}
	return "Internal1"
}

func applyTrigger(w writer, c *config.Config, _ driver.Identity) error {
	source := ActiveTrigger(c)
	if source != driver.ImmediateTriggerSource {
		if c.TriggerLevel != nil {
			if err := w.set("trigger_level", source, driver.AttrTriggerLevel, *c.TriggerLevel); err != nil {
				return err
			}
		}
		if c.TriggerDelay != nil {
			if err := w.set("trigger_delay", "", driver.AttrTriggerDelay, *c.TriggerDelay); err != nil {
				return err
			}
		}
		if c.TriggerSlope != "" {
			slope := driver.SlopePositive
			if s := strings.ToLower(c.TriggerSlope); s == "negative" || s == "n" {
				slope = driver.SlopeNegative
			}
			if err := w.set("trigger_slope", source, driver.AttrTriggerSlope, slope); err != nil {
				return err
			}
		}
	}
	if err := w.set("trigger_name", "", driver.AttrTriggerActiveSource, source); err != nil {
		return err
	}
	if c.TriggerOutputEnabled != nil {
		if err := w.set("trigger_output_enabled", "", driver.AttrTriggerOutputEnabled, *c.TriggerOutputEnabled); err != nil {
			return err
		}
	}
	if c.TriggerOutputSource != "" {
		if err := w.set("trigger_output_source", "", driver.AttrTriggerOutputSource, c.TriggerOutputSource); err != nil {
			return err
		}
	}
	if c.TriggerOutputOffset != nil {
		return w.set("trigger_output_offset", "", driver.AttrTriggerOutputOffset, *c.TriggerOutputOffset)
	}
	return nil
}

func applyChannels(w writer, c *config.Config, id driver.Identity) error {
	for ch := 1; ch <= id.ChannelCount; ch++ {
		name := driver.ChannelName(ch)
		if c.VerticalRange != 0 {
			if err := w.set("vertical_range", name, driver.AttrChannelRange, c.VerticalRange); err != nil {
				return err
			}
		}
		if c.VerticalOffset != 0 {
			if err := w.set("vertical_offset", name, driver.AttrChannelOffset, c.VerticalOffset); err != nil {
				return err
			}
		}
	}
	return nil
}

// CalibrationSignal returns the user-signal routing selected by c, or "".
func CalibrationSignal(c *config.Config) string {
	if c.CalibrationSignal == "" {
		return ""
	}
	return "Signal" + c.CalibrationSignal
}

func applyCalibration(w writer, c *config.Config, id driver.Identity) error {
	if sig := CalibrationSignal(c); sig != "" {
		if err := w.set("calibration_signal", "", driver.AttrCalibrationUserSignal, sig); err != nil {
			return err
		}
	}
	if c.CalOffsetTarget == 0 {
		return nil
	}
	if err := w.set("cal_offset_target", "", driver.AttrCalibrationTargetVoltE, true); err != nil {
		return err
	}
	for ch := 1; ch <= id.ChannelCount; ch++ {
		if err := w.set("cal_offset_target", driver.ChannelName(ch), driver.AttrCalibrationTargetVolt, c.CalOffsetTarget); err != nil {
			return err
		}
	}
	return nil
}

func applyControlIO(w writer, c *config.Config, id driver.Identity) error {
	for i, signal := range []string{c.ControlIO1, c.ControlIO2, c.ControlIO3} {
		if signal == "" || i >= id.ControlIOCount {
			continue
		}
		if err := w.set(fmt.Sprintf("control_io%d", i+1), driver.ControlIOName(i+1), driver.AttrControlIOSignal, signal); err != nil {
			return err
		}
	}
	return nil
}

func applySelfTrigger(w writer, c *config.Config, _ driver.Identity) error {
	const src = driver.SelfTriggerSourceName
	switch {
	case c.SelfTriggerSquareWave:
		if err := w.set("self_trigger_square_wave", src, driver.AttrSelfTriggerMode, driver.SelfTriggerSquareWave); err != nil {
			return err
		}
		if err := w.set("self_trigger_wave_frequency", src, driver.AttrSelfTriggerFrequency, c.SelfTriggerWaveFrequency); err != nil {
			return err
		}
		return w.set("self_trigger_wave_duty_cycle", src, driver.AttrSelfTriggerDuty, c.SelfTriggerWaveDutyCycle)
	case c.SelfTriggerArmedPulse:
		if err := w.set("self_trigger_armed_pulse", src, driver.AttrSelfTriggerMode, driver.SelfTriggerArmedPulse); err != nil {
			return err
		}
		if c.SelfTriggerPulseDuration > 0 {
			return w.set("self_trigger_pulse_duration", src, driver.AttrSelfTriggerPulse, c.SelfTriggerPulseDuration)
		}
	}
	return nil
}
