package config

import (
	"fmt"
	"strings"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

// Validate checks the configuration for values no instrument accepts and
// for conflicting selections.
func Validate(config *Config) error {
	if config == nil {
		return fmt.Errorf("config cannot be nil")
	}

	if err := validateAcquisition(config); err != nil {
		return fmt.Errorf("acquisition validation failed: %w", err)
	}
	if err := validateClock(config); err != nil {
		return fmt.Errorf("clock validation failed: %w", err)
	}
	if err := validateTrigger(config); err != nil {
		return fmt.Errorf("trigger validation failed: %w", err)
	}
	if err := validateTimeouts(config); err != nil {
		return fmt.Errorf("timeout validation failed: %w", err)
	}
	if err := validateReadout(config); err != nil {
		return fmt.Errorf("readout validation failed: %w", err)
	}
	if err := validateService(&config.Service); err != nil {
		return fmt.Errorf("service validation failed: %w", err)
	}
	return nil
}

func validateAcquisition(c *Config) error {
	if c.Records <= 0 {
		return fmt.Errorf("records must be positive, got %d", c.Records)
	}
	if c.Samples <= 0 {
		return fmt.Errorf("samples must be positive, got %d", c.Samples)
	}
	switch c.Mode {
	case ModeNormal, ModeUser:
	case ModeDDC:
		if c.DDCDecimationNumerator < 0 || c.DDCDecimationDenominator < 0 {
			return fmt.Errorf("DDC decimation %d/%d must not be negative",
				c.DDCDecimationNumerator, c.DDCDecimationDenominator)
		}
		if _, err := waveform.ParseView(c.DDCSampleView); err != nil {
			return err
		}
	case ModeAVG:
		if c.Averages <= 0 {
			return fmt.Errorf("averages must be positive, got %d", c.Averages)
		}
	default:
		return fmt.Errorf("unknown mode %q", c.Mode)
	}
	if c.TSR && c.Streaming() {
		return fmt.Errorf("tsr and streaming are exclusive")
	}
	if c.StreamingContinuous && c.StreamingTriggered {
		return fmt.Errorf("continuous and triggered streaming are exclusive")
	}
	if n := len(c.Interleave); n == 1 {
		return fmt.Errorf("interleave expects at least 2 channels, got %d", n)
	}
	if c.CalibratePeriod < 0 {
		return fmt.Errorf("calibrate period must not be negative, got %d", c.CalibratePeriod)
	}
	if c.SelfTriggerSquareWave && c.SelfTriggerArmedPulse {
		return fmt.Errorf("self trigger square wave and armed pulse are exclusive")
	}
	if c.SelfTriggerWaveDutyCycle < 0 || c.SelfTriggerWaveDutyCycle > 100 {
		return fmt.Errorf("self trigger duty cycle %v outside [0, 100]", c.SelfTriggerWaveDutyCycle)
	}
	return nil
}

func validateClock(c *Config) error {
	if c.ClockExternal < 0 {
		return fmt.Errorf("external clock frequency must not be negative, got %v", c.ClockExternal)
	}
	if c.ClockExtDivider <= 0 {
		return fmt.Errorf("external clock divider must be positive, got %v", c.ClockExtDivider)
	}
	switch c.ClockRef {
	case "", RefInternal, RefExternal, RefPXI, RefAXIe:
	default:
		return fmt.Errorf("unknown reference oscillator %q", c.ClockRef)
	}
	if c.SamplingFrequency < 0 {
		return fmt.Errorf("sampling frequency must not be negative, got %v", c.SamplingFrequency)
	}
	return nil
}

func validateTrigger(c *Config) error {
	if c.TriggerExternal < 0 || c.TriggerInternal < 0 {
		return fmt.Errorf("trigger source index must not be negative")
	}
	if c.TriggerExternal > 0 && c.TriggerInternal > 0 {
		return fmt.Errorf("external and internal trigger are exclusive")
	}
	switch strings.ToLower(c.TriggerSlope) {
	case "", "positive", "p", "negative", "n":
	default:
		return fmt.Errorf("unknown trigger slope %q", c.TriggerSlope)
	}
	return nil
}

func validateTimeouts(c *Config) error {
	if c.PollTimeout < 0 {
		return fmt.Errorf("poll timeout must not be negative, got %v", c.PollTimeout)
	}
	if c.PollTimeout == 0 && c.WaitTimeout <= 0 {
		return fmt.Errorf("wait timeout must be positive, got %v", c.WaitTimeout)
	}
	return nil
}

func validateReadout(c *Config) error {
	if c.ReadRecords < 0 || c.ReadSamples < 0 {
		return fmt.Errorf("read counts must not be negative")
	}
	switch c.ReadType {
	case "", "int8", "int16", "int32", "real64":
	default:
		return fmt.Errorf("unknown read type %q", c.ReadType)
	}
	if len(c.ReadChannels) == 0 {
		return fmt.Errorf("read channels must not be empty")
	}
	for _, ch := range c.ReadChannels {
		if ch < 1 {
			return fmt.Errorf("read channel %d must be at least 1", ch)
		}
	}
	if c.Streaming() && len(c.ReadChannels) > 2 {
		return fmt.Errorf("streaming reads at most 2 channels, got %d", len(c.ReadChannels))
	}
	return nil
}

func validateService(s *ServiceConfig) error {
	if s.MQTT.Broker != "" && s.MQTT.Topic == "" {
		return fmt.Errorf("mqtt topic required with broker %s", s.MQTT.Broker)
	}
	if s.MQTT.QoS < 0 || s.MQTT.QoS > 2 {
		return fmt.Errorf("mqtt qos must be 0, 1 or 2, got %d", s.MQTT.QoS)
	}
	t := s.Telemetry
	if t.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive, got %v", t.HeartbeatInterval)
	}
	if t.HeartbeatJitter < 0 || t.HeartbeatJitter > t.HeartbeatInterval/2 {
		return fmt.Errorf("heartbeat jitter %v exceeds 50%% of interval %v", t.HeartbeatJitter, t.HeartbeatInterval)
	}
	if t.EventBufferSize <= 0 {
		return fmt.Errorf("event buffer size must be positive, got %d", t.EventBufferSize)
	}
	return nil
}
