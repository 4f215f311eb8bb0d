package config

import (
	"slices"
	"time"
)

// Acquisition modes.
const (
	ModeNormal = "normal"
	ModeDDC    = "DDC"
	ModeAVG    = "AVG"
	ModeUser   = "user"
)

// Reference oscillator selections.
const (
	RefInternal = "internal"
	RefExternal = "external"
	RefPXI      = "pxi"
	RefAXIe     = "axie"
)

// Config is the complete acquisition configuration. Durations on the
// acquisition side are in seconds, as on the command channel.
type Config struct {
	Resources []string `yaml:"resources"`
	Reset     bool     `yaml:"reset"`

	Loops   int `yaml:"loops"`
	Records int `yaml:"records"`
	Samples int `yaml:"samples"`

	NoCalibrate            bool    `yaml:"no_calibrate"`
	CalibrateOnce          bool    `yaml:"calibrate_once"`
	CalibratePeriod        int     `yaml:"calibrate_period"`
	CalibrationSignal      string  `yaml:"calibration_signal"`
	CalOffsetTarget        float64 `yaml:"cal_offset_target"`
	FailOnCalibrationError bool    `yaml:"fail_on_calibration_error"`

	ClockExternal     float64 `yaml:"clock_external"`
	ClockExtDivider   float64 `yaml:"clock_ext_divider"`
	ClockRef          string  `yaml:"clock_ref"`
	SamplingFrequency float64 `yaml:"sampling_frequency"`
	SamplingInterval  float64 `yaml:"sampling_interval"`

	Mode                        string  `yaml:"mode"`
	DDCLocalOscillatorFrequency float64 `yaml:"ddc_local_oscillator_frequency"`
	DDCDecimationNumerator      int     `yaml:"ddc_decimation_numerator"`
	DDCDecimationDenominator    int     `yaml:"ddc_decimation_denominator"`
	DDCSampleView               string  `yaml:"ddc_sample_view"`
	Averages                    int     `yaml:"averages"`

	Interleave          []int `yaml:"interleave"`
	TSR                 bool  `yaml:"tsr"`
	StreamingContinuous bool  `yaml:"streaming_continuous"`
	StreamingTriggered  bool  `yaml:"streaming_triggered"`

	ImmediateTrigger     bool     `yaml:"immediate_trigger"`
	TriggerName          string   `yaml:"trigger_name"`
	TriggerExternal      int      `yaml:"trigger_external"`
	TriggerInternal      int      `yaml:"trigger_internal"`
	TriggerLevel         *float64 `yaml:"trigger_level"`
	TriggerDelay         *float64 `yaml:"trigger_delay"`
	TriggerSlope         string   `yaml:"trigger_slope"`
	TriggerOutputEnabled *bool    `yaml:"trigger_output_enabled"`
	TriggerOutputSource  string   `yaml:"trigger_output_source"`
	TriggerOutputOffset  *float64 `yaml:"trigger_output_offset"`

	VerticalRange  float64 `yaml:"vertical_range"`
	VerticalOffset float64 `yaml:"vertical_offset"`

	ControlIO1 string `yaml:"control_io1"`
	ControlIO2 string `yaml:"control_io2"`
	ControlIO3 string `yaml:"control_io3"`

	SelfTriggerSquareWave    bool    `yaml:"self_trigger_square_wave"`
	SelfTriggerArmedPulse    bool    `yaml:"self_trigger_armed_pulse"`
	SelfTriggerWaveFrequency float64 `yaml:"self_trigger_wave_frequency"`
	SelfTriggerWaveDutyCycle float64 `yaml:"self_trigger_wave_duty_cycle"`
	SelfTriggerPulseDuration float64 `yaml:"self_trigger_pulse_duration"`

	WaitTimeout       float64 `yaml:"wait_timeout"`
	PollTimeout       float64 `yaml:"poll_timeout"`
	FailOnWaitTimeout bool    `yaml:"fail_on_wait_timeout"`

	ReadRecords    int    `yaml:"read_records"`
	ReadSamples    int    `yaml:"read_samples"`
	ReadType       string `yaml:"read_type"`
	ReadChannels   []int  `yaml:"read_channels"`
	NoCheckXOffset bool   `yaml:"no_check_x_offset"`

	Service ServiceConfig `yaml:"service"`

	// Overrides records which derived fields were set explicitly before
	// the first Finalize.
	Overrides Overrides `yaml:"-"`
	finalized bool
}

// Overrides flags read counts the operator set at startup.
type Overrides struct {
	ReadRecords bool
	ReadSamples bool
}

// ServiceConfig configures the process around the acquisition loop.
type ServiceConfig struct {
	Listen    string          `yaml:"listen"`
	JWT       JWTConfig       `yaml:"jwt"`
	MQTT      MQTTConfig      `yaml:"mqtt"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	CatalogDSN    string `yaml:"catalog_dsn"`
	AuditLog      string `yaml:"audit_log"`
	ArchivePath   string `yaml:"archive_path"`
	ArchiveSnappy bool   `yaml:"archive_snappy"`

	LogFile       string `yaml:"log_file"`
	LogLevel      string `yaml:"log_level"`
	LogMaxSizeMB  int    `yaml:"log_max_size_mb"`
	LogMaxBackups int    `yaml:"log_max_backups"`
}

// JWTConfig selects the token verification key. Exactly one of Secret and
// PublicKeyFile is used; Secret wins when both are set.
type JWTConfig struct {
	Secret        string `yaml:"secret"`
	PublicKeyFile string `yaml:"public_key_file"`
}

// MQTTConfig configures the remote command source. An empty Broker disables
// it.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Topic    string `yaml:"topic"`
	QoS      int    `yaml:"qos"`
}

// TelemetryConfig configures the event stream.
type TelemetryConfig struct {
	HeartbeatInterval    time.Duration `yaml:"heartbeat_interval"`
	HeartbeatJitter      time.Duration `yaml:"heartbeat_jitter"`
	EventBufferSize      int           `yaml:"event_buffer_size"`
	EventBufferRetention time.Duration `yaml:"event_buffer_retention"`
}

// Default returns the baseline configuration.
func Default() *Config {
	return &Config{
		Loops:           -1,
		Records:         1,
		Samples:         200,
		ClockExtDivider: 1.0,
		ClockRef:        RefInternal,
		Mode:            ModeNormal,
		DDCSampleView:   "REAL",
		Averages:        1,
		WaitTimeout:     1.0,
		ReadChannels:    []int{1},
		Service: ServiceConfig{
			LogLevel:      "info",
			LogMaxSizeMB:  100,
			LogMaxBackups: 3,
			MQTT: MQTTConfig{
				ClientID: "digitizer",
				Topic:    "digitizer/commands",
				QoS:      1,
			},
			Telemetry: TelemetryConfig{
				HeartbeatInterval:    15 * time.Second,
				HeartbeatJitter:      2 * time.Second,
				EventBufferSize:      50,
				EventBufferRetention: time.Hour,
			},
		},
	}
}

// Clone returns a deep copy.
func (c *Config) Clone() *Config {
	out := *c
	out.Resources = slices.Clone(c.Resources)
	out.Interleave = slices.Clone(c.Interleave)
	out.ReadChannels = slices.Clone(c.ReadChannels)
	out.TriggerLevel = clonePtr(c.TriggerLevel)
	out.TriggerDelay = clonePtr(c.TriggerDelay)
	out.TriggerOutputEnabled = clonePtr(c.TriggerOutputEnabled)
	out.TriggerOutputOffset = clonePtr(c.TriggerOutputOffset)
	return &out
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}

// Finalize derives dependent fields. The first call records which read
// counts were set explicitly.
func (c *Config) Finalize() {
	if !c.finalized {
		c.Overrides = Overrides{
			ReadRecords: c.ReadRecords > 0,
			ReadSamples: c.ReadSamples > 0,
		}
		c.finalized = true
	}
	if c.SamplingInterval > 0 && c.SamplingFrequency == 0 {
		c.SamplingFrequency = 1 / c.SamplingInterval
	} else if c.SamplingFrequency > 0 {
		c.SamplingInterval = 1 / c.SamplingFrequency
	}
	c.Refresh()
}

// Refresh re-derives the read counts that track the acquisition counts.
func (c *Config) Refresh() {
	if !c.Overrides.ReadRecords {
		c.ReadRecords = c.Records
	}
	if !c.Overrides.ReadSamples {
		c.ReadSamples = c.Samples
	}
}

// Streaming reports whether a streaming mode is selected.
func (c *Config) Streaming() bool {
	return c.StreamingContinuous || c.StreamingTriggered
}

// WaitTimeoutDuration returns the wait-for-complete bound.
func (c *Config) WaitTimeoutDuration() time.Duration {
	return seconds(c.WaitTimeout)
}

// PollTimeoutDuration returns the poll bound. Zero selects the blocking
// wait.
func (c *Config) PollTimeoutDuration() time.Duration {
	return seconds(c.PollTimeout)
}

func seconds(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
