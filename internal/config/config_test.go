package config

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultFinalize(t *testing.T) {
	c := Default()
	c.Finalize()
	require.NoError(t, Validate(c))

	assert.Equal(t, -1, c.Loops)
	assert.Equal(t, 1, c.ReadRecords)
	assert.Equal(t, 200, c.ReadSamples)
	assert.False(t, c.Overrides.ReadRecords)
	assert.False(t, c.Overrides.ReadSamples)
	assert.Equal(t, time.Second, c.WaitTimeoutDuration())
	assert.Zero(t, c.PollTimeoutDuration())
}

func TestRefreshHonorsStartupOverrides(t *testing.T) {
	c := Default()
	c.ReadSamples = 50
	c.Finalize()
	assert.True(t, c.Overrides.ReadSamples)

	_, err := c.Set("records", 10)
	require.NoError(t, err)
	_, err = c.Set("samples", 1000)
	require.NoError(t, err)
	c.Refresh()

	assert.Equal(t, 10, c.ReadRecords)
	assert.Equal(t, 50, c.ReadSamples)

	// A second Finalize keeps the flags recorded by the first.
	c.ReadRecords = 3
	c.Finalize()
	assert.False(t, c.Overrides.ReadRecords)
	assert.Equal(t, 10, c.ReadRecords)
}

func TestSetReportsChanges(t *testing.T) {
	tests := []struct {
		key   string
		value any
		check func(t *testing.T, c *Config)
	}{
		{"records", json.Number("4"), func(t *testing.T, c *Config) { assert.Equal(t, 4, c.Records) }},
		{"samples", float64(512), func(t *testing.T, c *Config) { assert.Equal(t, 512, c.Samples) }},
		{"tsr", true, func(t *testing.T, c *Config) { assert.True(t, c.TSR) }},
		{"mode", "AVG", func(t *testing.T, c *Config) { assert.Equal(t, ModeAVG, c.Mode) }},
		{"wait_timeout", json.Number("0.5"), func(t *testing.T, c *Config) { assert.Equal(t, 500*time.Millisecond, c.WaitTimeoutDuration()) }},
		{"trigger_level", json.Number("0.25"), func(t *testing.T, c *Config) {
			require.NotNil(t, c.TriggerLevel)
			assert.Equal(t, 0.25, *c.TriggerLevel)
		}},
		{"read_channels", []any{json.Number("1"), json.Number("2")}, func(t *testing.T, c *Config) { assert.Equal(t, []int{1, 2}, c.ReadChannels) }},
		{"interleave", "1,3", func(t *testing.T, c *Config) { assert.Equal(t, []int{1, 3}, c.Interleave) }},
		{"sampling_interval", 0.5, func(t *testing.T, c *Config) { assert.Equal(t, 2.0, c.SamplingFrequency) }},
		{"calibration_signal", json.Number("2"), func(t *testing.T, c *Config) { assert.Equal(t, "2", c.CalibrationSignal) }},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			c := Default()
			changed, err := c.Set(tt.key, tt.value)
			require.NoError(t, err)
			assert.True(t, changed)
			tt.check(t, c)

			changed, err = c.Set(tt.key, tt.value)
			require.NoError(t, err)
			assert.False(t, changed, "same value must not report a change")
		})
	}
}

func TestSetErrors(t *testing.T) {
	c := Default()
	_, err := c.Set("recordz", 1)
	assert.ErrorContains(t, err, "unknown parameter")

	for key, value := range map[string]any{
		"records":        "many",
		"samples":        1.5,
		"tsr":            "perhaps",
		"mode":           []any{},
		"vertical_range": true,
		"read_channels":  []any{"x"},
	} {
		_, err := c.Set(key, value)
		assert.Error(t, err, key)
	}
	assert.Equal(t, 1, c.Records)
}

func TestOptionalClearedByNull(t *testing.T) {
	c := Default()
	_, err := c.Set("trigger_delay", 1e-6)
	require.NoError(t, err)
	changed, err := c.Set("trigger_delay", nil)
	require.NoError(t, err)
	assert.True(t, changed)
	assert.Nil(t, c.TriggerDelay)
}

func TestCloneIsDeep(t *testing.T) {
	c := Default()
	level := 0.1
	c.TriggerLevel = &level
	c.Interleave = []int{1, 2}

	d := c.Clone()
	*d.TriggerLevel = 0.2
	d.Interleave[0] = 5
	d.ReadChannels[0] = 7

	assert.Equal(t, 0.1, *c.TriggerLevel)
	assert.Equal(t, []int{1, 2}, c.Interleave)
	assert.Equal(t, []int{1}, c.ReadChannels)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{"zero records", func(c *Config) { c.Records = 0 }, "records must be positive"},
		{"bad mode", func(c *Config) { c.Mode = "FFT" }, "unknown mode"},
		{"bad view", func(c *Config) { c.Mode = ModeDDC; c.DDCSampleView = "POLAR" }, "view"},
		{"zero averages", func(c *Config) { c.Mode = ModeAVG; c.Averages = 0 }, "averages"},
		{"tsr and streaming", func(c *Config) { c.TSR = true; c.StreamingContinuous = true }, "exclusive"},
		{"single interleave", func(c *Config) { c.Interleave = []int{1} }, "interleave"},
		{"divider", func(c *Config) { c.ClockExtDivider = 0 }, "divider"},
		{"ref", func(c *Config) { c.ClockRef = "gps" }, "reference oscillator"},
		{"slope", func(c *Config) { c.TriggerSlope = "up" }, "slope"},
		{"wait timeout", func(c *Config) { c.WaitTimeout = 0 }, "wait timeout"},
		{"read type", func(c *Config) { c.ReadType = "int4" }, "read type"},
		{"no channels", func(c *Config) { c.ReadChannels = nil }, "read channels"},
		{"channel zero", func(c *Config) { c.ReadChannels = []int{0} }, "at least 1"},
		{"mqtt topic", func(c *Config) { c.Service.MQTT.Broker = "tcp://broker:1883"; c.Service.MQTT.Topic = "" }, "topic"},
		{"jitter", func(c *Config) { c.Service.Telemetry.HeartbeatJitter = time.Minute }, "jitter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(c)
			c.Finalize()
			assert.ErrorContains(t, Validate(c), tt.errMsg)
		})
	}

	c := Default()
	c.WaitTimeout = 0
	c.PollTimeout = 0.5
	assert.NoError(t, Validate(c))
	assert.Error(t, Validate(nil))
}

func TestLoadFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "digitizer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
resources: [SIM:M9703A]
records: 4
samples: 1024
mode: DDC
ddc_sample_view: MAGNITUDE
read_channels: [1, 2]
trigger_level: 0.1
service:
  listen: ":8080"
  telemetry:
    heartbeat_interval: 10s
`), 0o644))

	t.Setenv("DIGITIZER_SAMPLES", "2048")
	t.Setenv("DIGITIZER_READ_SAMPLES", "100")
	t.Setenv("DIGITIZER_LOG_LEVEL", "debug")

	c, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"SIM:M9703A"}, c.Resources)
	assert.Equal(t, 4, c.Records)
	assert.Equal(t, 2048, c.Samples)
	assert.Equal(t, 4, c.ReadRecords)
	assert.Equal(t, 100, c.ReadSamples)
	assert.True(t, c.Overrides.ReadSamples)
	assert.Equal(t, ModeDDC, c.Mode)
	assert.Equal(t, []int{1, 2}, c.ReadChannels)
	require.NotNil(t, c.TriggerLevel)
	assert.Equal(t, 0.1, *c.TriggerLevel)
	assert.Equal(t, ":8080", c.Service.Listen)
	assert.Equal(t, 10*time.Second, c.Service.Telemetry.HeartbeatInterval)
	assert.Equal(t, "debug", c.Service.LogLevel)
}

func TestLoadErrors(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("recordz: 3\n"), 0o644))
	_, err = Load(path)
	assert.ErrorContains(t, err, "failed to parse YAML")

	t.Setenv("DIGITIZER_RECORDS", "lots")
	_, err = Load("")
	assert.ErrorContains(t, err, "DIGITIZER_RECORDS")
}

func TestKeysCoverFields(t *testing.T) {
	keys := Keys()
	assert.Len(t, keys, len(Fields))
	assert.Contains(t, keys, "records")
	assert.Contains(t, keys, "samples")
	assert.IsIncreasing(t, keys)
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("DIGITIZER_TEST_INT", "42")
	t.Setenv("DIGITIZER_TEST_BAD", "x")
	t.Setenv("DIGITIZER_TEST_DUR", "250ms")
	t.Setenv("DIGITIZER_TEST_FLOAT", "2.5")
	t.Setenv("DIGITIZER_TEST_BOOL", "true")

	assert.Equal(t, 42, GetEnvInt("DIGITIZER_TEST_INT", 1))
	assert.Equal(t, 1, GetEnvInt("DIGITIZER_TEST_BAD", 1))
	assert.Equal(t, 250*time.Millisecond, GetEnvDuration("DIGITIZER_TEST_DUR", time.Second))
	assert.Equal(t, 2.5, GetEnvFloat("DIGITIZER_TEST_FLOAT", 0))
	assert.True(t, GetEnvBool("DIGITIZER_TEST_BOOL", false))
	assert.Equal(t, "fallback", GetEnvVar("DIGITIZER_TEST_UNSET", "fallback"))
}
