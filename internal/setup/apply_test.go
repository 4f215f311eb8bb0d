package setup

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver/sim"
)

type write struct {
	repCap string
	attr   driver.Attribute
	value  any
}

// recorder logs attribute writes in order.
type recorder struct {
	*sim.Digitizer
	writes []write
}

func (r *recorder) SetAttribute(ctx context.Context, repCap string, attr driver.Attribute, value any) error {
	r.writes = append(r.writes, write{repCap, attr, value})
	return r.Digitizer.SetAttribute(ctx, repCap, attr, value)
}

func (r *recorder) index(attr driver.Attribute) int {
	for i, w := range r.writes {
		if w.attr == attr {
			return i
		}
	}
	return -1
}

func newConfig() *config.Config {
	c := config.Default()
	c.Finalize()
	return c
}

func TestApplyWritesInDependencyOrder(t *testing.T) {
	ctx := context.Background()
	log, hook := logtest.NewNullLogger()
	log.SetLevel(logrus.DebugLevel)
	r := &recorder{Digitizer: sim.New("SIM:M9703A", "")}

	c := newConfig()
	level := 0.2
	c.TriggerLevel = &level
	c.TriggerExternal = 2
	c.TriggerSlope = "n"
	c.VerticalRange = 2.5
	c.CalibrationSignal = "3"
	c.ControlIO2 = "Out-AcquisitionActive"

	out, err := NewApplier(log).Apply(ctx, r, c)
	require.NoError(t, err)

	order := []driver.Attribute{
		driver.AttrSampleClockSource,
		driver.AttrAcquisitionMode,
		driver.AttrTSREnabled,
		driver.AttrRecordSize,
		driver.AttrNumRecordsToAcquire,
		driver.AttrTriggerLevel,
		driver.AttrTriggerActiveSource,
		driver.AttrChannelRange,
		driver.AttrCalibrationUserSignal,
		driver.AttrControlIOSignal,
	}
	last := -1
	for _, attr := range order {
		i := r.index(attr)
		require.GreaterOrEqual(t, i, 0, "%s not written", attr)
		assert.Greater(t, i, last, "%s written out of order", attr)
		last = i
	}

	calls := r.Calls()
	assert.Equal(t, "ApplySetup", calls[len(calls)-2])
	assert.Equal(t, "GetAttribute", calls[len(calls)-1])

	v, _ := r.Attribute("External2", driver.AttrTriggerSlope)
	assert.Equal(t, driver.SlopeNegative, v)
	v, _ = r.Attribute("", driver.AttrTriggerActiveSource)
	assert.Equal(t, "External2", v)
	v, _ = r.Attribute("Channel8", driver.AttrChannelRange)
	assert.Equal(t, 2.5, v)
	v, _ = r.Attribute("", driver.AttrCalibrationUserSignal)
	assert.Equal(t, "Signal3", v)
	v, _ = r.Attribute("ControlIO2", driver.AttrControlIOSignal)
	assert.Equal(t, "Out-AcquisitionActive", v)

	assert.Equal(t, 1.6e9, out.SamplingFrequency)
	assert.Zero(t, c.SamplingFrequency, "input snapshot must not change")
	assert.Equal(t, "configuration applied", hook.LastEntry().Message)
}

func TestApplyReadsBackInterleavedRate(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	d := sim.New("SIM:M9703A", "")
	a := NewApplier(log)

	c := newConfig()
	c.Interleave = []int{1, 2}
	out, err := a.Apply(ctx, d, c)
	require.NoError(t, err)
	assert.Equal(t, 3.2e9, out.SamplingFrequency)
	assert.Equal(t, 1/3.2e9, out.SamplingInterval)

	c.Interleave = nil
	out, err = a.Apply(ctx, d, c)
	require.NoError(t, err)
	assert.Equal(t, 1.6e9, out.SamplingFrequency)
	v, _ := d.Attribute("Channel1", driver.AttrTimeInterleavedList)
	assert.Equal(t, "", v)
}

func TestApplyFailureKeepsCommittedInterleave(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	r := &recorder{Digitizer: sim.New("SIM:M9703A", "")}
	a := NewApplier(log)

	c := newConfig()
	c.Interleave = []int{1, 2}
	_, err := a.Apply(ctx, r, c)
	require.NoError(t, err)

	r.SetFaults(sim.Faults{Reject: map[driver.Attribute]bool{driver.AttrRecordSize: true}})
	c.Interleave = []int{3, 4}
	_, err = a.Apply(ctx, r, c)
	require.Error(t, err)
	assert.Equal(t, "Channel1", a.interleaved)

	r.SetFaults(sim.Faults{})
	r.writes = nil
	_, err = a.Apply(ctx, r, c)
	require.NoError(t, err)
	assert.Contains(t, r.writes, write{"Channel1", driver.AttrTimeInterleavedList, ""})
	assert.Contains(t, r.writes, write{"Channel3", driver.AttrTimeInterleavedList, "Channel4"})
	assert.Equal(t, "Channel3", a.interleaved)
}

func TestApplyAbortsBusySession(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	d := sim.New("SIM:M9703A", "")
	d.SetFaults(sim.Faults{NeverComplete: true})
	require.NoError(t, d.Initiate(ctx))

	_, err := NewApplier(log).Apply(ctx, d, newConfig())
	require.NoError(t, err)
	assert.Equal(t, 1, d.CountCalls("Abort"))
}

func TestApplyModes(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()

	t.Run("DDC", func(t *testing.T) {
		d := sim.New("SIM:M9703A", "")
		c := newConfig()
		c.Mode = config.ModeDDC
		c.DDCLocalOscillatorFrequency = 100e6
		c.DDCDecimationNumerator = 4
		_, err := NewApplier(log).Apply(ctx, d, c)
		require.NoError(t, err)

		v, _ := d.Attribute("", driver.AttrAcquisitionMode)
		assert.Equal(t, driver.ModeDownConversion, v)
		for _, core := range []string{"DDCCore1", "DDCCore8"} {
			v, _ = d.Attribute(core, driver.AttrDDCCenterFrequency)
			assert.Equal(t, 100e6, v)
			v, _ = d.Attribute(core, driver.AttrDDCDecimationNum)
			assert.Equal(t, int64(4), v)
		}
		_, ok := d.Attribute("DDCCore1", driver.AttrDDCDecimationDen)
		assert.False(t, ok)
	})

	t.Run("AVG", func(t *testing.T) {
		d := sim.New("SIM:M9703A", "")
		c := newConfig()
		c.Mode = config.ModeAVG
		c.Averages = 64
		_, err := NewApplier(log).Apply(ctx, d, c)
		require.NoError(t, err)
		v, _ := d.Attribute("", driver.AttrNumberOfAverages)
		assert.Equal(t, int64(64), v)
	})

	t.Run("streaming", func(t *testing.T) {
		d := sim.New("SIM:M9703A", "")
		c := newConfig()
		c.StreamingTriggered = true
		_, err := NewApplier(log).Apply(ctx, d, c)
		require.NoError(t, err)
		v, _ := d.Attribute("", driver.AttrStreamingMode)
		assert.Equal(t, driver.StreamingTriggered, v)
	})

	t.Run("self trigger", func(t *testing.T) {
		d := sim.New("SIM:M9703A", "")
		c := newConfig()
		c.TriggerName = driver.SelfTriggerSourceName
		c.SelfTriggerSquareWave = true
		c.SelfTriggerWaveFrequency = 1e3
		c.SelfTriggerWaveDutyCycle = 10
		_, err := NewApplier(log).Apply(ctx, d, c)
		require.NoError(t, err)
		v, _ := d.Attribute(driver.SelfTriggerSourceName, driver.AttrSelfTriggerMode)
		assert.Equal(t, driver.SelfTriggerSquareWave, v)
		v, _ = d.Attribute(driver.SelfTriggerSourceName, driver.AttrSelfTriggerDuty)
		assert.Equal(t, 10.0, v)
	})

	t.Run("external clock", func(t *testing.T) {
		d := sim.New("SIM:M9703A", "")
		c := newConfig()
		c.ClockExternal = 2e9
		c.ClockExtDivider = 2
		out, err := NewApplier(log).Apply(ctx, d, c)
		require.NoError(t, err)
		assert.Equal(t, 1e9, out.SamplingFrequency)
	})

	t.Run("calibration offset target", func(t *testing.T) {
		d := sim.New("SIM:M9703A", "")
		c := newConfig()
		c.CalOffsetTarget = 0.05
		_, err := NewApplier(log).Apply(ctx, d, c)
		require.NoError(t, err)
		v, _ := d.Attribute("", driver.AttrCalibrationTargetVoltE)
		assert.Equal(t, true, v)
		v, _ = d.Attribute("Channel3", driver.AttrCalibrationTargetVolt)
		assert.Equal(t, 0.05, v)
	})
}

func TestApplyRejectedWrite(t *testing.T) {
	ctx := context.Background()
	log, _ := logtest.NewNullLogger()
	d := sim.New("SIM:M9703A", "")
	d.SetFaults(sim.Faults{Reject: map[driver.Attribute]bool{driver.AttrTriggerLevel: true}})

	c := newConfig()
	level := 5.0
	c.TriggerLevel = &level

	_, err := NewApplier(log).Apply(ctx, d, c)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "trigger_level", ce.Field)
	assert.Equal(t, "Internal1", ce.RepCap)
	assert.Equal(t, 5.0, ce.Value)
	assert.ErrorIs(t, err, driver.ErrInvalidValue)
	assert.Contains(t, err.Error(), "trigger_level")
	assert.Zero(t, d.CountCalls("ApplySetup"))
}

func TestActiveTrigger(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(c *config.Config)
		want   string
	}{
		{"default", func(c *config.Config) {}, "Internal1"},
		{"immediate", func(c *config.Config) { c.ImmediateTrigger = true; c.TriggerName = "External1" }, "Immediate"},
		{"named", func(c *config.Config) { c.TriggerName = "SelfTrigger"; c.TriggerExternal = 1 }, "SelfTrigger"},
		{"external", func(c *config.Config) { c.TriggerExternal = 3 }, "External3"},
		{"axie sync", func(c *config.Config) { c.TriggerExternal = 4 }, "AXIe_SYNC"},
		{"internal", func(c *config.Config) { c.TriggerInternal = 2 }, "Internal2"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := config.Default()
			tt.mutate(c)
			assert.Equal(t, tt.want, ActiveTrigger(c))
		})
	}
}
