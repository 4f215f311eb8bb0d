package acquisition

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver/sim"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/sink"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

type collector struct {
	mu     sync.Mutex
	aggs   []waveform.Aggregate
	events []Event
}

func (c *collector) Write(agg waveform.Aggregate) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.aggs = append(c.aggs, agg)
	return nil
}

func (c *collector) Observe(e Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, e)
}

func (c *collector) count(t EventType) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, e := range c.events {
		if e.Type == t {
			n++
		}
	}
	return n
}

func testConfig(t *testing.T, mutate func(*config.Config)) *config.Config {
	t.Helper()
	c := config.Default()
	c.Loops = 1
	c.NoCalibrate = true
	if mutate != nil {
		mutate(c)
	}
	c.Finalize()
	require.NoError(t, config.Validate(c))
	return c
}

func newTestOrchestrator(t *testing.T, cfg *config.Config, faults sim.Faults) (*Orchestrator, *sim.Digitizer, *collector) {
	t.Helper()
	dev := sim.New("SIM:M9703A", "")
	dev.SetFaults(faults)
	log, _ := logtest.NewNullLogger()
	col := &collector{}
	o := New(dev, cfg, Options{
		Sink:         col,
		Observers:    []Observer{col},
		Log:          log,
		PollQuantum:  5 * time.Millisecond,
		TSRPollTries: 20,
		TSRPollDelay: time.Millisecond,
	})
	return o, dev, col
}

func TestRunSingleRecord(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Loops = 3
		c.Samples = 64
		c.ReadChannels = []int{1, 2}
	})
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{})

	require.NoError(t, o.Run(context.Background()))

	require.Len(t, col.aggs, 3)
	rec, ok := col.aggs[0].(*waveform.Record)
	require.True(t, ok, "single-record reads produce a Record")
	assert.Equal(t, 2, rec.Channels())
	wf, err := rec.Channel(1)
	require.NoError(t, err)
	assert.Equal(t, 64, wf.ActualPoints())
	assert.Equal(t, waveform.SampleInt16, wf.Samples().Type())

	st := o.Status()
	assert.Equal(t, 3, st.Acquired)
	assert.Equal(t, 0, st.Skipped)
	assert.Equal(t, StateIdle, st.State)
	assert.Equal(t, "M9703A", st.Identity.Model)
	assert.Equal(t, 3, col.count(EventIteration))

	calls := dev.Calls()
	assert.Equal(t, "Close", calls[len(calls)-1])
}

func TestRunMultiRecordDDCAndAveraged(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		check  func(t *testing.T, agg waveform.Aggregate)
	}{
		{
			name: "multi record",
			mutate: func(c *config.Config) {
				c.Records = 4
				c.Samples = 32
			},
			check: func(t *testing.T, agg waveform.Aggregate) {
				mr, ok := agg.(*waveform.MultiRecord)
				require.True(t, ok)
				assert.Equal(t, 4, mr.Records())
			},
		},
		{
			name: "down conversion",
			mutate: func(c *config.Config) {
				c.Mode = config.ModeDDC
				c.Records = 2
				c.Samples = 16
				c.DDCDecimationNumerator = 4
				c.DDCDecimationDenominator = 1
				c.DDCSampleView = "MAGNITUDE"
			},
			check: func(t *testing.T, agg waveform.Aggregate) {
				ddc, ok := agg.(*waveform.DDCMultiRecord)
				require.True(t, ok)
				assert.Equal(t, waveform.ViewMagnitude, ddc.View())
				pairs, err := ddc.Pairs(1, 0)
				require.NoError(t, err)
				assert.Equal(t, waveform.SampleInt16, pairs.Type())
				assert.Equal(t, 32, pairs.Len())
			},
		},
		{
			name: "averager",
			mutate: func(c *config.Config) {
				c.Mode = config.ModeAVG
				c.Averages = 8
				c.Records = 2
				c.Samples = 16
			},
			check: func(t *testing.T, agg waveform.Aggregate) {
				acc, ok := agg.(*waveform.AccMultiRecord)
				require.True(t, ok)
				assert.Equal(t, 8, acc.ActualAverages())
				assert.Equal(t, 2, acc.Records())
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o, _, col := newTestOrchestrator(t, testConfig(t, tt.mutate), sim.Faults{})
			require.NoError(t, o.Run(context.Background()))
			require.Len(t, col.aggs, 1)
			tt.check(t, col.aggs[0])
		})
	}
}

func TestRunZeroLoopsConfiguresOnly(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Loops = 0 })
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{})

	require.NoError(t, o.Run(context.Background()))
	assert.Empty(t, col.aggs)
	assert.Equal(t, 1, col.count(EventConfigured))
	assert.Equal(t, 1, dev.CountCalls("ApplySetup"))
	assert.Zero(t, dev.CountCalls("Initiate"))
}

func TestRunIdempotentReconfiguration(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Loops = 3 })
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{})

	o.Queue().Push(command.NewCommand("test", map[string]any{"samples": 300}))
	o.observers = append(o.observers, ObserverFunc(func(e Event) {
		if e.Type == EventIteration && e.Loop == 0 {
			o.Queue().Push(command.NewCommand("test", map[string]any{"samples": 300}))
		}
	}))

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 1, col.count(EventReconfigured))
	assert.Equal(t, 2, dev.CountCalls("ApplySetup"), "initial configuration and one reconfiguration")
	assert.Equal(t, 300, o.Config().Samples)
	assert.Equal(t, 300, o.Config().ReadSamples)
}

func TestRunReconfigurationForcesCalibration(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Loops = 3
		c.NoCalibrate = false
		c.CalibrateOnce = true
	})
	o, dev, _ := newTestOrchestrator(t, cfg, sim.Faults{})
	o.observers = append(o.observers, ObserverFunc(func(e Event) {
		if e.Type == EventIteration && e.Loop == 0 {
			o.Queue().Push(command.NewCommand("test", map[string]any{"records": 2}))
		}
	}))

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 2, dev.CountCalls("SelfCalibrate"), "loop 0 and after the reconfiguration")
	assert.Equal(t, 2, o.Status().Calibrations)
}

func TestRunTSROverflowStopsWithoutAnotherContinue(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Loops = -1
		c.TSR = true
	})
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{TSROverflowAfter: 2})

	err := o.Run(context.Background())
	var overflow *DeviceOverflowError
	require.ErrorAs(t, err, &overflow)
	assert.Equal(t, 2, overflow.Loop)

	// The first continue finds nothing armed and initiates.
	assert.Equal(t, 3, dev.CountCalls("TSRContinue"))
	assert.Equal(t, 1, dev.CountCalls("Initiate"))
	assert.Len(t, col.aggs, 2)
	assert.Equal(t, 1, col.count(EventFault))
}

func TestRunTSRLoopLimitAbortsAndCloses(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.Loops = 3
		c.TSR = true
	})
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{})

	require.NoError(t, o.Run(context.Background()))
	assert.Len(t, col.aggs, 3)
	assert.Equal(t, 1, dev.CountCalls("Initiate"), "later iterations continue the armed acquisition")
	assert.Equal(t, 3, dev.CountCalls("TSRContinue"))

	calls := dev.Calls()
	require.GreaterOrEqual(t, len(calls), 2)
	assert.Equal(t, []string{"Abort", "Close"}, calls[len(calls)-2:])
}

func TestRunPollTimeoutIsBounded(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.PollTimeout = 0.05
		c.FailOnWaitTimeout = true
	})
	o, dev, _ := newTestOrchestrator(t, cfg, sim.Faults{NeverComplete: true})

	start := time.Now()
	err := o.Run(context.Background())
	elapsed := time.Since(start)

	var timeout *AcquisitionTimeoutError
	require.ErrorAs(t, err, &timeout)
	assert.Equal(t, "poll", timeout.Phase)
	assert.Less(t, elapsed, 2*time.Second)
	assert.GreaterOrEqual(t, elapsed, 50*time.Millisecond)
	assert.GreaterOrEqual(t, dev.CountCalls("Abort"), 1)
}

func TestRunTimeoutSkipsIterationByDefault(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"poll", func(c *config.Config) { c.PollTimeout = 0.02 }},
		{"wait", func(c *config.Config) { c.WaitTimeout = 0.02 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(t, func(c *config.Config) {
				c.Loops = 2
				tt.mutate(c)
			})
			o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{NeverComplete: true})

			require.NoError(t, o.Run(context.Background()))
			assert.Empty(t, col.aggs)
			st := o.Status()
			assert.Equal(t, 0, st.Acquired)
			assert.Equal(t, 2, st.Skipped)
			assert.Equal(t, 2, dev.CountCalls("Abort"))
			assert.Zero(t, dev.CountCalls("FetchWaveform"))
		})
	}
}

func TestRunPollReturnsEarlyOnQueuedCommand(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) {
		c.PollTimeout = 10
		c.Loops = 2
	})
	o, _, col := newTestOrchestrator(t, cfg, sim.Faults{NeverComplete: true})
	o.observers = append(o.observers, ObserverFunc(func(e Event) {
		if e.Type == EventState && e.State == StateWaiting && e.Loop == 0 {
			o.Queue().Push(command.NewCommand("test", map[string]any{"bogus": 1}))
		}
	}))

	start := time.Now()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	go func() {
		time.Sleep(200 * time.Millisecond)
		cancel()
	}()
	require.NoError(t, o.Run(ctx))
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.Empty(t, col.aggs)
}

func TestRunCancelledEndsWithoutError(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Loops = -1 })
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{})

	ctx, cancel := context.WithCancel(context.Background())
	o.observers = append(o.observers, ObserverFunc(func(e Event) {
		if e.Type == EventIteration && e.Loop == 1 {
			cancel()
		}
	}))
	require.NoError(t, o.Run(ctx))
	assert.Len(t, col.aggs, 2)
	calls := dev.Calls()
	assert.Equal(t, "Close", calls[len(calls)-1])
}

func TestRunDownstreamClosedEndsCleanly(t *testing.T) {
	cfg := testConfig(t, func(c *config.Config) { c.Loops = -1 })
	o, _, _ := newTestOrchestrator(t, cfg, sim.Faults{})
	writes := 0
	o.sink = sink.Func(func(waveform.Aggregate) error {
		writes++
		if writes == 2 {
			return errors.Join(sink.ErrDownstreamClosed, errors.New("broken pipe"))
		}
		return nil
	})

	require.NoError(t, o.Run(context.Background()))
	assert.Equal(t, 2, writes)
}

func TestRunOverrangeRetryRestoresFlag(t *testing.T) {
	cfg := testConfig(t, nil)
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{Overrange: 1})

	require.NoError(t, o.Run(context.Background()))
	require.Len(t, col.aggs, 1)
	assert.Equal(t, 2, dev.CountCalls("FetchWaveform"))
	v, ok := dev.Attribute("", driver.AttrErrorOnOverrange)
	require.True(t, ok)
	assert.Equal(t, true, v)
}

func TestRunConfigurationErrorIsFatal(t *testing.T) {
	cfg := testConfig(t, nil)
	o, dev, col := newTestOrchestrator(t, cfg, sim.Faults{
		Reject: map[driver.Attribute]bool{driver.AttrRecordSize: true},
	})

	err := o.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), string(driver.AttrRecordSize))
	assert.Empty(t, col.aggs)
	assert.Equal(t, 1, col.count(EventFault))
	calls := dev.Calls()
	assert.Equal(t, "Close", calls[len(calls)-1])
}

func TestRunCalibrationFailurePolicy(t *testing.T) {
	for _, fail := range []bool{false, true} {
		cfg := testConfig(t, func(c *config.Config) {
			c.NoCalibrate = false
			c.FailOnCalibrationError = fail
		})
		o, _, col := newTestOrchestrator(t, cfg, sim.Faults{CalibrationFails: true})
		err := o.Run(context.Background())
		if fail {
			assert.Error(t, err)
			assert.Empty(t, col.aggs)
		} else {
			assert.NoError(t, err)
			assert.Len(t, col.aggs, 1)
		}
		assert.Equal(t, 1, col.count(EventCalibrated))
	}
}
