package acquisition

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/calibration"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/setup"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/sink"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

const (
	defaultPollQuantum  = 200 * time.Millisecond
	defaultTSRPollTries = 10000
	defaultTSRPollDelay = 100 * time.Microsecond
)

// Options configures an Orchestrator. Zero values select defaults.
type Options struct {
	Queue     *command.Queue
	Sink      sink.Sink
	Observers []Observer
	Log       logrus.FieldLogger
	RunID     string

	PollQuantum  time.Duration
	TSRPollTries int
	TSRPollDelay time.Duration
}

// Status is a snapshot of the orchestrator for status reporting.
type Status struct {
	RunID        string          `json:"runId"`
	State        State           `json:"state"`
	Loop         int             `json:"loop"`
	Acquired     int             `json:"acquired"`
	Skipped      int             `json:"skipped"`
	Calibrations int             `json:"calibrations"`
	Started      time.Time       `json:"started"`
	Identity     driver.Identity `json:"identity"`
}

// Orchestrator runs the acquisition loop on one session. The session is
// used only from the goroutine calling Run.
type Orchestrator struct {
	session   driver.Session
	queue     *command.Queue
	sink      sink.Sink
	observers []Observer
	log       logrus.FieldLogger
	runID     string
	applier   *setup.Applier
	calib     *calibration.Controller
	fetcher   *Fetcher

	pollQuantum  time.Duration
	tsrPollTries int
	tsrPollDelay time.Duration

	// requested is the configuration as asked for; applied carries the
	// values read back from the instrument.
	requested *config.Config
	applied   *config.Config

	mu     sync.RWMutex
	status Status
}

// New returns an Orchestrator for session and the finalized cfg.
func New(session driver.Session, cfg *config.Config, opts Options) *Orchestrator {
	if opts.Queue == nil {
		opts.Queue = command.NewQueue()
	}
	if opts.Sink == nil {
		opts.Sink = sink.Discard
	}
	if opts.Log == nil {
		opts.Log = logrus.StandardLogger()
	}
	if opts.RunID == "" {
		opts.RunID = uuid.NewString()
	}
	if opts.PollQuantum <= 0 {
		opts.PollQuantum = defaultPollQuantum
	}
	if opts.TSRPollTries <= 0 {
		opts.TSRPollTries = defaultTSRPollTries
	}
	if opts.TSRPollDelay <= 0 {
		opts.TSRPollDelay = defaultTSRPollDelay
	}
	log := opts.Log.WithField("run_id", opts.RunID)
	return &Orchestrator{
		session:      session,
		queue:        opts.Queue,
		sink:         opts.Sink,
		observers:    opts.Observers,
		log:          log,
		runID:        opts.RunID,
		applier:      setup.NewApplier(log),
		calib:        calibration.NewController(log),
		pollQuantum:  opts.PollQuantum,
		tsrPollTries: opts.TSRPollTries,
		tsrPollDelay: opts.TSRPollDelay,
		requested:    cfg.Clone(),
		applied:      cfg.Clone(),
		status:       Status{RunID: opts.RunID, State: StateIdle},
	}
}

// Queue returns the command queue the loop drains.
func (o *Orchestrator) Queue() *command.Queue { return o.queue }

// Status returns a snapshot of the run. Safe for concurrent use.
func (o *Orchestrator) Status() Status {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.status
}

// Config returns a copy of the applied configuration. Safe for concurrent
// use.
func (o *Orchestrator) Config() *config.Config {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.applied.Clone()
}

func (o *Orchestrator) setState(s State) {
	o.mu.Lock()
	changed := o.status.State != s
	o.status.State = s
	loop := o.status.Loop
	o.mu.Unlock()
	if changed {
		o.emit(Event{Type: EventState, Loop: loop, State: s})
	}
}

func (o *Orchestrator) update(fn func(*Status)) {
	o.mu.Lock()
	fn(&o.status)
	o.mu.Unlock()
}

func (o *Orchestrator) emit(e Event) {
	if len(o.observers) == 0 {
		return
	}
	e.RunID = o.runID
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	if e.Type != EventState {
		e.State = o.Status().State
	}
	for _, ob := range o.observers {
		ob.Observe(e)
	}
}

// Run configures the instrument and loops until the loop limit, the
// cancellation of ctx, a closed downstream or a fatal error. The session
// is closed before Run returns. Cancellation and a closed downstream end
// the run without error.
func (o *Orchestrator) Run(ctx context.Context) (err error) {
	defer func() {
		if serr := o.shutdown(); serr != nil {
			err = errors.Join(err, serr)
		}
		o.setState(StateIdle)
	}()

	id, err := o.session.Identity(ctx)
	if err != nil {
		return fmt.Errorf("identity: %w", err)
	}
	o.fetcher = NewFetcher(o.log, id)
	o.update(func(s *Status) {
		s.Identity = id
		s.Started = time.Now()
	})
	o.log.WithFields(logrus.Fields{
		"resource": id.Resource,
		"model":    id.Model,
		"serial":   id.SerialNumber,
		"firmware": id.FirmwareRevision,
		"options":  id.Options,
		"channels": id.ChannelCount,
	}).Info("instrument identified")

	o.setState(StateConfiguring)
	applied, err := o.applier.Apply(ctx, o.session, o.requested)
	if err != nil {
		o.fault(0, err)
		return err
	}
	o.setApplied(applied)
	o.emit(Event{Type: EventConfigured, Data: map[string]any{
		"mode":       applied.Mode,
		"records":    applied.Records,
		"samples":    applied.Samples,
		"sampleRate": applied.SamplingFrequency,
	}})

	for loop := 0; ; loop++ {
		if ctx.Err() != nil {
			o.log.WithField("loop", loop).Info("run cancelled")
			return nil
		}
		if o.applied.Loops >= 0 && loop >= o.applied.Loops {
			o.log.WithField("loops", loop).Info("loop limit reached")
			return nil
		}
		o.update(func(s *Status) { s.Loop = loop })

		done, err := o.iterate(ctx, loop)
		if err != nil && ctx.Err() != nil {
			o.log.WithField("loop", loop).WithError(err).Info("run cancelled")
			return nil
		}
		if err != nil {
			o.fault(loop, err)
			return err
		}
		if done {
			return nil
		}
	}
}

// iterate runs one pass of the loop. It reports done when the run must end
// without error.
func (o *Orchestrator) iterate(ctx context.Context, loop int) (done bool, err error) {
	it := &Iteration{RunID: o.runID, Loop: loop, Started: time.Now()}
	log := o.log.WithField("loop", loop)

	if err := o.reconfigure(ctx, loop); err != nil {
		return false, err
	}
	cfg := o.applied
	it.Mode, it.Channels = cfg.Mode, len(cfg.ReadChannels)
	it.Records, it.Samples, it.SampleRate = cfg.ReadRecords, cfg.ReadSamples, cfg.SamplingFrequency

	calibrated, err := o.calibrate(ctx, loop, cfg)
	if err != nil {
		return false, err
	}
	it.Calibrated = calibrated

	finish := func(outcome Outcome, cause error) {
		it.Outcome = outcome
		it.Duration = time.Since(it.Started)
		if cause != nil {
			it.Error = cause.Error()
		}
		if outcome == OutcomeAcquired {
			o.update(func(s *Status) { s.Acquired++ })
		} else {
			o.update(func(s *Status) { s.Skipped++ })
		}
		o.emit(Event{Type: EventIteration, Loop: loop, Iteration: it})
	}

	ok, err := o.Acquire(ctx, loop)
	var timeout *AcquisitionTimeoutError
	switch {
	case errors.As(err, &timeout):
		o.setState(StateTimedOut)
		if cfg.FailOnWaitTimeout {
			return false, err
		}
		log.WithError(err).Warn("acquisition timed out, skipping iteration")
		finish(OutcomeTimedOut, err)
		return false, nil
	case err != nil:
		return false, err
	case !ok:
		o.setState(StateAborted)
		finish(OutcomeInterrupted, nil)
		return ctx.Err() != nil, nil
	}
	o.setState(StateCompleted)

	agg, err := o.fetcher.Fetch(ctx, o.session, cfg)
	var inconsistent *waveform.ConsistencyError
	switch {
	case errors.As(err, &timeout):
		timeout.Loop = loop
		if cfg.FailOnWaitTimeout {
			return false, err
		}
		log.WithError(err).Warn("stream data timed out, skipping iteration")
		finish(OutcomeTimedOut, err)
		return false, nil
	case errors.As(err, &inconsistent):
		log.WithError(err).Error("inconsistent waveforms discarded")
		finish(OutcomeInconsistent, err)
		return false, nil
	case err != nil && ctx.Err() != nil:
		finish(OutcomeInterrupted, nil)
		return true, nil
	case err != nil:
		return false, fmt.Errorf("fetch at loop %d: %w", loop, err)
	}

	if err := o.sink.Write(agg); err != nil {
		if errors.Is(err, sink.ErrDownstreamClosed) {
			log.Info("downstream closed, ending run")
			finish(OutcomeAcquired, nil)
			return true, nil
		}
		return false, fmt.Errorf("emit at loop %d: %w", loop, err)
	}
	finish(OutcomeAcquired, nil)
	o.setState(StateIdle)
	return false, nil
}

// reconfigure drains the command queue and applies the resulting
// configuration when a value changed.
func (o *Orchestrator) reconfigure(ctx context.Context, loop int) error {
	cmds := o.queue.Drain()
	if len(cmds) == 0 {
		return nil
	}
	next, res := command.Update(o.requested, cmds)
	log := o.log.WithField("loop", loop)
	for _, key := range res.Unknown {
		log.WithField("field", key).Warn("unknown parameter ignored")
	}
	for _, r := range res.Rejected {
		log.WithFields(logrus.Fields{"field": r.Key, "command_id": r.CommandID}).WithError(r.Err).Warn("parameter rejected")
	}
	if !res.Changed {
		return nil
	}
	changes := make(map[string]any, len(res.Changes))
	for _, c := range res.Changes {
		log.WithFields(logrus.Fields{"field": c.Key, "value": c.Value}).Info("parameter changed")
		changes[c.Key] = c.Value
	}

	o.setState(StateConfiguring)
	applied, err := o.applier.Apply(ctx, o.session, next)
	if err != nil {
		return err
	}
	o.requested = next
	o.setApplied(applied)
	o.fetcher.Reset()
	o.calib.Force()
	o.emit(Event{Type: EventReconfigured, Loop: loop, Data: changes})
	return nil
}

func (o *Orchestrator) setApplied(cfg *config.Config) {
	o.mu.Lock()
	o.applied = cfg
	o.mu.Unlock()
}

// calibrate runs the calibration controller. A running acquisition is
// aborted first; TSR and streaming runs re-arm on the next acquire.
func (o *Orchestrator) calibrate(ctx context.Context, loop int, cfg *config.Config) (bool, error) {
	due, err := o.calib.ShouldCalibrate(ctx, o.session, loop, cfg)
	if err != nil || !due {
		return false, err
	}
	o.setState(StateCalibrating)
	idle, err := o.session.IsIdle(ctx)
	if err != nil {
		return false, fmt.Errorf("idle status: %w", err)
	}
	if !idle {
		if err := o.session.Abort(ctx); err != nil {
			return false, fmt.Errorf("abort before calibration: %w", err)
		}
	}
	err = o.calib.Calibrate(ctx, o.session, loop, cfg)
	o.update(func(s *Status) { s.Calibrations = o.calib.Count() })
	data := map[string]any{"count": o.calib.Count()}
	if err != nil {
		data["error"] = err.Error()
	}
	o.emit(Event{Type: EventCalibrated, Loop: loop, Data: data})
	return true, err
}

func (o *Orchestrator) fault(loop int, err error) {
	o.emit(Event{Type: EventFault, Loop: loop, Data: map[string]any{"error": err.Error()}})
}

// shutdown stops continuous acquisitions and releases the session.
func (o *Orchestrator) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	var errs []error
	if o.applied.TSR || o.applied.Streaming() {
		if err := o.session.Abort(ctx); err != nil {
			errs = append(errs, fmt.Errorf("abort: %w", err))
		}
	}
	if err := o.session.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close session: %w", err))
	}
	return errors.Join(errs...)
}
