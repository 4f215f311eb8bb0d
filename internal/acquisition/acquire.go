package acquisition

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
)

// Acquire arms the instrument and waits for the acquisition of one
// iteration. It reports false when there is nothing to fetch because the
// wait was interrupted by cancellation or by a pending command. Timeouts
// abort the acquisition and return an *AcquisitionTimeoutError; a TSR
// memory overflow returns a *DeviceOverflowError.
func (o *Orchestrator) Acquire(ctx context.Context, loop int) (bool, error) {
	cfg := o.applied
	switch {
	case cfg.TSR:
		return o.acquireTSR(ctx, loop)
	case cfg.Streaming():
		return o.acquireStreaming(ctx)
	}

	o.setState(StateArmed)
	if err := o.session.Initiate(ctx); err != nil {
		return false, fmt.Errorf("initiate: %w", err)
	}
	o.setState(StateWaiting)
	if timeout := cfg.PollTimeoutDuration(); timeout > 0 {
		return o.poll(ctx, loop, timeout)
	}
	return o.wait(ctx, loop, cfg.WaitTimeoutDuration())
}

// acquireTSR continues the armed TSR acquisition, or initiates one when
// none is armed, then polls the completion flag.
func (o *Orchestrator) acquireTSR(ctx context.Context, loop int) (bool, error) {
	o.setState(StateArmed)
	err := o.session.TSRContinue(ctx)
	switch {
	case err == nil:
		overflow, err := driver.GetBool(ctx, o.session, "", driver.AttrTSRMemoryOverflow)
		if err != nil {
			return false, fmt.Errorf("tsr overflow status: %w", err)
		}
		if overflow {
			o.log.WithField("loop", loop).Error("TSR memory overflow")
			o.abort(ctx)
			return false, &DeviceOverflowError{Loop: loop}
		}
	case errors.Is(err, driver.ErrNoAcquisitionInProgress):
		if err := o.session.Initiate(ctx); err != nil {
			return false, fmt.Errorf("initiate: %w", err)
		}
	default:
		return false, fmt.Errorf("tsr continue: %w", err)
	}

	o.setState(StateWaiting)
	for i := 0; i < o.tsrPollTries; i++ {
		complete, err := driver.GetBool(ctx, o.session, "", driver.AttrTSRIsAcquisitionComplete)
		if err != nil {
			return false, fmt.Errorf("tsr completion status: %w", err)
		}
		if complete {
			return true, nil
		}
		if err := sleep(ctx, o.tsrPollDelay); err != nil {
			o.abort(ctx)
			return false, nil
		}
	}
	o.abort(ctx)
	return false, &AcquisitionTimeoutError{
		Loop:    loop,
		Phase:   "tsr",
		Timeout: time.Duration(o.tsrPollTries) * o.tsrPollDelay,
	}
}

// acquireStreaming starts the stream when the instrument is idle. Data
// is then read as it arrives.
func (o *Orchestrator) acquireStreaming(ctx context.Context) (bool, error) {
	idle, err := o.session.IsIdle(ctx)
	if err != nil {
		return false, fmt.Errorf("idle status: %w", err)
	}
	if idle {
		o.setState(StateArmed)
		if err := o.session.Initiate(ctx); err != nil {
			return false, fmt.Errorf("initiate: %w", err)
		}
		o.fetcher.Reset()
	}
	o.setState(StateWaiting)
	return true, nil
}

// poll checks the idle status every quantum until the acquisition
// completes, timeout elapses, ctx is cancelled or a command is queued.
// Every outcome but completion aborts the acquisition.
func (o *Orchestrator) poll(ctx context.Context, loop int, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)
	for {
		idle, err := o.session.IsIdle(ctx)
		if err != nil {
			return false, fmt.Errorf("idle status: %w", err)
		}
		if idle {
			return true, nil
		}
		if ctx.Err() != nil || !o.queue.Empty() {
			o.abort(ctx)
			return false, nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			o.abort(ctx)
			return false, &AcquisitionTimeoutError{Loop: loop, Phase: "poll", Timeout: timeout}
		}
		if err := sleep(ctx, min(o.pollQuantum, remaining)); err != nil {
			o.abort(ctx)
			return false, nil
		}
	}
}

// wait blocks in the driver for at most timeout.
func (o *Orchestrator) wait(ctx context.Context, loop int, timeout time.Duration) (bool, error) {
	err := o.session.WaitForComplete(ctx, timeout)
	switch {
	case err == nil:
		return true, nil
	case ctx.Err() != nil:
		o.abort(ctx)
		return false, nil
	case errors.Is(err, driver.ErrTimeout):
		o.abort(ctx)
		return false, &AcquisitionTimeoutError{Loop: loop, Phase: "wait", Timeout: timeout}
	default:
		return false, fmt.Errorf("wait for acquisition: %w", err)
	}
}

// abort stops the acquisition in progress. It runs on a fresh context so
// that it still reaches the instrument after cancellation.
func (o *Orchestrator) abort(ctx context.Context) {
	actx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := o.session.Abort(actx); err != nil {
		o.log.WithError(err).Warn("abort failed")
	}
}
