package calibration

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/setup"
)

// CalibrationError reports a failed self-calibration.
type CalibrationError struct {
	Loop int
	Err  error
}

func (e *CalibrationError) Error() string {
	return fmt.Sprintf("self calibration failed at loop %d: %v", e.Loop, e.Err)
}

func (e *CalibrationError) Unwrap() error { return e.Err }

// Controller tracks the calibration policy across loop iterations.
type Controller struct {
	log        logrus.FieldLogger
	forced     bool
	calibrated bool
	count      int
}

// NewController returns a Controller logging to log.
func NewController(log logrus.FieldLogger) *Controller {
	return &Controller{log: log}
}

// Force requests a calibration at the next check.
func (c *Controller) Force() { c.forced = true }

// Count returns the number of calibrations attempted.
func (c *Controller) Count() int { return c.count }

// ShouldCalibrate reports whether a calibration is due at loop.
func (c *Controller) ShouldCalibrate(ctx context.Context, s driver.Session, loop int, cfg *config.Config) (bool, error) {
	if cfg.NoCalibrate {
		return false, nil
	}
	if c.forced {
		return true, nil
	}
	if cfg.CalibrateOnce && c.calibrated {
		return false, nil
	}
	if loop == 0 || (cfg.CalibratePeriod > 0 && loop%cfg.CalibratePeriod == 0) {
		return true, nil
	}
	required, err := driver.GetBool(ctx, s, "", driver.AttrCalibrationRequired)
	if err != nil {
		return false, fmt.Errorf("calibration required status: %w", err)
	}
	return required, nil
}

// Calibrate runs a self-calibration at loop. The calibration signal routing
// is cleared for the duration and restored afterwards. A failure of the
// calibration or of the signal routing is returned as a *CalibrationError
// only when cfg.FailOnCalibrationError is set; otherwise it is logged.
func (c *Controller) Calibrate(ctx context.Context, s driver.Session, loop int, cfg *config.Config) error {
	c.forced = false
	c.calibrated = true
	c.count++
	log := c.log.WithField("loop", loop)

	signal := setup.CalibrationSignal(cfg)
	if signal != "" {
		if err := s.SetAttribute(ctx, "", driver.AttrCalibrationUserSignal, ""); err != nil {
			return c.failed(log, loop, cfg, fmt.Errorf("clear calibration signal: %w", err))
		}
	}

	log.Info("self calibration")
	failure := s.SelfCalibrate(ctx)
	if signal != "" {
		if err := s.SetAttribute(ctx, "", driver.AttrCalibrationUserSignal, signal); err != nil {
			failure = errors.Join(failure, fmt.Errorf("restore calibration signal %s: %w", signal, err))
		}
	}
	if failure != nil {
		return c.failed(log, loop, cfg, failure)
	}
	return nil
}

func (c *Controller) failed(log logrus.FieldLogger, loop int, cfg *config.Config, err error) error {
	if cfg.FailOnCalibrationError {
		return &CalibrationError{Loop: loop, Err: err}
	}
	log.WithError(err).Warn("self calibration failed, keeping previous calibration")
	return nil
}
