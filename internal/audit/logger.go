package audit

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/acquisition"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/setup"
)

// Outcomes recorded in an Entry.
const (
	OutcomeSuccess  = "SUCCESS"
	OutcomeRejected = "REJECTED"
	OutcomeFailed   = "FAILED"
)

// Entry is one audit record, written as a JSON line.
type Entry struct {
	Timestamp time.Time      `json:"ts"`
	User      string         `json:"user"`
	Run       string         `json:"run,omitempty"`
	Action    string         `json:"action"`
	Params    map[string]any `json:"params"`
	Outcome   string         `json:"outcome"`
	Code      string         `json:"code"`
}

// Logger appends audit entries. Safe for concurrent use.
type Logger struct {
	mu   sync.Mutex
	w    io.Writer
	path string
	now  func() time.Time
}

// NewLogger appends to the JSONL file at path, rotated by size.
func NewLogger(path string, maxSizeMB, maxBackups int) (*Logger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create audit log directory: %w", err)
	}
	return &Logger{
		w: &lumberjack.Logger{
			Filename:   path,
			MaxSize:    maxSizeMB,
			MaxBackups: maxBackups,
		},
		path: path,
		now:  time.Now,
	}, nil
}

// NewWriterLogger appends to w.
func NewWriterLogger(w io.Writer) *Logger {
	return &Logger{w: w, now: time.Now}
}

// Path returns the audit file path, empty for a writer logger.
func (l *Logger) Path() string { return l.path }

// Log writes entry, stamping it when its timestamp is zero.
func (l *Logger) Log(entry Entry) error {
	if entry.Timestamp.IsZero() {
		entry.Timestamp = l.now().UTC()
	}
	if entry.User == "" {
		entry.User = "system"
	}
	if entry.Params == nil {
		entry.Params = map[string]any{}
	}
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("marshal audit entry: %w", err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write audit entry: %w", err)
	}
	return nil
}

// LogCommand records a parameter command submitted by user.
func (l *Logger) LogCommand(user, source, commandID string, params map[string]any, err error) error {
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeRejected
	}
	p := make(map[string]any, len(params)+2)
	for k, v := range params {
		p[k] = v
	}
	p["source"] = source
	p["commandId"] = commandID
	return l.Log(Entry{
		User:    user,
		Action:  "submit_command",
		Params:  p,
		Outcome: outcome,
		Code:    Code(err),
	})
}

// Rotate starts a new audit file. Writer loggers ignore it.
func (l *Logger) Rotate() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if r, ok := l.w.(interface{ Rotate() error }); ok {
		return r.Rotate()
	}
	return nil
}

// Close closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if c, ok := l.w.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Code maps err to a stable audit code.
func Code(err error) string {
	var cfgErr *setup.ConfigurationError
	switch {
	case err == nil:
		return "SUCCESS"
	case errors.Is(err, command.ErrUnknownParameter):
		return "UNKNOWN_PARAMETER"
	case errors.Is(err, command.ErrInvalidParameter):
		return "INVALID_VALUE"
	case errors.As(err, &cfgErr):
		return "CONFIGURATION"
	case errors.Is(err, driver.ErrInvalidValue):
		return "INVALID_VALUE"
	case errors.Is(err, driver.ErrBusy):
		return "BUSY"
	case errors.Is(err, driver.ErrUnavailable):
		return "UNAVAILABLE"
	case errors.Is(err, driver.ErrTimeout):
		return "TIMEOUT"
	case errors.Is(err, driver.ErrCalibration):
		return "CALIBRATION_FAILED"
	default:
		return "ERROR"
	}
}

// Observer records the orchestrator events that change the instrument.
type Observer struct {
	log     *Logger
	onError func(error)
}

// NewObserver returns an acquisition.Observer writing to log. Write
// failures are passed to onError when it is not nil.
func NewObserver(log *Logger, onError func(error)) *Observer {
	return &Observer{log: log, onError: onError}
}

// Observe implements acquisition.Observer.
func (o *Observer) Observe(e acquisition.Event) {
	var entry Entry
	switch e.Type {
	case acquisition.EventConfigured:
		entry = Entry{Action: "configure", Outcome: OutcomeSuccess, Code: "SUCCESS"}
	case acquisition.EventReconfigured:
		entry = Entry{Action: "reconfigure", Outcome: OutcomeSuccess, Code: "SUCCESS"}
	case acquisition.EventCalibrated:
		entry = Entry{Action: "self_calibrate", Outcome: OutcomeSuccess, Code: "SUCCESS"}
		if _, failed := e.Data["error"]; failed {
			entry.Outcome, entry.Code = OutcomeFailed, "CALIBRATION_FAILED"
		}
	case acquisition.EventFault:
		entry = Entry{Action: "fault", Outcome: OutcomeFailed, Code: "ERROR"}
	default:
		return
	}
	entry.Timestamp = e.Time.UTC()
	entry.Run = e.RunID
	entry.Params = map[string]any{"loop": e.Loop}
	for k, v := range e.Data {
		entry.Params[k] = v
	}
	if err := o.log.Log(entry); err != nil && o.onError != nil {
		o.onError(err)
	}
}
