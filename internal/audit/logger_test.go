package audit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/acquisition"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/command"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/driver"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/setup"
)

func readEntries(t *testing.T, data []byte) []Entry {
	t.Helper()
	var out []Entry
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var e Entry
		require.NoError(t, json.Unmarshal(sc.Bytes(), &e))
		out = append(out, e)
	}
	require.NoError(t, sc.Err())
	return out
}

func TestLogDefaults(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)
	l.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }

	require.NoError(t, l.Log(Entry{Action: "configure", Outcome: OutcomeSuccess, Code: "SUCCESS"}))

	entries := readEntries(t, buf.Bytes())
	require.Len(t, entries, 1)
	assert.Equal(t, "system", entries[0].User)
	assert.Equal(t, "2026-03-01T12:00:00Z", entries[0].Timestamp.Format(time.RFC3339))
	assert.NotNil(t, entries[0].Params)
	assert.Contains(t, buf.String(), `"params":{}`)
}

func TestLogCommand(t *testing.T) {
	var buf bytes.Buffer
	l := NewWriterLogger(&buf)

	require.NoError(t, l.LogCommand("operator", "api", "cmd-1", map[string]any{"records": 4}, nil))
	require.NoError(t, l.LogCommand("operator", "api", "cmd-2", map[string]any{"bogus": 1},
		fmt.Errorf("%w: bogus", command.ErrUnknownParameter)))

	entries := readEntries(t, buf.Bytes())
	require.Len(t, entries, 2)

	assert.Equal(t, "submit_command", entries[0].Action)
	assert.Equal(t, "operator", entries[0].User)
	assert.Equal(t, OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "SUCCESS", entries[0].Code)
	assert.Equal(t, "cmd-1", entries[0].Params["commandId"])
	assert.Equal(t, "api", entries[0].Params["source"])
	assert.EqualValues(t, 4, entries[0].Params["records"])

	assert.Equal(t, OutcomeRejected, entries[1].Outcome)
	assert.Equal(t, "UNKNOWN_PARAMETER", entries[1].Code)
}

func TestCode(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "SUCCESS"},
		{fmt.Errorf("%w: records", command.ErrInvalidParameter), "INVALID_VALUE"},
		{&setup.ConfigurationError{Field: "records", Err: driver.ErrInvalidValue}, "CONFIGURATION"},
		{&driver.DriverError{Code: driver.ErrBusy, Original: errors.New("SIM_BUSY")}, "BUSY"},
		{fmt.Errorf("wait: %w", driver.ErrTimeout), "TIMEOUT"},
		{driver.ErrUnavailable, "UNAVAILABLE"},
		{driver.ErrCalibration, "CALIBRATION_FAILED"},
		{errors.New("boom"), "ERROR"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Code(tt.err), "Code(%v)", tt.err)
	}
}

func TestObserverRecordsInstrumentChanges(t *testing.T) {
	var buf bytes.Buffer
	obs := NewObserver(NewWriterLogger(&buf), nil)
	now := time.Now()

	events := []acquisition.Event{
		{Type: acquisition.EventConfigured, RunID: "run", Time: now, Data: map[string]any{"mode": "normal"}},
		{Type: acquisition.EventState, RunID: "run", Time: now, State: acquisition.StateArmed},
		{Type: acquisition.EventIteration, RunID: "run", Time: now, Loop: 1},
		{Type: acquisition.EventReconfigured, RunID: "run", Time: now, Loop: 2, Data: map[string]any{"records": 4}},
		{Type: acquisition.EventCalibrated, RunID: "run", Time: now, Loop: 2, Data: map[string]any{"count": 2}},
		{Type: acquisition.EventCalibrated, RunID: "run", Time: now, Loop: 3, Data: map[string]any{"count": 3, "error": "failed"}},
		{Type: acquisition.EventFault, RunID: "run", Time: now, Loop: 4, Data: map[string]any{"error": "boom"}},
	}
	for _, e := range events {
		obs.Observe(e)
	}

	entries := readEntries(t, buf.Bytes())
	require.Len(t, entries, 5)

	var actions []string
	for _, e := range entries {
		actions = append(actions, e.Action)
		assert.Equal(t, "run", e.Run)
	}
	assert.Equal(t, []string{"configure", "reconfigure", "self_calibrate", "self_calibrate", "fault"}, actions)
	assert.Equal(t, "normal", entries[0].Params["mode"])
	assert.EqualValues(t, 2, entries[1].Params["loop"])
	assert.Equal(t, OutcomeSuccess, entries[2].Outcome)
	assert.Equal(t, "CALIBRATION_FAILED", entries[3].Code)
	assert.Equal(t, OutcomeFailed, entries[4].Outcome)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestObserverReportsWriteErrors(t *testing.T) {
	var got error
	obs := NewObserver(NewWriterLogger(failingWriter{}), func(err error) { got = err })

	obs.Observe(acquisition.Event{Type: acquisition.EventFault, Time: time.Now()})
	assert.ErrorContains(t, got, "disk full")
}

func TestFileLoggerRotates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "audit.jsonl")
	l, err := NewLogger(path, 1, 2)
	require.NoError(t, err)
	defer func() { _ = l.Close() }()
	assert.Equal(t, path, l.Path())

	require.NoError(t, l.Log(Entry{Action: "configure"}))
	require.NoError(t, l.Rotate())
	require.NoError(t, l.Log(Entry{Action: "reconfigure"}))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	entries := readEntries(t, data)
	require.Len(t, entries, 1)
	assert.Equal(t, "reconfigure", entries[0].Action)

	files, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, files, 2, "current file and one backup")
}
