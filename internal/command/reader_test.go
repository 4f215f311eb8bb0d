package command

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		name    string
		line    string
		want    map[string]any
		wantErr bool
	}{
		{"object", `{"records": 10, "mode": "DDC"}`, map[string]any{"records": json.Number("10"), "mode": "DDC"}, false},
		{"empty object", `{}`, map[string]any{}, false},
		{"array", `[1, 2]`, nil, true},
		{"number", `42`, nil, true},
		{"broken", `{"records": `, nil, true},
		{"trailing", `{"a":1} {"b":2}`, nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseLine([]byte(tt.line))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseLineRejectsNonObject(t *testing.T) {
	_, err := ParseLine([]byte(`"samples"`))
	assert.ErrorIs(t, err, ErrNotObject)
}

func TestReaderQueuesValidLinesAndSignalsEOF(t *testing.T) {
	input := strings.Join([]string{
		`{"records": 4}`,
		``,
		`not json`,
		`{"samples": 1000, "mode": "AVG"}`,
		`[1]`,
	}, "\n")

	log, hook := logtest.NewNullLogger()
	q := NewQueue()
	eof := 0
	r := NewReader(strings.NewReader(input), q, "stdin", log, func() { eof++ })

	require.NoError(t, r.Run(context.Background()))
	assert.Equal(t, 1, eof)

	cmds := q.Drain()
	require.Len(t, cmds, 2)
	assert.Equal(t, json.Number("4"), cmds[0].Params["records"])
	assert.Equal(t, "AVG", cmds[1].Params["mode"])
	assert.Equal(t, "stdin", cmds[1].Source)

	dropped := 0
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel {
			dropped++
		}
	}
	assert.Equal(t, 2, dropped)
}

func TestReaderStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	log, _ := logtest.NewNullLogger()
	q := NewQueue()
	called := false
	r := NewReader(strings.NewReader("{\"records\":1}\n"), q, "stdin", log, func() { called = true })

	err := r.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, called)
	assert.True(t, q.Empty())
}
