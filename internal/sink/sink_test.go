package sink

import (
	"errors"
	"io"
	"os"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/trace"
	"github.com/DidierTrosset-Acqiris/Waveforms/internal/waveform"
)

func sampleRecord(t *testing.T) *waveform.Record {
	t.Helper()
	rec := waveform.NewRecord()
	require.NoError(t, rec.Append(&waveform.Fetch{
		Samples:        waveform.Int16s{-2243, 3171, 8093, 11667, 13533, 13203, 10973, 6947},
		ActualPoints:   8,
		XIncrement:     6.25e-10,
		InitialXOffset: -7.93457e-11,
		ScaleFactor:    1,
	}))
	return rec
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestStreamMapsClosedPipe(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		downstream bool
	}{
		{"epipe", syscall.EPIPE, true},
		{"closed pipe", io.ErrClosedPipe, true},
		{"closed file", os.ErrClosed, true},
		{"disk full", syscall.ENOSPC, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := NewStream(failingWriter{err: tt.err}).Write(sampleRecord(t))
			require.Error(t, err)
			assert.Equal(t, tt.downstream, errors.Is(err, ErrDownstreamClosed))
		})
	}
}

func TestArchiveRoundTrip(t *testing.T) {
	for _, compress := range []bool{false, true} {
		path := filepath.Join(t.TempDir(), "trace.txt")
		a, err := CreateArchive(path, compress)
		require.NoError(t, err)
		require.NoError(t, a.Write(sampleRecord(t)))
		require.NoError(t, a.Write(sampleRecord(t)))
		require.NoError(t, a.Close())

		r, err := OpenArchive(path, compress)
		require.NoError(t, err)
		aggs, err := trace.DecodeAll(r)
		require.NoError(t, err)
		require.NoError(t, r.Close())
		require.Len(t, aggs, 2)

		view, err := aggs[1].Record(0)
		require.NoError(t, err)
		wf, err := view.Channel(0)
		require.NoError(t, err)
		assert.Equal(t, waveform.Int16s{-2243, 3171, 8093, 11667, 13533, 13203, 10973, 6947}, wf.Samples())
	}
}

func TestMultiWritesAllAndJoinsErrors(t *testing.T) {
	var calls []string
	boom := errors.New("boom")
	m := Multi{
		Func(func(waveform.Aggregate) error { calls = append(calls, "a"); return boom }),
		Func(func(waveform.Aggregate) error { calls = append(calls, "b"); return ErrDownstreamClosed }),
		Discard,
	}
	err := m.Write(sampleRecord(t))
	assert.ErrorIs(t, err, boom)
	assert.ErrorIs(t, err, ErrDownstreamClosed)
	assert.Equal(t, []string{"a", "b"}, calls)

	assert.NoError(t, Multi{Discard}.Write(sampleRecord(t)))
}
