package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

func TestNewConsoleOnly(t *testing.T) {
	var console bytes.Buffer
	log, closer, err := New(Options{Level: "debug"}, &console)
	require.NoError(t, err)
	defer closer.Close()

	assert.Equal(t, logrus.DebugLevel, log.GetLevel())
	log.WithField("loop", 3).Debug("acquired")
	assert.Contains(t, console.String(), "msg=acquired")
	assert.Contains(t, console.String(), "loop=3")
}

func TestNewWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "digitizer.log")
	var console bytes.Buffer
	log, closer, err := New(Options{File: path, MaxSizeMB: 1, JSON: true}, &console)
	require.NoError(t, err)

	log.Info("instrument identified")
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"msg":"instrument identified"`)
	assert.Equal(t, console.String(), string(data))
}

func TestNewRejectsBadLevel(t *testing.T) {
	_, _, err := New(Options{Level: "loud"}, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestFromService(t *testing.T) {
	opts := FromService(config.Default().Service)
	assert.Equal(t, "info", opts.Level)
	assert.Equal(t, 100, opts.MaxSizeMB)
	assert.Empty(t, opts.File)
}
