// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/config"
)

// Options selects the logger destinations.
type Options struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
	JSON       bool
}

// FromService returns the options carried by the service configuration.
func FromService(s config.ServiceConfig) Options {
	return Options{
		Level:      s.LogLevel,
		File:       s.LogFile,
		MaxSizeMB:  s.LogMaxSizeMB,
		MaxBackups: s.LogMaxBackups,
	}
}

// New returns a logger writing to console, and also to a size-rotated
// file when opts.File is set. Trace data owns stdout, so console is
// normally stderr. The returned closer releases the file.
func New(opts Options, console io.Writer) (*logrus.Logger, io.Closer, error) {
	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, nil, fmt.Errorf("log level: %w", err)
		}
		level = l
	}

	log := logrus.New()
	log.SetLevel(level)
	if opts.JSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}

	if opts.File == "" {
		log.SetOutput(console)
		return log, io.NopCloser(nil), nil
	}
	if err := os.MkdirAll(filepath.Dir(opts.File), 0o755); err != nil {
		return nil, nil, fmt.Errorf("create log directory: %w", err)
	}
	file := &lumberjack.Logger{
		Filename:   opts.File,
		MaxSize:    opts.MaxSizeMB,
		MaxBackups: opts.MaxBackups,
	}
	log.SetOutput(io.MultiWriter(console, file))
	return log, file, nil
}
