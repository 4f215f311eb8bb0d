package command

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"sync"

	"github.com/sirupsen/logrus"
)

// ErrNotObject is returned for command lines that are valid JSON but not
// an object.
var ErrNotObject = errors.New("command is not a JSON object")

const maxLine = 1 << 20

// ParseLine decodes one command line. Numbers are kept as json.Number so
// integer fields keep their exact value.
func ParseLine(line []byte) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader(line))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, fmt.Errorf("malformed command: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("malformed command: trailing data after object")
	}
	params, ok := v.(map[string]any)
	if !ok {
		return nil, ErrNotObject
	}
	return params, nil
}

// Reader parses newline-delimited commands from a stream onto a Queue.
type Reader struct {
	r      io.Reader
	queue  *Queue
	source string
	log    logrus.FieldLogger
	onEOF  func()
	once   sync.Once
}

// NewReader returns a Reader pushing to queue. onEOF runs once when the
// stream ends, normally to cancel the acquisition run.
func NewReader(r io.Reader, queue *Queue, source string, log logrus.FieldLogger, onEOF func()) *Reader {
	return &Reader{r: r, queue: queue, source: source, log: log, onEOF: onEOF}
}

// Run reads until end of input, a read error, or cancellation observed
// between lines. Malformed lines are logged and dropped.
func (r *Reader) Run(ctx context.Context) error {
	defer r.once.Do(func() {
		if r.onEOF != nil {
			r.onEOF()
		}
	})

	scanner := bufio.NewScanner(r.r)
	scanner.Buffer(make([]byte, 0, 4096), maxLine)
	line := 0
	for scanner.Scan() {
		line++
		if ctx.Err() != nil {
			return ctx.Err()
		}
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		params, err := ParseLine(text)
		if err != nil {
			r.log.WithFields(logrus.Fields{"source": r.source, "line": line}).WithError(err).Warn("command dropped")
			continue
		}
		if !r.queue.Push(NewCommand(r.source, params)) {
			return nil
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read commands: %w", err)
	}
	r.log.WithField("source", r.source).Info("command input closed")
	return nil
}
