package command

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// Emitter writes command lines for a downstream acquisition process.
type Emitter struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewEmitter returns an Emitter writing to w.
func NewEmitter(w io.Writer) *Emitter {
	return &Emitter{enc: json.NewEncoder(w)}
}

// Emit writes params as one JSON line.
func (e *Emitter) Emit(params map[string]any) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.enc.Encode(params); err != nil {
		return fmt.Errorf("emit command: %w", err)
	}
	return nil
}

// EmitCounts writes a records/samples command.
func (e *Emitter) EmitCounts(records, samples int) error {
	return e.Emit(map[string]any{"records": records, "samples": samples})
}
