package telemetry

import (
	"time"

	"github.com/DidierTrosset-Acqiris/Waveforms/internal/acquisition"
)

// Observer publishes orchestrator events on the hub.
type Observer struct {
	hub *Hub
}

// NewObserver returns an acquisition.Observer feeding hub.
func NewObserver(hub *Hub) *Observer {
	return &Observer{hub: hub}
}

// Observe implements acquisition.Observer.
func (o *Observer) Observe(e acquisition.Event) {
	o.hub.Publish(FromAcquisition(e))
}

// FromAcquisition converts an orchestrator event into an SSE event.
func FromAcquisition(e acquisition.Event) Event {
	data := map[string]any{
		"ts":    e.Time.UTC().Format(time.RFC3339Nano),
		"loop":  e.Loop,
		"state": e.State.String(),
	}
	for k, v := range e.Data {
		data[k] = v
	}
	if it := e.Iteration; it != nil {
		data["outcome"] = string(it.Outcome)
		data["durationMs"] = it.Duration.Milliseconds()
		data["mode"] = it.Mode
		data["channels"] = it.Channels
		data["records"] = it.Records
		data["samples"] = it.Samples
		data["sampleRate"] = it.SampleRate
		data["calibrated"] = it.Calibrated
		if it.Error != "" {
			data["error"] = it.Error
		}
	}
	return Event{
		Type: string(e.Type),
		Data: data,
		Run:  e.RunID,
		Time: e.Time,
	}
}
