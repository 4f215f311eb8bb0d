package acquisition

import "time"

// EventType names an orchestrator event.
type EventType string

const (
	EventState        EventType = "state"
	EventConfigured   EventType = "configured"
	EventReconfigured EventType = "reconfigured"
	EventCalibrated   EventType = "calibrated"
	EventIteration    EventType = "iteration"
	EventFault        EventType = "fault"
)

// Outcome classifies an iteration.
type Outcome string

const (
	OutcomeAcquired     Outcome = "acquired"
	OutcomeTimedOut     Outcome = "timed_out"
	OutcomeInterrupted  Outcome = "interrupted"
	OutcomeInconsistent Outcome = "inconsistent"
)

// Iteration describes one pass of the control loop.
type Iteration struct {
	RunID      string        `json:"runId"`
	Loop       int           `json:"loop"`
	Started    time.Time     `json:"started"`
	Duration   time.Duration `json:"duration"`
	Outcome    Outcome       `json:"outcome"`
	Mode       string        `json:"mode"`
	Channels   int           `json:"channels"`
	Records    int           `json:"records"`
	Samples    int           `json:"samples"`
	SampleRate float64       `json:"sampleRate"`
	Calibrated bool          `json:"calibrated"`
	Error      string        `json:"error,omitempty"`
}

// Event is delivered to observers.
type Event struct {
	Type      EventType
	RunID     string
	Time      time.Time
	Loop      int
	State     State
	Iteration *Iteration
	Data      map[string]any
}

// Observer receives orchestrator events on the loop goroutine.
// Implementations must not block.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
