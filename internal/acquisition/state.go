package acquisition

// State is the orchestrator state.
type State int

const (
	StateIdle State = iota
	StateConfiguring
	StateCalibrating
	StateArmed
	StateWaiting
	StateCompleted
	StateAborted
	StateTimedOut
)

var stateNames = [...]string{"idle", "configuring", "calibrating", "armed", "waiting", "completed", "aborted", "timed_out"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}

// MarshalText encodes the state name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }
