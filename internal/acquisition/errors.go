package acquisition

import (
	"fmt"
	"time"
)

// AcquisitionTimeoutError reports an acquisition that did not complete
// within its bound. Phase is "poll", "wait", "tsr" or "stream".
type AcquisitionTimeoutError struct {
	Loop    int
	Phase   string
	Timeout time.Duration
}

func (e *AcquisitionTimeoutError) Error() string {
	return fmt.Sprintf("acquisition %s timed out after %v at loop %d", e.Phase, e.Timeout, e.Loop)
}

// DeviceOverflowError reports a TSR acquisition memory overflow.
type DeviceOverflowError struct {
	Loop int
}

func (e *DeviceOverflowError) Error() string {
	return fmt.Sprintf("TSR memory overflow at loop %d", e.Loop)
}

// StreamError reports a device-side streaming failure.
type StreamError struct {
	Stream    string
	Available int
	Err       error
}

func (e *StreamError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("stream %s: %v", e.Stream, e.Err)
	}
	return fmt.Sprintf("stream %s reports %d available elements", e.Stream, e.Available)
}

func (e *StreamError) Unwrap() error { return e.Err }
