package stream

import "fmt"

// BroadcastEndedError means the space has ended and its dynamic URL can no
// longer be discovered through the live-status endpoint. A caller who saved
// the master URL earlier can still capture by supplying it as an override.
type BroadcastEndedError struct {
	SpaceID string
}

func (e *BroadcastEndedError) Error() string {
	return fmt.Sprintf(
		"space %q has ended, the master URL can no longer be retrieved; "+
			"provide it with --from-master-url if you have it", e.SpaceID)
}

// StreamUnavailableError means the space exists but its stream backing is
// gone: the live-status endpoint answered with something that is not the
// expected JSON. Raw carries the body for diagnosis.
type StreamUnavailableError struct {
	MediaKey string
	Raw      []byte
	Cause    error
}

func (e *StreamUnavailableError) Error() string {
	msg := fmt.Sprintf("stream for media key %q is unavailable", e.MediaKey)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(e.Raw) > 0 {
		raw := string(e.Raw)
		if len(raw) > 512 {
			raw = raw[:512] + "..."
		}
		msg += fmt.Sprintf(" (response: %s)", raw)
	}
	return msg
}

func (e *StreamUnavailableError) Unwrap() error {
	return e.Cause
}
