package twitter

import "fmt"

// ResolutionError reports a failure to turn a space id into usable metadata:
// the guest token could not be scraped, the API call failed, or the response
// carried no media key. Raw holds the upstream body where one was read, since
// the API shape is not contractually stable and callers need it for diagnosis.
type ResolutionError struct {
	SpaceID string
	Message string
	Raw     []byte
	Cause   error
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("resolving space %q: %s", e.SpaceID, e.Message)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	if len(e.Raw) > 0 {
		msg += fmt.Sprintf(" (response: %s)", truncate(e.Raw, 512))
	}
	return msg
}

func (e *ResolutionError) Unwrap() error {
	return e.Cause
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
