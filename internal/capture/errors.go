package capture

import "fmt"

// Capture stages, reported on failure so a caller knows whether to re-run
// from scratch or re-use an already-known master URL.
const (
	StageHistorical = "historical"
	StageLiveEdge   = "live-edge"
	StageConcat     = "concat"
)

// MuxerUnavailableError means the external muxing tool is missing from the
// execution path. Raised before any network work is spent.
type MuxerUnavailableError struct {
	Tool  string
	Cause error
}

func (e *MuxerUnavailableError) Error() string {
	return fmt.Sprintf("muxer %q not found on PATH: %v", e.Tool, e.Cause)
}

func (e *MuxerUnavailableError) Unwrap() error {
	return e.Cause
}

// CaptureFailedError wraps a muxer process failure or timeout, tagged with
// the stage that failed.
type CaptureFailedError struct {
	Stage string
	Cause error
}

func (e *CaptureFailedError) Error() string {
	return fmt.Sprintf("%s capture failed: %v", e.Stage, e.Cause)
}

func (e *CaptureFailedError) Unwrap() error {
	return e.Cause
}
