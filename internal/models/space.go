package models

import "encoding/json"

// LifecycleState is the broadcast status as reported by the platform. It
// decides which capture strategy applies: anything other than StateRunning
// is treated as a finished recording with a stable segment history.
type LifecycleState string

const (
	StateNotStarted LifecycleState = "NotStarted"
	StateRunning    LifecycleState = "Running"
	StateEnded      LifecycleState = "Ended"
	StateTimedOut   LifecycleState = "TimedOut"
	StateUnknown    LifecycleState = "Unknown"
)

// ParseLifecycleState maps the platform's state string onto the known set.
// Unrecognized values collapse to StateUnknown rather than failing; the
// orchestrator treats unknown states like ended ones.
func ParseLifecycleState(s string) LifecycleState {
	switch s {
	case "NotStarted":
		return StateNotStarted
	case "Running":
		return StateRunning
	case "Ended":
		return StateEnded
	case "TimedOut":
		return StateTimedOut
	default:
		return StateUnknown
	}
}

// SpaceMetadata is the immutable snapshot of a space, fetched once per run.
// MediaKey is the only mandatory field; every display field degrades to an
// empty string when the API omits it.
type SpaceMetadata struct {
	ID                string
	MediaKey          string
	State             LifecycleState
	Title             string
	CreatorName       string
	CreatorScreenName string
	StartedAt         int64 // epoch milliseconds

	// Raw is the verbatim API response, kept for the --write-metadata
	// artifact and for error reporting when the upstream shape drifts.
	Raw json.RawMessage
}

// StreamEndpoints is the derived chain of URLs plus the rewritten playlist.
// Each field is computed from the previous one exactly once per run; a
// capture in progress relies on these staying stable even if the space
// transitions state underneath it.
type StreamEndpoints struct {
	DynamicURL       string
	MasterURL        string
	ChunkPlaylistURL string

	// PlaylistText is the chunk playlist body with every chunk reference
	// made absolute, so each segment is fetchable without the original base.
	PlaylistText string
}
