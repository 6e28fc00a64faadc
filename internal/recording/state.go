package recording

// State is a step of the session lifecycle.
type State string

const (
	StateIdle      State = "IDLE"
	StateOpening   State = "OPENING"
	StateRecording State = "RECORDING"
	StateStopping  State = "STOPPING"
	StateUploading State = "UPLOADING"
	StateDone      State = "DONE"
	StateFailed    State = "FAILED"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// isValidTransition enforces the allowed session state machine edges.
func isValidTransition(from, to State) bool {
	switch from {
	case StateIdle:
		return to == StateOpening
	case StateOpening:
		return to == StateRecording || to == StateFailed
	case StateRecording:
		return to == StateStopping || to == StateFailed
	case StateStopping:
		// a streaming error skips the upload
		return to == StateUploading || to == StateFailed
	case StateUploading:
		return to == StateDone || to == StateFailed
	default:
		return false
	}
}
