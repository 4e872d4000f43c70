package pipeline

// State is the position of one participant's conversation loop.
//
// The loop runs Idle → Listening → Transcribing → Generating → Speaking →
// Listening. A barge-in from Generating or Speaking returns the loop to
// Listening without passing through the remaining stages. Stopped is terminal
// and reached on disconnect or shutdown.
type State int32

const (
	StateIdle State = iota
	StateListening
	StateTranscribing
	StateGenerating
	StateSpeaking
	StateStopped
)

// String returns a human-readable state name for logs and status events.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateListening:
		return "listening"
	case StateTranscribing:
		return "transcribing"
	case StateGenerating:
		return "generating"
	case StateSpeaking:
		return "speaking"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
