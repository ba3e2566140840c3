package session

// State is the lifecycle state of one call session.
type State int

const (
	// StateConnecting means the carrier connection is accepted but the
	// stream start message has not arrived yet.
	StateConnecting State = iota

	// StateActive means the stream identifier is known and audio is flowing.
	StateActive

	// StateClosed is terminal.
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// TurnState tracks whose turn it is to speak within a call.
type TurnState int

const (
	// TurnIdle means no stream is attached yet.
	TurnIdle TurnState = iota

	// TurnListening means the caller may speak and inbound audio is
	// forwarded to transcription.
	TurnListening

	// TurnAgentSpeaking means reply audio is being sent to the carrier.
	// Whether inbound audio is still transcribed depends on the barge-in
	// policy.
	TurnAgentSpeaking

	// TurnClosed is terminal.
	TurnClosed
)

func (t TurnState) String() string {
	switch t {
	case TurnIdle:
		return "idle"
	case TurnListening:
		return "listening"
	case TurnAgentSpeaking:
		return "agent_speaking"
	case TurnClosed:
		return "closed"
	default:
		return "unknown"
	}
}
