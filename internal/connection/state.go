package connection

// State is the connection machine's current position. Transitions go through
// Manager.setState only.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateBroken
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateBroken:
		return "broken"
	default:
		return "unknown"
	}
}

// validTransition reports whether the edge from one state to the next is
// legal. Explicit shutdown (any state to Disconnected) is always allowed.
func validTransition(from, to State) bool {
	if to == StateDisconnected {
		return true
	}
	switch from {
	case StateDisconnected:
		return to == StateConnecting
	case StateConnecting:
		return to == StateConnected || to == StateBroken
	case StateConnected:
		return to == StateBroken
	case StateBroken:
		return to == StateConnecting
	default:
		return false
	}
}
