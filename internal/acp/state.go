// ABOUTME: Session-manager lifecycle states
// ABOUTME: Disconnected -> Connecting -> Initialized -> SessionActive <-> PromptInFlight -> Disconnected

package acp

// State is the engine's position in the connection lifecycle.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateInitialized
	StateSessionActive
	StatePromptInFlight
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateInitialized:
		return "initialized"
	case StateSessionActive:
		return "session_active"
	case StatePromptInFlight:
		return "prompt_in_flight"
	}
	return "unknown"
}

// Ready reports whether a prompt can be submitted in this state.
func (s State) Ready() bool {
	return s == StateSessionActive
}
