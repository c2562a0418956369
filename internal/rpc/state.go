package rpc

// State is the connection lifecycle state. Transitions are strictly
// event-driven (socket open/close, explicit disconnect, reconnect-attempt
// exhaustion); nothing outside the client's own transition sites assigns it.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}
