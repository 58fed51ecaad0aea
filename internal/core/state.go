package core

type State int

const (
	StateUninitialized State = iota
	StateConnected
	StateInCall
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateConnected:
		return "connected"
	case StateInCall:
		return "in_call"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}
