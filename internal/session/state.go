package session

// CallState is the lifecycle position of one consultation call.
type CallState int

const (
	StateIdle CallState = iota
	StateAcquiringMedia
	StateAwaitingToken
	StateJoiningRoom
	StateNegotiating
	StateConnected
	StateEnded
	StateErrored
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateAcquiringMedia:
		return "acquiring_media"
	case StateAwaitingToken:
		return "awaiting_token"
	case StateJoiningRoom:
		return "joining_room"
	case StateNegotiating:
		return "negotiating"
	case StateConnected:
		return "connected"
	case StateEnded:
		return "ended"
	case StateErrored:
		return "errored"
	}
	return "unknown"
}

// Terminal reports whether the machine can leave this state.
func (s CallState) Terminal() bool {
	return s == StateEnded || s == StateErrored
}
