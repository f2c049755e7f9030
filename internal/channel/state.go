package channel

import "time"

// State is the lifecycle state of a push-channel connection.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

// Status describes one state transition.
type Status struct {
	State   State
	BoardID int64

	// Attempt is the reconnect-attempt counter. It resets to 0 on Open.
	Attempt int
	// Delay is the wait before the next automatic reconnect, when one is scheduled.
	Delay time.Duration
	// Reason explains a disconnect.
	Reason string
	// Offline is set once no further automatic reconnects will happen.
	Offline bool
	// Resync is set on Open after a reconnect. The consumer must refetch the
	// full board before trusting incremental events again.
	Resync bool
	// Err carries the cause of a terminal failure, e.g. domain.ErrUnauthorized.
	Err error
}
