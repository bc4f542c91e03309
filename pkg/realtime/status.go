package realtime

import (
	"fmt"
	"math"
	"time"
)

// State is a connection lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateDisconnected
	StateReconnecting
	StateMaxRetries
	StateError
	StateMissingIdentity
)

// Status is reported to the status handler on every visible state change.
type Status struct {
	State State
	Delay time.Duration // set for StateReconnecting
}

func (s Status) String() string {
	switch s.State {
	case StateIdle:
		return "Idle"
	case StateConnecting:
		return "Connecting…"
	case StateConnected:
		return "Connected"
	case StateDisconnected:
		return "Disconnected"
	case StateReconnecting:
		return fmt.Sprintf("Reconnecting in %ds…", int(math.Round(s.Delay.Seconds())))
	case StateMaxRetries:
		return "Disconnected - Max retries reached"
	case StateError:
		return "Error"
	case StateMissingIdentity:
		return "Error: Missing user id"
	default:
		return fmt.Sprintf("State(%d)", int(s.State))
	}
}
