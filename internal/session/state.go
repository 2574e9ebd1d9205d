package session

import (
	"fmt"
	"time"
)

// State is the lifecycle state of a Controller.
type State int

const (
	Idle State = iota
	Initializing
	Connecting
	Streaming
	Closing
	Closed
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Initializing:
		return "initializing"
	case Connecting:
		return "connecting"
	case Streaming:
		return "streaming"
	case Closing:
		return "closing"
	case Closed:
		return "closed"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Terminal reports whether no further transition can leave s.
func (s State) Terminal() bool {
	return s == Closed || s == Failed
}

// transitions lists the forward edges. Failed is reachable from every
// non-terminal state and is handled separately.
var transitions = map[State][]State{
	Idle:         {Initializing, Closed},
	Initializing: {Connecting, Closing},
	Connecting:   {Streaming, Closing},
	Streaming:    {Closing},
	Closing:      {Closed},
}

func canTransition(from, to State) bool {
	if from.Terminal() {
		return false
	}
	if to == Failed {
		return true
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Transition is one entry of the state history.
type Transition struct {
	From State
	To   State
	At   time.Time
	Err  error // set for transitions into Failed
}

// ErrInvalidTransition is returned when an operation is not allowed in the
// current state.
type ErrInvalidTransition struct {
	Op   string
	From State
}

func (e *ErrInvalidTransition) Error() string {
	return fmt.Sprintf("session: %s not allowed in state %s", e.Op, e.From)
}
