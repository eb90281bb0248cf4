package capture

import "fmt"

// Status is the tag of State.
type Status int

const (
	StatusIdle Status = iota
	StatusLocating
	StatusSuccess
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLocating:
		return "locating"
	case StatusSuccess:
		return "success"
	case StatusError:
		return "error"
	default:
		return "unknown"
	}
}

// State is the capture state. Message is set only for StatusError.
//
// States change only through the transition methods below; each returns the
// next state or ErrIllegalTransition, leaving the receiver untouched.
type State struct {
	Status  Status
	Message string
}

// Idle is the initial state.
func Idle() State {
	return State{Status: StatusIdle}
}

func (s State) String() string {
	if s.Status == StatusError {
		return fmt.Sprintf("error(%s)", s.Message)
	}
	return s.Status.String()
}

func (s State) illegal(event string) error {
	return fmt.Errorf("%w: %s from %s", ErrIllegalTransition, event, s.Status)
}

// Begin starts an acquisition: idle, success or error to locating.
func (s State) Begin() (State, error) {
	if s.Status == StatusLocating {
		return s, s.illegal("begin")
	}
	return State{Status: StatusLocating}, nil
}

// Override starts a save without location. Only an error state can be
// overridden.
func (s State) Override() (State, error) {
	if s.Status != StatusError {
		return s, s.illegal("override")
	}
	return State{Status: StatusLocating}, nil
}

// Succeed records a persisted anchor: locating to success.
func (s State) Succeed() (State, error) {
	if s.Status != StatusLocating {
		return s, s.illegal("succeed")
	}
	return State{Status: StatusSuccess}, nil
}

// Fail records an unrecoverable attempt: locating to error.
func (s State) Fail(message string) (State, error) {
	if s.Status != StatusLocating {
		return s, s.illegal("fail")
	}
	return State{Status: StatusError, Message: message}, nil
}

// Reject records invalid input without starting an attempt. It never passes
// through locating and is refused while an attempt is in flight.
func (s State) Reject(message string) (State, error) {
	if s.Status == StatusLocating {
		return s, s.illegal("reject")
	}
	return State{Status: StatusError, Message: message}, nil
}
