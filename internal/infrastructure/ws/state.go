package ws

import (
	"errors"
	"fmt"
	"sync"
)

type State int

const (
	StateConnecting State = iota
	StateAuthenticated
	StateActive
	StateClosing
	StateClosed
)

var ErrIllegalTransition = errors.New("illegal session state transition")

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticated:
		return "authenticated"
	case StateActive:
		return "active"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var sessionTransitions = map[State][]State{
	StateConnecting:    {StateAuthenticated, StateClosing},
	StateAuthenticated: {StateActive, StateClosing},
	StateActive:        {StateClosing},
	StateClosing:       {StateClosed},
}

// session guards a client's lifecycle state.
type session struct {
	mu    sync.Mutex
	state State
}

func (s *session) current() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *session) transition(to State) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, allowed := range sessionTransitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, s.state, to)
}
