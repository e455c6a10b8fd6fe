package core

import "fmt"

type State uint8

const (
	Idle State = iota
	Broadcasting
	AwaitingResponse
	Resolved
	Connecting
	Transferring
	Done
	Failed
)

var stateNames = [...]string{
	Idle:             "idle",
	Broadcasting:     "broadcasting",
	AwaitingResponse: "awaiting response",
	Resolved:         "resolved",
	Connecting:       "connecting",
	Transferring:     "transferring",
	Done:             "done",
	Failed:           "failed",
}

func (s State) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return fmt.Sprintf("state(%d)", uint8(s))
}

// Terminal states accept no further transitions.
func (s State) Terminal() bool {
	return s == Done || s == Failed
}

var transitions = map[State][]State{
	Idle:             {Broadcasting},
	Broadcasting:     {AwaitingResponse},
	AwaitingResponse: {Broadcasting, Resolved},
	Resolved:         {Connecting},
	Connecting:       {Transferring},
	Transferring:     {Done},
}

func canTransition(from, to State) bool {
	if to == Failed {
		return !from.Terminal()
	}

	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Machine tracks the run state. OnTransition observes every accepted change.
type Machine struct {
	state        State
	OnTransition func(from, to State)
}

func NewMachine() *Machine {
	return &Machine{state: Idle}
}

func (m *Machine) State() State {
	return m.state
}

func (m *Machine) To(next State) error {
	if !canTransition(m.state, next) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, m.state, next)
	}

	prev := m.state
	m.state = next

	if m.OnTransition != nil {
		m.OnTransition(prev, next)
	}
	return nil
}
