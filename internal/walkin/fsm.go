package walkin

import (
	"slices"

	"table-allocation-backend/internal/apperr"
)

// State is a step of the walk-in flow.
type State string

const (
	StateGuestSearch        State = "guest_search"
	StateConflictResolution State = "conflict_resolution"
	StateValidation         State = "validation"
	StateConfirmed          State = "confirmed"
)

// forward lists the moves each state may make towards confirmation.
var forward = map[State][]State{
	StateGuestSearch:        {StateConflictResolution, StateValidation},
	StateConflictResolution: {StateValidation},
	StateValidation:         {StateConfirmed},
}

// Terminal reports whether s ends the flow.
func (s State) Terminal() bool {
	return s == StateConfirmed
}

// Machine tracks the current state and the path taken to reach it.
type Machine struct {
	state State
	path  []State
}

// NewMachine starts at guest search.
func NewMachine() Machine {
	return Machine{state: StateGuestSearch}
}

func (m *Machine) State() State {
	return m.state
}

// Path returns the states visited before the current one.
func (m *Machine) Path() []State {
	return slices.Clone(m.path)
}

// Advance moves forward to next.
func (m *Machine) Advance(next State) error {
	if !slices.Contains(forward[m.state], next) {
		return apperr.InvalidTransition("walkin.Advance", "%s -> %s", m.state, next)
	}
	m.path = append(m.path, m.state)
	m.state = next
	return nil
}

// Back returns to a state visited earlier in this flow. The visits after it
// are forgotten.
func (m *Machine) Back(to State) error {
	if m.state.Terminal() {
		return apperr.InvalidTransition("walkin.Back", "flow is %s", m.state)
	}
	i := slices.Index(m.path, to)
	if i < 0 {
		return apperr.InvalidTransition("walkin.Back", "%s was not visited before %s", to, m.state)
	}
	m.state = to
	m.path = m.path[:i]
	return nil
}

// Reset returns to guest search from any state.
func (m *Machine) Reset() {
	m.state = StateGuestSearch
	m.path = nil
}

// Require fails unless the machine is in s.
func (m *Machine) Require(op string, s State) error {
	if m.state != s {
		return apperr.InvalidTransition(op, "flow is %s, not %s", m.state, s)
	}
	return nil
}
