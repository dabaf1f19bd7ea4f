package run

import (
	"fmt"
	"slices"
	"sync"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

// State is a run lifecycle state.
type State int

const (
	StateIdle State = iota
	StateFetchingManifest
	StateScanning
	StateAwaitingRepairConfirmation
	StateRepairing
	StateVerifying
	StateDone
	StateCancelled
	StateFailed
)

var stateNames = [...]string{
	StateIdle:                       "idle",
	StateFetchingManifest:           "fetching-manifest",
	StateScanning:                   "scanning",
	StateAwaitingRepairConfirmation: "awaiting-repair-confirmation",
	StateRepairing:                  "repairing",
	StateVerifying:                  "verifying",
	StateDone:                       "done",
	StateCancelled:                  "cancelled",
	StateFailed:                     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("state(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText renders the state name in JSON and YAML reports.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateCancelled || s == StateFailed
}

// transitions lists the legal successors of each state. Scanning may fail
// only on an unexpected fault after the root was accepted.
var transitions = map[State][]State{
	StateIdle:                       {StateFetchingManifest},
	StateFetchingManifest:           {StateScanning, StateFailed},
	StateScanning:                   {StateAwaitingRepairConfirmation, StateCancelled, StateFailed},
	StateAwaitingRepairConfirmation: {StateRepairing, StateDone},
	StateRepairing:                  {StateVerifying, StateCancelled, StateFailed},
	StateVerifying:                  {StateDone},
}

// CanTransition reports whether from → to is legal.
func CanTransition(from, to State) bool {
	return slices.Contains(transitions[from], to)
}

// Machine tracks the state of one run. It is safe for concurrent readers.
type Machine struct {
	mu       sync.Mutex
	state    State
	history  []State
	onChange func(from, to State)
}

// NewMachine returns a Machine in StateIdle. onChange, if non-nil, is
// called after every successful transition.
func NewMachine(onChange func(from, to State)) *Machine {
	return &Machine{state: StateIdle, history: []State{StateIdle}, onChange: onChange}
}

// State returns the current state.
func (m *Machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// History returns every state entered, in order.
func (m *Machine) History() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.history)
}

// To moves to next, or returns an error wrapping types.ErrInvalidTransition.
func (m *Machine) To(next State) error {
	m.mu.Lock()
	from := m.state
	if !CanTransition(from, next) {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", types.ErrInvalidTransition, from, next)
	}
	m.state = next
	m.history = append(m.history, next)
	m.mu.Unlock()

	logger.Debug("state", "from", from, "to", next)
	if m.onChange != nil {
		m.onChange(from, next)
	}
	return nil
}
