package run

import (
	"errors"
	"testing"

	"github.com/jamesainslie/mender/pkg/mender/types"
)

func TestStateString(t *testing.T) {
	tests := []struct {
		s    State
		want string
	}{
		{StateIdle, "idle"},
		{StateAwaitingRepairConfirmation, "awaiting-repair-confirmation"},
		{StateCancelled, "cancelled"},
		{State(99), "state(99)"},
	}
	for _, tt := range tests {
		if got := tt.s.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}

func TestTerminal(t *testing.T) {
	for s := StateIdle; s <= StateFailed; s++ {
		want := s == StateDone || s == StateCancelled || s == StateFailed
		if s.Terminal() != want {
			t.Errorf("%s.Terminal() = %v, want %v", s, s.Terminal(), want)
		}
		if s.Terminal() && len(transitions[s]) != 0 {
			t.Errorf("terminal state %s has successors", s)
		}
	}
}

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{StateIdle, StateFetchingManifest, true},
		{StateIdle, StateScanning, false},
		{StateFetchingManifest, StateFailed, true},
		{StateFetchingManifest, StateCancelled, false},
		{StateScanning, StateCancelled, true},
		{StateAwaitingRepairConfirmation, StateDone, true},
		{StateAwaitingRepairConfirmation, StateCancelled, false},
		{StateRepairing, StateCancelled, true},
		{StateRepairing, StateFailed, true},
		{StateVerifying, StateCancelled, false},
		{StateDone, StateIdle, false},
	}
	for _, tt := range tests {
		if got := CanTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("CanTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestMachine(t *testing.T) {
	var seen []State
	m := NewMachine(func(_, to State) { seen = append(seen, to) })

	if err := m.To(StateScanning); !errors.Is(err, types.ErrInvalidTransition) {
		t.Fatalf("To(Scanning) from Idle error = %v, want ErrInvalidTransition", err)
	}
	if m.State() != StateIdle {
		t.Errorf("state changed after rejected transition: %s", m.State())
	}

	for _, s := range []State{StateFetchingManifest, StateScanning, StateCancelled} {
		if err := m.To(s); err != nil {
			t.Fatalf("To(%s) error = %v", s, err)
		}
	}
	if err := m.To(StateDone); !errors.Is(err, types.ErrInvalidTransition) {
		t.Errorf("transition out of terminal state error = %v", err)
	}

	want := []State{StateIdle, StateFetchingManifest, StateScanning, StateCancelled}
	got := m.History()
	if len(got) != len(want) {
		t.Fatalf("History() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("History() = %v, want %v", got, want)
		}
	}
	if len(seen) != 3 {
		t.Errorf("onChange called %d times, want 3", len(seen))
	}
}
