package mission

import "testing"

func TestAdvanceProgressIsMonotonic(t *testing.T) {
	m := &Mission{Progress: 50}
	m.AdvanceProgress(30)
	if m.Progress != 50 {
		t.Fatalf("expected progress to not regress, got %d", m.Progress)
	}
	m.AdvanceProgress(75)
	if m.Progress != 75 {
		t.Fatalf("expected progress to advance to 75, got %d", m.Progress)
	}
}

func TestTerminalStates(t *testing.T) {
	for _, s := range []State{StateCompleted, StateFailed, StateCancelled} {
		if !s.Terminal() {
			t.Fatalf("expected %s to be terminal", s)
		}
	}
	for _, s := range []State{StatePending, StateStarting, StateDeployingVM, StateInjecting, StateVerifying} {
		if s.Terminal() {
			t.Fatalf("expected %s to be non-terminal", s)
		}
	}
}
