package errs

import (
	"fmt"
	"testing"
)

func TestRecoverable(t *testing.T) {
	cases := map[Kind]bool{
		BackendUnreachable: true,
		TransitionBusy:     true,
		ConfigInvalid:      false,
		AuthFailed:         false,
		PoolExhausted:      false,
	}
	for kind, want := range cases {
		if got := kind.Recoverable(); got != want {
			t.Errorf("%s.Recoverable() = %v, want %v", kind, got, want)
		}
	}
}

func TestWrapUnwrapAndKindOf(t *testing.T) {
	cause := fmt.Errorf("dial tcp: connection refused")
	err := Wrap(BackendUnreachable, "adapter unreachable", cause).WithResource("vm-1").WithCorrelation("corr-1")

	if err.Unwrap() != cause {
		t.Fatalf("expected unwrap to return cause")
	}
	if KindOf(err) != BackendUnreachable {
		t.Fatalf("expected KindOf to return BackendUnreachable, got %s", KindOf(err))
	}
	if KindOf(fmt.Errorf("plain error")) != Internal {
		t.Fatalf("expected plain errors to classify as Internal")
	}
	if err.ResourceID != "vm-1" || err.CorrelationID != "corr-1" {
		t.Fatalf("expected resource/correlation ids to stick")
	}
}

func TestErrorMessageFormat(t *testing.T) {
	plain := New(Timeout, "deadline exceeded")
	if plain.Error() != "[Timeout] deadline exceeded" {
		t.Fatalf("unexpected message: %s", plain.Error())
	}
	wrapped := Wrap(Timeout, "deadline exceeded", fmt.Errorf("ctx done"))
	if wrapped.Error() != "[Timeout] deadline exceeded: ctx done" {
		t.Fatalf("unexpected wrapped message: %s", wrapped.Error())
	}
}
