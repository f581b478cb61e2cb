package core

import (
	"errors"
	"fmt"
	"testing"
)

func TestErrorCodesAndRecoverability(t *testing.T) {
	cause := errors.New("connection reset")

	structural := NewStructuralError(cause)
	if structural.Code != CodeStructural || structural.Recoverable {
		t.Errorf("structural error = %+v", structural)
	}
	if !errors.Is(structural, cause) {
		t.Error("structural error should unwrap to its cause")
	}

	collab := NewCollaboratorError("generator", cause)
	if collab.Code != CodeCollaborator || !collab.Recoverable {
		t.Errorf("collaborator error = %+v", collab)
	}
	if collab.Details["collaborator"] != "generator" {
		t.Errorf("collaborator detail = %v", collab.Details)
	}

	loop := NewLoopExceeded("debug", 3, 3)
	if loop.Code != CodeLoopExceeded || loop.Recoverable {
		t.Errorf("loop error = %+v", loop)
	}

	term := NewSessionTerminated(StageCompleted)
	if term.Code != CodeSessionTerminated || term.Recoverable {
		t.Errorf("terminated error = %+v", term)
	}

	aborted := NewExchangeAborted(cause)
	if aborted.Code != CodeCollaborator || !aborted.Recoverable {
		t.Errorf("aborted error = %+v", aborted)
	}
	if !errors.Is(aborted, cause) {
		t.Error("aborted error should unwrap to its cause")
	}
	if aborted.Details["cause"] != cause.Error() {
		t.Errorf("aborted details = %v", aborted.Details)
	}
}

func TestAsErrorThroughWrapping(t *testing.T) {
	inner := NewCollaboratorError("validator", errors.New("timeout"))
	wrapped := fmt.Errorf("round 2: %w", inner)

	got, ok := AsError(wrapped)
	if !ok || got.Code != CodeCollaborator {
		t.Fatalf("AsError(wrapped) = %v, %v", got, ok)
	}
	if !IsRecoverable(wrapped) {
		t.Error("wrapped collaborator error should stay recoverable")
	}
	if IsRecoverable(errors.New("plain")) {
		t.Error("plain error is not recoverable")
	}
}

func TestCallLimiter(t *testing.T) {
	l := NewCallLimiter(2)
	if err := l.Increment(); err != nil {
		t.Fatalf("first increment: %v", err)
	}
	if err := l.Increment(); err != nil {
		t.Fatalf("second increment: %v", err)
	}
	if err := l.Increment(); err == nil {
		t.Fatal("third increment should exceed the limit")
	}
	if l.Count() != 3 {
		t.Errorf("count = %d, want 3", l.Count())
	}

	unlimited := NewCallLimiter(0)
	for i := 0; i < 100; i++ {
		if err := unlimited.Increment(); err != nil {
			t.Fatalf("unlimited limiter failed at %d: %v", i, err)
		}
	}
	if unlimited.Remaining() != -1 {
		t.Errorf("unlimited Remaining() = %d, want -1", unlimited.Remaining())
	}
}
