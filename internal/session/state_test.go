package session

import (
	"errors"
	"testing"
)

func TestCanTransition(t *testing.T) {
	tests := []struct {
		from, to State
		want     bool
	}{
		{Idle, Initializing, true},
		{Idle, Closed, true},
		{Idle, Streaming, false},
		{Initializing, Connecting, true},
		{Initializing, Closing, true},
		{Connecting, Streaming, true},
		{Connecting, Initializing, false},
		{Streaming, Closing, true},
		{Streaming, Closed, false},
		{Closing, Closed, true},
		{Idle, Failed, true},
		{Streaming, Failed, true},
		{Closing, Failed, true},
		{Closed, Failed, false},
		{Failed, Closed, false},
		{Closed, Initializing, false},
	}
	for _, tt := range tests {
		if got := canTransition(tt.from, tt.to); got != tt.want {
			t.Errorf("canTransition(%s, %s) = %v, want %v", tt.from, tt.to, got, tt.want)
		}
	}
}

func TestStateString(t *testing.T) {
	if Streaming.String() != "streaming" {
		t.Fatalf("Streaming.String() = %q", Streaming.String())
	}
	if State(42).String() != "state(42)" {
		t.Fatalf("unknown state = %q", State(42).String())
	}
	if !Closed.Terminal() || !Failed.Terminal() || Closing.Terminal() {
		t.Fatal("terminal states wrong")
	}
}

func TestErrInvalidTransition(t *testing.T) {
	var err error = &ErrInvalidTransition{Op: "Start", From: Closed}
	var target *ErrInvalidTransition
	if !errors.As(err, &target) || target.From != Closed {
		t.Fatalf("errors.As failed for %v", err)
	}
	if err.Error() != "session: Start not allowed in state closed" {
		t.Fatalf("Error() = %q", err.Error())
	}
}
