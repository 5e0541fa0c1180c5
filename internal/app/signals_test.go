package app

import (
	"testing"

	"quiz-client/internal/domain"
)

func TestSignalRelayDetachIsIdempotent(t *testing.T) {
	r := NewSignalRelay()
	var got []domain.CheatSignal
	detach := r.Attach(func(s domain.CheatSignal) { got = append(got, s) })

	if !r.Emit(domain.SignalBlur) {
		t.Fatalf("expected delivery while attached")
	}
	detach()
	detach()
	if r.Emit(domain.SignalPaste) {
		t.Fatalf("expected drop after detach")
	}
	if a, d := r.Balance(); a != 1 || d != 1 {
		t.Fatalf("expected balanced listener, got %d/%d", a, d)
	}
	if len(got) != 1 || got[0] != domain.SignalBlur {
		t.Fatalf("unexpected signals %v", got)
	}
}

func TestSignalRelayStaleDetachKeepsNewListener(t *testing.T) {
	r := NewSignalRelay()
	old := r.Attach(func(domain.CheatSignal) {})
	r.Attach(func(domain.CheatSignal) {})
	old()
	if !r.Attached() {
		t.Fatalf("a stale detach must not remove the newer listener")
	}
}
