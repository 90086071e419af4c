package chain

import (
	"testing"
	"time"
)

func TestBreakerTransitions(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	var seen []CircuitState
	b := NewBreaker(3, time.Minute).
		WithClock(func() time.Time { return now }).
		OnTransition(func(s CircuitState) { seen = append(seen, s) })

	b.RecordFailure()
	b.RecordFailure()
	b.RecordSuccess()
	if b.Failures() != 0 {
		t.Fatalf("success should reset failures, got %d", b.Failures())
	}

	for i := 0; i < 3; i++ {
		b.RecordFailure()
	}
	if b.State() != CircuitOpen || b.Allow() {
		t.Fatalf("expected open breaker, got %s", b.State())
	}

	now = now.Add(time.Minute)
	if b.State() != CircuitHalfOpen || b.Allow() {
		t.Fatalf("expected half-open breaker that still refuses mints, got %s", b.State())
	}

	b.RecordProbe(true)
	if b.State() != CircuitClosed || !b.Allow() {
		t.Fatalf("expected closed breaker, got %s", b.State())
	}

	want := []CircuitState{CircuitOpen, CircuitClosed}
	if len(seen) != len(want) {
		t.Fatalf("transitions = %v, want %v", seen, want)
	}
	for i := range want {
		if seen[i] != want[i] {
			t.Errorf("transition %d = %s, want %s", i, seen[i], want[i])
		}
	}
}

func TestBreakerProbeFailureWhileClosedCounts(t *testing.T) {
	b := NewBreaker(2, time.Minute)
	b.RecordProbe(false)
	b.RecordProbe(false)
	if b.State() != CircuitOpen {
		t.Errorf("expected open after failed probes, got %s", b.State())
	}
}

func TestValidateAddress(t *testing.T) {
	tests := []struct {
		name    string
		address string
		wantErr bool
	}{
		{"valid lower", "0xab00000000000000000000000000000000000000000000000000000000000001", false},
		{"valid upper", "0xAB00000000000000000000000000000000000000000000000000000000000001", false},
		{"missing prefix", "ab00000000000000000000000000000000000000000000000000000000000001", true},
		{"too short", "0xab", true},
		{"non hex", "0xzz00000000000000000000000000000000000000000000000000000000000001", true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateAddress(tt.address)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateAddress(%q) error = %v, wantErr %v", tt.address, err, tt.wantErr)
			}
		})
	}
}
