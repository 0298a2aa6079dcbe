package circuitbreaker

import (
	"testing"
	"time"
)

func TestBreaker_AllowWhenClosed(t *testing.T) {
	b := New(3, 100*time.Millisecond)
	if !b.Allow("relay") {
		t.Fatal("expected closed circuit to allow")
	}
}

func TestBreaker_TripsAfterThreshold(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	// 2 failures = still closed
	b.RecordFailure("relay")
	b.RecordFailure("relay")
	if !b.Allow("relay") {
		t.Fatal("should still allow before threshold")
	}

	// 3rd failure = open
	b.RecordFailure("relay")
	if b.Allow("relay") {
		t.Fatal("should be open after 3 failures")
	}
	if b.State("relay") != StateOpen {
		t.Fatalf("expected StateOpen, got %v", b.State("relay"))
	}
}

func TestBreaker_OpenToHalfOpenAfterDuration(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("relay")
	b.RecordFailure("relay")
	if b.Allow("relay") {
		t.Fatal("should be open")
	}

	// Wait for open duration.
	time.Sleep(60 * time.Millisecond)

	// Should transition to half-open and allow one probe.
	if !b.Allow("relay") {
		t.Fatal("should allow probe in half-open")
	}
	if b.State("relay") != StateHalfOpen {
		t.Fatalf("expected StateHalfOpen, got %v", b.State("relay"))
	}

	// Second request while half-open should be rejected.
	if b.Allow("relay") {
		t.Fatal("should reject second request in half-open")
	}
}

func TestBreaker_HalfOpenSuccessCloses(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("relay")
	b.RecordFailure("relay")
	time.Sleep(60 * time.Millisecond)
	b.Allow("relay") // Transitions to half-open

	b.RecordSuccess("relay")
	if b.State("relay") != StateClosed {
		t.Fatalf("expected StateClosed after success, got %v", b.State("relay"))
	}
	if !b.Allow("relay") {
		t.Fatal("should allow after recovery")
	}
}

func TestBreaker_HalfOpenFailureReopens(t *testing.T) {
	b := New(2, 50*time.Millisecond)

	b.RecordFailure("relay")
	b.RecordFailure("relay")
	time.Sleep(60 * time.Millisecond)
	b.Allow("relay") // Transitions to half-open

	b.RecordFailure("relay")
	if b.State("relay") != StateOpen {
		t.Fatalf("expected StateOpen after half-open failure, got %v", b.State("relay"))
	}
}

func TestBreaker_ChannelsIndependent(t *testing.T) {
	b := New(2, 100*time.Millisecond)

	b.RecordFailure("relay")
	b.RecordFailure("relay")
	if b.Allow("relay") {
		t.Fatal("relay should be open")
	}
	if !b.Allow("direct") {
		t.Fatal("direct should be unaffected")
	}
}

func TestBreaker_SuccessResets(t *testing.T) {
	b := New(3, 100*time.Millisecond)

	b.RecordFailure("relay")
	b.RecordFailure("relay")
	b.RecordSuccess("relay")

	// Counter was reset; one more failure must not trip.
	b.RecordFailure("relay")
	if !b.Allow("relay") {
		t.Fatal("should still be closed after reset")
	}
}
