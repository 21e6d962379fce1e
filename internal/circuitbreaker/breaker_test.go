package circuitbreaker

import (
	"testing"
	"time"
)

func tripBreaker(cb *CircuitBreaker, source string, times int) {
	for i := 0; i < times; i++ {
		cb.RecordFailure(source)
	}
}

func TestAllow_UnknownSource_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	if err := cb.Allow("adzuna"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_BelowThreshold_Allowed(t *testing.T) {
	cb := New(3, 5*time.Second)
	tripBreaker(cb, "adzuna", 2)
	if err := cb.Allow("adzuna"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestAllow_AtThreshold_Open(t *testing.T) {
	cb := New(3, 5*time.Second)
	tripBreaker(cb, "adzuna", 3)
	if err := cb.Allow("adzuna"); err == nil {
		t.Fatal("expected ErrCircuitOpen, got nil")
	}
}

func TestAllow_OpenAfterCooldown_HalfOpen(t *testing.T) {
	now := time.Now()
	cb := New(3, 5*time.Minute)
	cb.clock = func() time.Time { return now }

	tripBreaker(cb, "adzuna", 3)

	now = now.Add(6 * time.Minute)
	if err := cb.Allow("adzuna"); err != nil {
		t.Fatalf("expected nil (probe allowed), got %v", err)
	}
	if err := cb.Allow("adzuna"); err == nil {
		t.Fatal("expected ErrCircuitOpen while half-open probe in flight")
	}
}

func TestRecordSuccess_ResetsToClosed(t *testing.T) {
	now := time.Now()
	cb := New(3, 5*time.Minute)
	cb.clock = func() time.Time { return now }

	tripBreaker(cb, "adzuna", 3)
	now = now.Add(6 * time.Minute)
	cb.Allow("adzuna")
	cb.RecordSuccess("adzuna")

	if err := cb.Allow("adzuna"); err != nil {
		t.Fatalf("expected nil after reset, got %v", err)
	}
}

func TestRecordFailure_HalfOpenReOpens(t *testing.T) {
	now := time.Now()
	cb := New(3, 5*time.Minute)
	cb.clock = func() time.Time { return now }

	tripBreaker(cb, "adzuna", 3)
	now = now.Add(6 * time.Minute)
	cb.Allow("adzuna")
	cb.RecordFailure("adzuna")

	if err := cb.Allow("adzuna"); err == nil {
		t.Fatal("expected ErrCircuitOpen after probe failure re-open")
	}
}

func TestRecordSuccess_ClosedState_NoOp(t *testing.T) {
	cb := New(3, 5*time.Second)
	cb.RecordSuccess("adzuna")
	if err := cb.Allow("adzuna"); err != nil {
		t.Fatalf("expected nil, got %v", err)
	}
}

func TestIndependentSources(t *testing.T) {
	cb := New(2, 5*time.Second)
	tripBreaker(cb, "adzuna", 2)
	if err := cb.Allow("adzuna"); err == nil {
		t.Fatal("expected adzuna open")
	}
	if err := cb.Allow("remotive"); err != nil {
		t.Fatalf("expected remotive allowed, got %v", err)
	}
}
