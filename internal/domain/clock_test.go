package domain

import (
	"errors"
	"testing"
)

func TestToNanosGigahertz(t *testing.T) {
	c := &ClockDomain{FrequencyHz: 1_000_000_000}
	got, err := c.ToNanos(12345)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 12345 {
		t.Fatalf("expected 12345, got %d", got)
	}
}

func TestToNanosAppliesOffsets(t *testing.T) {
	c := &ClockDomain{
		FrequencyHz:   1_000_000,
		OffsetSeconds: 2,
		OffsetCycles:  500_000,
	}
	// (500000 + 500000) cycles at 1 MHz = 1s, plus 2s offset.
	got, err := c.ToNanos(500_000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 3_000_000_000 {
		t.Fatalf("expected 3s in nanos, got %d", got)
	}
}

func TestToNanosHighCycleCountNoOverflow(t *testing.T) {
	c := &ClockDomain{FrequencyHz: 3} // adversarial low frequency
	got, err := c.ToNanos(30)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 10_000_000_000 {
		t.Fatalf("expected 10s in nanos, got %d", got)
	}
}

func TestToNanosNegativeIsError(t *testing.T) {
	c := &ClockDomain{FrequencyHz: 1_000_000_000, OffsetSeconds: -10}
	_, err := c.ToNanos(5)
	if !errors.Is(err, ErrNegativeTimestamp) {
		t.Fatalf("expected ErrNegativeTimestamp, got %v", err)
	}
}

func TestToNanosZeroFrequency(t *testing.T) {
	c := &ClockDomain{}
	if _, err := c.ToNanos(1); err == nil {
		t.Fatal("expected error for zero frequency")
	}
}

func TestClockStyle(t *testing.T) {
	utc := &ClockDomain{UnixEpochOrigin: true}
	if got := utc.ClockStyle(); got != "utc" {
		t.Fatalf("expected utc, got %q", got)
	}
	rel := &ClockDomain{}
	if got := rel.ClockStyle(); got != "relative" {
		t.Fatalf("expected relative, got %q", got)
	}
}
