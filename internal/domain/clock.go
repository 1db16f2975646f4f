package domain

import (
	"errors"
	"fmt"
)

// ErrNegativeTimestamp is returned when a clock conversion would land before
// the domain's epoch. Callers should reject the record rather than truncate.
var ErrNegativeTimestamp = errors.New("clock value maps to a negative timestamp")

const nanosPerSecond = 1_000_000_000

// ClockDomain describes how to convert one stream's raw clock values into
// nanoseconds. One per source; must be resolved before any record from that
// source can be mapped.
type ClockDomain struct {
	FrequencyHz   uint64 `msgpack:"freq" yaml:"frequency_hz"`
	OffsetSeconds int64  `msgpack:"offset_s" yaml:"offset_seconds"`
	OffsetCycles  uint64 `msgpack:"offset_cycles" yaml:"offset_cycles"`
	// UnixEpochOrigin is true when the clock's epoch is the Unix epoch, in
	// which case converted timestamps are wall-clock comparable.
	UnixEpochOrigin bool   `msgpack:"unix_epoch" yaml:"unix_epoch_origin"`
	Name            string `msgpack:"name,omitempty" yaml:"name"`
	Description     string `msgpack:"desc,omitempty" yaml:"description"`
	UUID            string `msgpack:"uuid,omitempty" yaml:"uuid"`
	Precision       uint64 `msgpack:"precision,omitempty" yaml:"precision"`
}

// ToNanos converts a raw clock value to nanoseconds since the domain's
// epoch. Results that would be negative are an error, never a truncation.
func (c *ClockDomain) ToNanos(clock uint64) (uint64, error) {
	if c.FrequencyHz == 0 {
		return 0, fmt.Errorf("clock domain %q has zero frequency", c.Name)
	}
	ns := int64(cyclesToNanos(c.FrequencyHz, c.OffsetCycles+clock))
	ns += c.OffsetSeconds * nanosPerSecond
	if ns < 0 {
		return 0, fmt.Errorf("%w: clock=%d offset=%ds", ErrNegativeTimestamp, clock, c.OffsetSeconds)
	}
	return uint64(ns), nil
}

// ClockStyle names the epoch convention: "utc" when the origin is the Unix
// epoch, "relative" otherwise.
func (c *ClockDomain) ClockStyle() string {
	if c.UnixEpochOrigin {
		return "utc"
	}
	return "relative"
}

// cyclesToNanos converts without losing precision for the common 1 GHz case
// and without overflowing for high cycle counts at other frequencies.
func cyclesToNanos(freq, cycles uint64) uint64 {
	if freq == nanosPerSecond {
		return cycles
	}
	secs := cycles / freq
	rem := cycles % freq
	return secs*nanosPerSecond + rem*nanosPerSecond/freq
}
