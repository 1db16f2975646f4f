// Package ctffile turns recorded trace directories into pipeline sources.
// A directory holds one manifest describing the trace and its streams plus
// one record file per stream; records are consumed in recorded order.
package ctffile

import (
	"github.com/google/uuid"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

// StreamInfo describes one recorded stream of a trace directory.
type StreamInfo struct {
	ID    domain.StreamID     `msgpack:"id"`
	Name  string              `msgpack:"name"`
	CPU   int                 `msgpack:"cpu"`
	Clock *domain.ClockDomain `msgpack:"clock,omitempty"`
}

// Decoder is the read seam over a recorded trace. Implementations return
// records per stream in their recorded order; io.EOF marks the clean end of
// a stream, anything else means the stream is unreadable from that point on.
type Decoder interface {
	TraceInfo() domain.TraceInfo
	Streams() []StreamInfo
	Next(stream domain.StreamID) (*domain.RawRecord, error)
	Close() error
}

// Overrides adjusts the decoded trace metadata before it reaches the
// pipeline. Zero values leave the recorded metadata untouched.
type Overrides struct {
	// TraceName replaces the recorded trace name.
	TraceName string
	// TraceUUID replaces the recorded trace UUID, changing every derived
	// timeline id. Use it to keep repeated imports of the same file apart.
	TraceUUID *uuid.UUID
	// ClockClassOffsetSeconds and ClockClassOffsetNanos shift every stream
	// clock by a fixed amount, for traces recorded with a skewed origin.
	ClockClassOffsetSeconds int64
	ClockClassOffsetNanos   int64
	// ForceUnixEpoch marks every clock as Unix-epoch anchored regardless of
	// what the trace metadata claims.
	ForceUnixEpoch bool
}

func (o Overrides) applyTrace(info *domain.TraceInfo) {
	if o.TraceName != "" {
		info.Name = o.TraceName
	}
	if o.TraceUUID != nil {
		info.UUID = *o.TraceUUID
	}
}

func (o Overrides) applyClock(c *domain.ClockDomain) {
	if c == nil {
		return
	}
	c.OffsetSeconds += o.ClockClassOffsetSeconds
	if o.ClockClassOffsetNanos != 0 && c.FrequencyHz != 0 {
		shiftClockNanos(c, o.ClockClassOffsetNanos)
	}
	if o.ForceUnixEpoch {
		c.UnixEpochOrigin = true
	}
}

// shiftClockNanos moves the clock origin by a signed nanosecond amount. The
// cycle part stays non-negative: a negative shift borrows whole seconds.
// Sub-cycle remainders are below the clock's own resolution.
func shiftClockNanos(c *domain.ClockDomain, ns int64) {
	neg := ns < 0
	if neg {
		ns = -ns
	}
	secs := int64(uint64(ns) / 1_000_000_000)
	cycles := uint64(ns) % 1_000_000_000 * c.FrequencyHz / 1_000_000_000
	if !neg {
		c.OffsetSeconds += secs
		c.OffsetCycles += cycles
		return
	}
	c.OffsetSeconds -= secs
	if cycles > c.OffsetCycles {
		c.OffsetSeconds--
		c.OffsetCycles += c.FrequencyHz
	}
	c.OffsetCycles -= cycles
}
