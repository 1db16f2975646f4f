package domain

import (
	"encoding/binary"

	"github.com/google/uuid"
)

// TimelineID is the stable identifier of one logical execution line in the
// target model. It is derived deterministically so repeated imports of the
// same trace produce the same ids.
type TimelineID uuid.UUID

func (id TimelineID) String() string { return uuid.UUID(id).String() }

// DeriveTimelineID computes the timeline id for a stream: a name-based
// (version 5) UUID in the trace UUID's namespace over the little-endian
// stream id. Pure function of its inputs.
func DeriveTimelineID(traceUUID uuid.UUID, stream StreamID) TimelineID {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], uint64(stream))
	return TimelineID(uuid.NewSHA1(traceUUID, b[:]))
}

// StreamIdentity is the stable identity of a source stream: everything the
// registry needs to resolve a Timeline deterministically.
type StreamIdentity struct {
	TraceUUID uuid.UUID
	Stream    StreamID
	// Name is the stream's display name; may be a path produced by the
	// decoder, in which case the registry trims it.
	Name string
	// CPU is the CPU index the stream was recorded on, or -1 when unknown.
	CPU int
}

// Timeline is a discovered logical execution line. Created on the first
// record observed from its stream; never destroyed during a run.
type Timeline struct {
	ID   TimelineID
	Name string
	CPU  int
	// FirstClock is the raw clock value of the first record observed.
	FirstClock uint64
	// Attrs carries the static timeline metadata (stream, clock and trace
	// attributes) registered with the ingest endpoint when the timeline is
	// opened.
	Attrs []Attr
}

// TraceInfo is the trace-level metadata shared by all streams of one trace.
type TraceInfo struct {
	UUID uuid.UUID `msgpack:"uuid"`
	Name string    `msgpack:"name,omitempty"`
	// Env holds the tracer environment entries (hostname, tracer version,
	// and so on) recorded in the trace metadata.
	Env []Attr `msgpack:"env,omitempty"`
}
