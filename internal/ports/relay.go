package ports

import (
	"context"
	"errors"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

// ErrRelayNoData is returned by Relay.NextPacket when the producer has not
// published new packets for the stream yet.
var ErrRelayNoData = errors.New("traceflow: relay has no new data")

// ErrRelayStreamClosed is returned by Relay.NextPacket when the producer has
// closed the stream; no more packets will ever arrive for it.
var ErrRelayStreamClosed = errors.New("traceflow: relay stream closed by producer")

// ErrSessionNotFound is returned by Relay.Attach when the requested tracing
// session does not exist on the relay daemon.
var ErrSessionNotFound = errors.New("traceflow: tracing session not found")

// SessionInfo describes one live tracing session advertised by a relay
// daemon.
type SessionInfo struct {
	Name     string `msgpack:"name"`
	Hostname string `msgpack:"hostname"`
	Streams  uint32 `msgpack:"streams"`
	Clients  uint32 `msgpack:"clients"`
}

// StreamHandle is one attached live stream. The clock domain may be nil
// until the relay has delivered the stream's metadata.
type StreamHandle struct {
	ID    domain.StreamID     `msgpack:"id"`
	Name  string              `msgpack:"name"`
	CPU   int                 `msgpack:"cpu"`
	Clock *domain.ClockDomain `msgpack:"clock,omitempty"`
}

// RelayPacket is one chunk of decoded records for a single stream.
type RelayPacket struct {
	Stream  domain.StreamID     `msgpack:"stream"`
	Records []*domain.RawRecord `msgpack:"records"`
}

// Relay is the stateful request/response boundary to the live-tracing relay
// daemon. The exact wire format is implementation-defined; the live relay
// client only depends on this interface, which keeps its state machine
// testable against a fake.
type Relay interface {
	Connect(ctx context.Context) error
	ListSessions(ctx context.Context) ([]SessionInfo, error)
	// Attach negotiates a live-streaming sub-session and returns the trace
	// metadata plus one handle per CPU/channel stream.
	Attach(ctx context.Context, session string) (domain.TraceInfo, []StreamHandle, error)
	// NextPacket requests the next packet for one attached stream. Sentinel
	// errors: ErrRelayNoData, ErrRelayStreamClosed. Any other error is a
	// network-level failure and triggers reconnection.
	NextPacket(ctx context.Context, stream domain.StreamID) (*RelayPacket, error)
	Close() error
}
