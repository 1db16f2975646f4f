// Package traceflow is the embedding API: load a configuration, optionally
// swap any adapter, and run trace collection inside your own service.
package traceflow

import (
	"github.com/ghalamif/TraceFlow/internal/adapters/ctffile"
	"github.com/ghalamif/TraceFlow/internal/adapters/relay"
	"github.com/ghalamif/TraceFlow/internal/app/config"
	"github.com/ghalamif/TraceFlow/internal/app/pipeline"
	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// Config re-exports the root configuration struct so embedding projects can
// construct or modify it programmatically.
type Config = config.Config

type (
	// Policy controls batching, the ingest window and retry ceilings.
	Policy = ports.Policy
	// ImportConfig configures recorded-trace inputs.
	ImportConfig = config.ImportConfig
	// RelayConfig configures live collection.
	RelayConfig = config.RelayConfig
	// IngestConfig configures the delivery endpoint.
	IngestConfig = config.IngestConfig
	// TimelineConfig adds or overrides timeline attributes.
	TimelineConfig = config.TimelineConfig
	// MetricsConfig configures the metrics HTTP server.
	MetricsConfig = config.MetricsConfig
)

// Source streams decoded records from any producer into the pipeline.
type Source = ports.Source

// IngestTransport delivers opened timelines and event batches downstream.
type IngestTransport = ports.IngestTransport

// BatchAck is the pending acknowledgement of one submitted batch.
type BatchAck = ports.BatchAck

// Relay is the live-collection wire boundary.
type Relay = ports.Relay

// Observability emits metrics and logs for the run.
type Observability = ports.Observability

// Field is a structured log field used by Observability implementations.
type Field = ports.Field

// Decoder reads recorded traces; implement it to feed custom formats.
type Decoder = ctffile.Decoder

// SessionNotFoundAction decides how live discovery treats a missing session.
type SessionNotFoundAction = relay.SessionNotFoundAction

const (
	SessionNotFoundFail  = relay.SessionNotFoundFail
	SessionNotFoundRetry = relay.SessionNotFoundRetry
	SessionNotFoundEnd   = relay.SessionNotFoundEnd
)

// Summary is the final accounting of one run.
type Summary = pipeline.Summary

type (
	// RawRecord is one decoded record before mapping.
	RawRecord = domain.RawRecord
	// TimedEvent is one mapped event with its timeline and timestamp.
	TimedEvent = domain.TimedEvent
	// Timeline is one discovered logical execution line.
	Timeline = domain.Timeline
	// TimelineID is the stable identifier of a timeline.
	TimelineID = domain.TimelineID
	// TraceInfo is the trace-level metadata shared by all streams.
	TraceInfo = domain.TraceInfo
	// StreamID identifies one stream within a trace.
	StreamID = domain.StreamID
	// ClockDomain converts one stream's clock values to nanoseconds.
	ClockDomain = domain.ClockDomain
	// Attr is one typed key/value attribute.
	Attr = domain.Attr
)

// LoadConfig loads YAML from disk using the internal config reader.
func LoadConfig(path string) (*Config, error) {
	return config.Load(path)
}
