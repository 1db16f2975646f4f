package traceflow

import (
	base "github.com/ghalamif/TraceFlow/pkg/traceflow"
)

// Type aliases so consumers can import github.com/ghalamif/TraceFlow
// directly.
type (
	Config          = base.Config
	Policy          = base.Policy
	ImportConfig    = base.ImportConfig
	RelayConfig     = base.RelayConfig
	IngestConfig    = base.IngestConfig
	TimelineConfig  = base.TimelineConfig
	MetricsConfig   = base.MetricsConfig
	Flow            = base.Flow
	FlowOption      = base.FlowOption
	StreamInOption  = base.StreamInOption
	StreamOutOption = base.StreamOutOption
	Runtime         = base.Runtime
	RuntimeOption   = base.RuntimeOption
	Source          = base.Source
	Decoder         = base.Decoder
	Relay           = base.Relay
	IngestTransport = base.IngestTransport
	BatchAck        = base.BatchAck
	Observability   = base.Observability
	Field           = base.Field
	Summary         = base.Summary
	RawRecord       = base.RawRecord
	TimedEvent      = base.TimedEvent
	Timeline        = base.Timeline
	TimelineID      = base.TimelineID
	TraceInfo       = base.TraceInfo
	StreamID        = base.StreamID
	ClockDomain     = base.ClockDomain
	Attr            = base.Attr
)

// Config helpers.
func LoadConfig(path string) (*Config, error) {
	return base.LoadConfig(path)
}

// Flow builder helpers.
func Conf(path string, opts ...FlowOption) (*Flow, error) {
	return base.Conf(path, opts...)
}

func ConfFromConfig(cfg *Config, opts ...FlowOption) (*Flow, error) {
	return base.ConfFromConfig(cfg, opts...)
}

func WithFlowOptions(opts ...RuntimeOption) FlowOption {
	return base.WithFlowOptions(opts...)
}

func StreamInSources(trace TraceInfo, srcs ...Source) StreamInOption {
	return base.StreamInSources(trace, srcs...)
}

func StreamInDecoder(dec Decoder) StreamInOption {
	return base.StreamInDecoder(dec)
}

func StreamInRelay(r Relay) StreamInOption {
	return base.StreamInRelay(r)
}

func StreamInObservability(obs Observability) StreamInOption {
	return base.StreamInObservability(obs)
}

func StreamOutTransport(t IngestTransport) StreamOutOption {
	return base.StreamOutTransport(t)
}

func StreamOutObservability(obs Observability) StreamOutOption {
	return base.StreamOutObservability(obs)
}

// Runtime and options.
func NewRuntime(cfg *Config, opts ...RuntimeOption) (*Runtime, error) {
	return base.NewRuntime(cfg, opts...)
}

func WithSources(trace TraceInfo, srcs ...Source) RuntimeOption {
	return base.WithSources(trace, srcs...)
}

func WithDecoder(dec Decoder) RuntimeOption {
	return base.WithDecoder(dec)
}

func WithRelay(r Relay) RuntimeOption {
	return base.WithRelay(r)
}

func WithTransport(t IngestTransport) RuntimeOption {
	return base.WithTransport(t)
}

func WithObservability(obs Observability) RuntimeOption {
	return base.WithObservability(obs)
}
