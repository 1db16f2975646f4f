package ports

import "github.com/ghalamif/TraceFlow/internal/domain"

// RejectReason classifies why a record or event was rejected. Every
// rejection is counted; nothing is silently dropped.
type RejectReason string

const (
	// RejectDecode marks a malformed or unsupported raw record.
	RejectDecode RejectReason = "source_decode"
	// RejectOrdering marks a record whose timestamp regressed within its
	// own stream.
	RejectOrdering RejectReason = "ordering_violation"
	// RejectClockUnresolved marks a record whose clock domain never
	// resolved before its source ended.
	RejectClockUnresolved RejectReason = "clock_unresolved"
	// RejectMapping marks a field conversion failure.
	RejectMapping RejectReason = "mapping"
	// RejectEndpoint marks a protocol-level permanent rejection of one
	// event by the ingest endpoint.
	RejectEndpoint RejectReason = "endpoint"
)

type Field struct {
	Key   string
	Value any
}

type Observability interface {
	LogInfo(msg string, fields ...Field)
	LogError(msg string, err error, fields ...Field)
	LogCritical(msg string, err error, fields ...Field)

	IncCounter(name string, v float64)
	ObserveLatency(name string, seconds float64)
	SetGauge(name string, v float64)

	RecordReject(reason RejectReason, stream domain.StreamID, err error)
}
