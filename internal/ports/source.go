package ports

import (
	"context"
	"errors"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

// ErrNoData is returned by Source.Next when a live source has no record
// available right now but has not ended. The multiplexer keeps polling the
// source without removing it from the merge.
var ErrNoData = errors.New("traceflow: no data yet")

// StreamAborted marks a source that ended because of a failure (for example
// relay reconnection exhaustion) rather than normal completion. The
// multiplexer removes the source and counts the abort; it is never reported
// as a clean end.
type StreamAborted struct {
	Err error
}

func (e *StreamAborted) Error() string {
	return "traceflow: stream aborted: " + e.Err.Error()
}

func (e *StreamAborted) Unwrap() error { return e.Err }

// Source is the decoded-event source boundary: the seam to the native CTF
// decoder. Implementations yield records in the source's own emission order.
//
// Next returns (record, nil) when a record is available, (nil, io.EOF) when
// the source has ended normally, (nil, ErrNoData) when a live source is
// temporarily idle, (nil, *StreamAborted) when the source ended due to a
// failure, and (nil, err) for a record-level decode error — the source stays
// live and the caller continues with its next record.
type Source interface {
	// Identity is the stable stream identity used for timeline resolution.
	Identity() domain.StreamIdentity
	// ClockDomain returns the source's clock domain, and false while it is
	// still pending (live sources may not know it until metadata arrives).
	ClockDomain() (*domain.ClockDomain, bool)
	Next(ctx context.Context) (*domain.RawRecord, error)
	Close() error
}
