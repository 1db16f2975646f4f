package ports

import (
	"context"
	"errors"
	"fmt"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

// TransientError wraps a transport failure that may succeed on retry
// (connection reset, timeout, relay hiccup). Anything not transient is
// treated as permanent by the session.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("traceflow: transient transport error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// Transientf wraps a formatted error as transient.
func Transientf(format string, args ...any) error {
	return &TransientError{Err: fmt.Errorf(format, args...)}
}

// Transient reports whether err is retryable.
func Transient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}

// BatchAck is the pending acknowledgement of one submitted batch.
type BatchAck interface {
	// Wait blocks until the endpoint acknowledges the batch. It returns the
	// indices of events the endpoint permanently rejected (those are dropped
	// and reported; the rest of the batch is accepted), or an error. A
	// transient error means the batch was not acknowledged and may be
	// resubmitted.
	Wait(ctx context.Context) (rejected []int, err error)
}

// IngestTransport is the send-and-acknowledge boundary to the remote ingest
// endpoint. SubmitBatch transmits in call order; acknowledgements complete
// in the same order, which lets the session pipeline up to its window of
// unacknowledged batches.
type IngestTransport interface {
	// OpenTimeline registers a timeline and its static metadata with the
	// endpoint. Must be called exactly once per timeline id before the first
	// event referencing it is submitted; the session enforces the
	// exactly-once part.
	OpenTimeline(ctx context.Context, tl *domain.Timeline) error
	SubmitBatch(ctx context.Context, events []*domain.TimedEvent) (BatchAck, error)
	Close() error
}
