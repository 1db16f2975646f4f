package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// SessionStats counts ingest-side outcomes for the final summary.
type SessionStats struct {
	EventsSubmitted  uint64
	EventsRejected   uint64
	BatchesSubmitted uint64
	TimelinesOpened  int
	Retries          uint64
}

type pendingBatch struct {
	events []*domain.TimedEvent
	ack    ports.BatchAck
	sentAt time.Time
	// resubmits counts full resubmission cycles for this batch; it is the
	// per-batch ceiling across ack timeouts, on top of the per-submission
	// backoff inside submitWithRetry.
	resubmits int
}

// Session batches mapped events and delivers them to the remote endpoint in
// production order with bounded buffering. At most Policy.MaxInFlight
// batches are unacknowledged at any time; when the window is full the
// producer suspends on the oldest acknowledgement instead of buffering
// further. Transient failures are retried with bounded exponential backoff;
// exhausting the ceiling is fatal for the whole pipeline.
type Session struct {
	transport ports.IngestTransport
	pol       ports.Policy
	obs       ports.Observability

	opened    map[domain.TimelineID]struct{}
	batch     []*domain.TimedEvent
	lastFlush time.Time
	pending   []*pendingBatch

	stats SessionStats
}

func NewSession(transport ports.IngestTransport, pol ports.Policy, obs ports.Observability) *Session {
	if pol.MaxBatchSize <= 0 {
		pol.MaxBatchSize = 1024
	}
	if pol.MaxInFlight <= 0 {
		pol.MaxInFlight = 1
	}
	if pol.FlushInterval <= 0 {
		pol.FlushInterval = time.Second
	}
	return &Session{
		transport: transport,
		pol:       pol,
		obs:       obs,
		opened:    make(map[domain.TimelineID]struct{}),
		batch:     make([]*domain.TimedEvent, 0, pol.MaxBatchSize),
		lastFlush: time.Now(),
	}
}

// Stats returns the counters accumulated so far.
func (s *Session) Stats() SessionStats { return s.stats }

// OpenTimeline registers a timeline with the endpoint exactly once. Calls
// for already-opened ids are no-ops.
func (s *Session) OpenTimeline(ctx context.Context, tl *domain.Timeline) error {
	if _, ok := s.opened[tl.ID]; ok {
		return nil
	}
	bo := newBackoff(s.pol)
	for {
		err := s.transport.OpenTimeline(ctx, tl)
		if err == nil {
			break
		}
		if !ports.Transient(err) {
			return fatalf("open timeline %s: %v", tl.ID, err)
		}
		s.stats.Retries++
		s.obs.LogError("open_timeline_retry", err, ports.Field{Key: "timeline", Value: tl.ID.String()})
		if waitErr := bo.wait(ctx); waitErr != nil {
			return fatalf("open timeline %s: %v (last transport error: %v)", tl.ID, waitErr, err)
		}
	}
	s.opened[tl.ID] = struct{}{}
	s.stats.TimelinesOpened++
	s.obs.IncCounter("traceflow_timelines_total", 1)
	return nil
}

// Enqueue appends one event in production order, submitting the batch when
// the size or time threshold is reached.
func (s *Session) Enqueue(ctx context.Context, ev *domain.TimedEvent) error {
	s.batch = append(s.batch, ev)
	if len(s.batch) >= s.pol.MaxBatchSize || time.Since(s.lastFlush) >= s.pol.FlushInterval {
		return s.Flush(ctx)
	}
	return nil
}

// FlushDeadline reports when the buffered partial batch must be submitted.
// ok is false when nothing is buffered.
func (s *Session) FlushDeadline() (deadline time.Time, ok bool) {
	if len(s.batch) == 0 {
		return time.Time{}, false
	}
	return s.lastFlush.Add(s.pol.FlushInterval), true
}

// Flush submits the current partial batch, if any.
func (s *Session) Flush(ctx context.Context) error {
	s.lastFlush = time.Now()
	if len(s.batch) == 0 {
		return nil
	}

	// Backpressure: suspend on the oldest in-flight acknowledgement rather
	// than letting unacknowledged batches exceed the window.
	for len(s.pending) >= s.pol.MaxInFlight {
		if err := s.awaitOldest(ctx); err != nil {
			return err
		}
	}

	events := s.batch
	s.batch = make([]*domain.TimedEvent, 0, s.pol.MaxBatchSize)
	ack, err := s.submitWithRetry(ctx, events)
	if err != nil {
		return err
	}
	s.pending = append(s.pending, &pendingBatch{events: events, ack: ack, sentAt: time.Now()})
	s.stats.BatchesSubmitted++
	s.obs.SetGauge("traceflow_batches_inflight", float64(len(s.pending)))
	return nil
}

// Drain submits any partial batch and waits for every outstanding
// acknowledgement.
func (s *Session) Drain(ctx context.Context) error {
	if err := s.Flush(ctx); err != nil {
		return err
	}
	for len(s.pending) > 0 {
		if err := s.awaitOldest(ctx); err != nil {
			return err
		}
	}
	return nil
}

// awaitOldest waits for the acknowledgement of the oldest in-flight batch.
// A transient failure (lost connection, ack timeout) resubmits every
// unacknowledged batch in order, so the endpoint never observes a gap or a
// per-timeline reordering.
func (s *Session) awaitOldest(ctx context.Context) error {
	p := s.pending[0]

	ackCtx := ctx
	var cancel context.CancelFunc
	if s.pol.AckTimeout > 0 {
		ackCtx, cancel = context.WithTimeout(ctx, s.pol.AckTimeout)
	}
	rejected, err := p.ack.Wait(ackCtx)
	// Only a failed Wait whose deadline actually expired is a timeout; a
	// successful acknowledgement stands even if the deadline raced it.
	if err != nil && ctx.Err() == nil && errors.Is(ackCtx.Err(), context.DeadlineExceeded) {
		err = ports.Transientf("batch acknowledgement timed out after %s", s.pol.AckTimeout)
	}
	if cancel != nil {
		cancel()
	}

	switch {
	case err == nil:
		s.obs.ObserveLatency("traceflow_ingest_ack_latency_seconds", time.Since(p.sentAt).Seconds())
		for _, idx := range rejected {
			if idx < 0 || idx >= len(p.events) {
				continue
			}
			s.stats.EventsRejected++
			s.obs.RecordReject(ports.RejectEndpoint, 0,
				errEndpointReject(p.events[idx]))
		}
		s.stats.EventsSubmitted += uint64(len(p.events) - len(rejected))
		s.obs.IncCounter("traceflow_events_ingested_total", float64(len(p.events)-len(rejected)))
		s.pending = s.pending[1:]
		s.obs.SetGauge("traceflow_batches_inflight", float64(len(s.pending)))
		return nil
	case ports.Transient(err):
		s.obs.LogError("batch_ack_failed", err, ports.Field{Key: "inflight", Value: len(s.pending)})
		return s.resubmitPending(ctx)
	default:
		return fatalf("batch permanently rejected: %v", err)
	}
}

// resubmitPending replays every unacknowledged batch in order after a
// transport failure. Each batch gets at most Policy.MaxRetries resubmission
// cycles; a batch still unacknowledged past that is fatal, so a peer that
// accepts writes but never acknowledges cannot stall the run forever.
func (s *Session) resubmitPending(ctx context.Context) error {
	limit := retryCeiling(s.pol)
	for _, p := range s.pending {
		p.resubmits++
		if p.resubmits > limit {
			return fatalf("batch still unacknowledged after %d resubmissions", limit)
		}
		ack, err := s.submitWithRetry(ctx, p.events)
		if err != nil {
			return err
		}
		p.ack = ack
		p.sentAt = time.Now()
	}
	return nil
}

// submitWithRetry submits one batch, retrying transient failures with
// bounded exponential backoff. Exceeding the ceiling, or any permanent
// rejection, is fatal.
func (s *Session) submitWithRetry(ctx context.Context, events []*domain.TimedEvent) (ports.BatchAck, error) {
	bo := newBackoff(s.pol)
	for {
		ack, err := s.transport.SubmitBatch(ctx, events)
		if err == nil {
			return ack, nil
		}
		if !ports.Transient(err) {
			return nil, fatalf("batch submission rejected: %v", err)
		}
		s.stats.Retries++
		s.obs.IncCounter("traceflow_batch_retries_total", 1)
		s.obs.LogError("batch_submit_retry", err, ports.Field{Key: "events", Value: len(events)})
		if waitErr := bo.wait(ctx); waitErr != nil {
			return nil, fatalf("batch submission: %v (last transport error: %v)", waitErr, err)
		}
	}
}

func errEndpointReject(ev *domain.TimedEvent) error {
	return &endpointRejectError{timeline: ev.Timeline, ts: ev.Timestamp}
}

type endpointRejectError struct {
	timeline domain.TimelineID
	ts       uint64
}

func (e *endpointRejectError) Error() string {
	return "event rejected by ingest endpoint (timeline " + e.timeline.String() + ")"
}
