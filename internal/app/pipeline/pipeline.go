package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ghalamif/TraceFlow/internal/app/registry"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// Summary is the final accounting of one run.
type Summary struct {
	EventsProcessed  uint64
	EventsSubmitted  uint64
	EventsRejected   map[ports.RejectReason]uint64
	TimelinesOpened  int
	BatchesSubmitted uint64
	Retries          uint64
}

// Pipeline drives one run end to end: merge the sources in timestamp
// order, map each record onto its timeline, and deliver the events in
// bounded, ordered batches.
type Pipeline struct {
	mux     *Multiplexer
	mapper  *Mapper
	session *Session
	obs     ports.Observability
}

func New(sources []ports.Source, reg *registry.Registry, transport ports.IngestTransport, pol ports.Policy, obs ports.Observability) *Pipeline {
	return &Pipeline{
		mux:     NewMultiplexer(sources, obs, pol.IdleSleep),
		mapper:  NewMapper(reg, obs),
		session: NewSession(transport, pol, obs),
		obs:     obs,
	}
}

// Run processes records until every source ends, then drains the session.
// Cancellation stops intake immediately but still attempts a short graceful
// drain of already-accepted events. A fatal session error aborts the run
// with events possibly undelivered; the returned Summary reflects what was
// acknowledged.
func (p *Pipeline) Run(ctx context.Context) (Summary, error) {
	runErr := p.loop(ctx)

	drainCtx := ctx
	if ctx.Err() != nil {
		var cancel context.CancelFunc
		drainCtx, cancel = context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
	}
	if runErr == nil || errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded) {
		if err := p.session.Drain(drainCtx); err != nil && runErr == nil {
			runErr = err
		}
	}

	sum := p.summary()
	p.obs.LogInfo("run_complete",
		ports.Field{Key: "events_processed", Value: sum.EventsProcessed},
		ports.Field{Key: "events_submitted", Value: sum.EventsSubmitted},
		ports.Field{Key: "timelines", Value: sum.TimelinesOpened},
		ports.Field{Key: "batches", Value: sum.BatchesSubmitted},
	)
	return sum, runErr
}

func (p *Pipeline) loop(ctx context.Context) error {
	for {
		// Bound the intake wait by the partial batch's flush deadline, so a
		// lull in live sources cannot hold buffered events past the
		// configured interval.
		waitCtx := ctx
		var cancel context.CancelFunc
		if deadline, ok := p.session.FlushDeadline(); ok {
			waitCtx, cancel = context.WithDeadline(ctx, deadline)
		}
		merged, err := p.mux.Next(waitCtx)
		if cancel != nil {
			cancel()
		}
		if err != nil && waitCtx.Err() != nil && ctx.Err() == nil {
			if err := p.session.Flush(ctx); err != nil {
				return err
			}
			continue
		}
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}

		ev, tl, created, mapErr := p.mapper.Map(merged)
		if created {
			if err := p.session.OpenTimeline(ctx, tl); err != nil {
				return err
			}
		}
		if mapErr != nil {
			continue
		}
		if err := p.session.Enqueue(ctx, ev); err != nil {
			return err
		}
	}
}

func (p *Pipeline) summary() Summary {
	mux := p.mux.Stats()
	sess := p.session.Stats()
	return Summary{
		EventsProcessed: mux.Emitted,
		EventsSubmitted: sess.EventsSubmitted,
		EventsRejected: map[ports.RejectReason]uint64{
			ports.RejectDecode:          mux.RejectedDecode,
			ports.RejectOrdering:        mux.RejectedOrdering,
			ports.RejectClockUnresolved: mux.RejectedClock,
			ports.RejectMapping:         p.mapper.Rejected(),
			ports.RejectEndpoint:        sess.EventsRejected,
		},
		TimelinesOpened:  sess.TimelinesOpened,
		BatchesSubmitted: sess.BatchesSubmitted,
		Retries:          sess.Retries,
	}
}
