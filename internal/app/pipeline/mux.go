package pipeline

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// Merged is one record emitted by the multiplexer, with its timestamp
// already normalized to nanoseconds.
type Merged struct {
	Source ports.Source
	Record *domain.RawRecord
	Nanos  uint64
}

// MuxStats counts multiplexer outcomes for the final summary.
type MuxStats struct {
	Emitted          uint64
	RejectedDecode   uint64
	RejectedOrdering uint64
	RejectedClock    uint64
	SourcesEnded     int
	SourcesAborted   int
}

// maxUnresolvedPending caps how many records a source may park while its
// clock domain is pending. Hitting the cap ends the source with every
// parked record rejected.
const maxUnresolvedPending = 4096

type muxSlot struct {
	src ports.Source

	// pending is the lookahead. It holds exactly one record once the clock
	// domain is resolved; while the domain is pending it accumulates records
	// so the source still gets drained (buffered, never dropped).
	pending []*domain.RawRecord

	clock    *domain.ClockDomain
	resolved bool

	headNanos uint64
	headReady bool

	lastNanos uint64
	emitted   bool

	ended bool
}

// Multiplexer merges N sources, each individually non-decreasing, into one
// globally non-decreasing sequence. Selection is by smallest normalized
// timestamp with the stable source index as tiebreak, so output is
// deterministic when timestamps coincide.
type Multiplexer struct {
	slots     []*muxSlot
	obs       ports.Observability
	idleSleep time.Duration
	stats     MuxStats
}

func NewMultiplexer(sources []ports.Source, obs ports.Observability, idleSleep time.Duration) *Multiplexer {
	if idleSleep <= 0 {
		idleSleep = 5 * time.Millisecond
	}
	slots := make([]*muxSlot, len(sources))
	for i, src := range sources {
		slots[i] = &muxSlot{src: src}
	}
	return &Multiplexer{slots: slots, obs: obs, idleSleep: idleSleep}
}

// Stats returns the counters accumulated so far.
func (m *Multiplexer) Stats() MuxStats { return m.stats }

// Next returns the next record in global timestamp order. It returns io.EOF
// once every source has ended, and ctx.Err() on cancellation. Per-record
// failures (decode errors, ordering violations, unresolved clocks at end)
// are rejected, counted and skipped; they never stop the merge.
func (m *Multiplexer) Next(ctx context.Context) (Merged, error) {
	for {
		if err := ctx.Err(); err != nil {
			return Merged{}, err
		}

		live := 0
		anyReady := false
		blocked := false
		for _, s := range m.slots {
			m.fill(ctx, s)
			if !s.ended || len(s.pending) > 0 {
				live++
			}
			if s.headReady {
				anyReady = true
			}
			// A source holding records behind an unresolved clock blocks
			// emission entirely: those records may sort before every ready
			// head, so emitting now could regress the global order.
			if !s.ended && !s.resolved && len(s.pending) > 0 {
				blocked = true
			}
		}

		if !anyReady || blocked {
			if live == 0 {
				return Merged{}, io.EOF
			}
			// Every live source is idle or waiting on its clock domain.
			// Sleep briefly and re-poll; idle sources are re-polled each
			// round so none is starved or prematurely finished.
			select {
			case <-ctx.Done():
				return Merged{}, ctx.Err()
			case <-time.After(m.idleSleep):
			}
			continue
		}

		best := -1
		for i, s := range m.slots {
			if !s.headReady {
				continue
			}
			if best < 0 || s.headNanos < m.slots[best].headNanos {
				best = i
			}
		}

		s := m.slots[best]
		rec := s.pending[0]
		ns := s.headNanos
		s.pending = s.pending[1:]
		s.headReady = false
		s.lastNanos = ns
		s.emitted = true
		m.refreshHead(s)
		m.stats.Emitted++
		return Merged{Source: s.src, Record: rec, Nanos: ns}, nil
	}
}

// fill tops up a slot's lookahead and computes the head timestamp when the
// clock domain is resolved.
func (m *Multiplexer) fill(ctx context.Context, s *muxSlot) {
	if s.ended {
		m.finishPending(s)
		return
	}

	if !s.resolved {
		if clock, ok := s.src.ClockDomain(); ok {
			s.clock = clock
			s.resolved = true
		} else if len(s.pending) >= maxUnresolvedPending {
			// The clock never resolved and the park buffer is at its cap.
			// End the source rather than grow without bound or stall the
			// merge forever.
			s.ended = true
			m.stats.SourcesAborted++
			m.stats.SourcesEnded++
			m.obs.LogError("clock_never_resolved", errClockUnresolved(s.pending[0].ClockValue),
				ports.Field{Key: "stream", Value: uint64(s.src.Identity().Stream)},
				ports.Field{Key: "buffered", Value: len(s.pending)})
			m.obs.IncCounter("traceflow_sources_aborted_total", 1)
			m.finishPending(s)
			return
		}
	}

	// Poll the source when the lookahead is empty, or — while the clock is
	// pending — to keep draining so a later resolution or end is observed.
	needPoll := len(s.pending) == 0 || !s.resolved
	if needPoll {
		rec, err := s.src.Next(ctx)
		switch {
		case err == nil:
			s.pending = append(s.pending, rec)
		case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
			// Cancellation surfaced through the source; the caller's own
			// context check ends the merge.
			return
		case errors.Is(err, ports.ErrNoData):
			// Temporarily idle; stays in the merge and is re-polled next
			// round.
		case errors.Is(err, io.EOF):
			s.ended = true
			m.stats.SourcesEnded++
			m.finishPending(s)
			return
		default:
			var aborted *ports.StreamAborted
			if errors.As(err, &aborted) {
				s.ended = true
				m.stats.SourcesAborted++
				m.stats.SourcesEnded++
				m.obs.LogError("source_aborted", err,
					ports.Field{Key: "stream", Value: uint64(s.src.Identity().Stream)})
				m.obs.IncCounter("traceflow_sources_aborted_total", 1)
				m.finishPending(s)
				return
			}
			// Record-level decode failure: reject and keep the source.
			m.stats.RejectedDecode++
			m.obs.RecordReject(ports.RejectDecode, s.src.Identity().Stream, err)
		}
	}

	m.refreshHead(s)
}

// refreshHead normalizes the head record's timestamp once the clock domain
// is known, rejecting records that convert to negative timestamps or that
// regress within the stream.
func (m *Multiplexer) refreshHead(s *muxSlot) {
	if s.headReady || !s.resolved {
		return
	}
	for len(s.pending) > 0 {
		rec := s.pending[0]
		ns, err := s.clock.ToNanos(rec.ClockValue)
		if err != nil {
			s.pending = s.pending[1:]
			m.stats.RejectedDecode++
			m.obs.RecordReject(ports.RejectDecode, rec.Stream, err)
			continue
		}
		if s.emitted && ns < s.lastNanos {
			// Data-integrity error: the source's own sequence regressed.
			// Reject the offending record, continue with the next.
			s.pending = s.pending[1:]
			m.stats.RejectedOrdering++
			m.obs.RecordReject(ports.RejectOrdering, rec.Stream,
				errTimestampRegression(ns, s.lastNanos))
			continue
		}
		s.headNanos = ns
		s.headReady = true
		return
	}
}

// finishPending rejects records still parked behind an unresolved clock when
// their source ends; unresolved-at-end is reported, never silent.
func (m *Multiplexer) finishPending(s *muxSlot) {
	if s.resolved {
		m.refreshHead(s)
		return
	}
	for _, rec := range s.pending {
		m.stats.RejectedClock++
		m.obs.RecordReject(ports.RejectClockUnresolved, rec.Stream,
			errClockUnresolved(rec.ClockValue))
	}
	s.pending = nil
	s.headReady = false
}
