// Package registry tracks the timelines discovered during a run and assigns
// them stable, deterministic identifiers.
package registry

import (
	"fmt"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

// Option customizes registry behavior.
type Option func(*Registry)

// WithMergeStream merges every stream onto the timeline derived from the
// given stream id, producing a single timeline for the whole trace.
func WithMergeStream(id domain.StreamID) Option {
	return func(r *Registry) {
		r.merge = &id
	}
}

// WithExtraAttrs attaches additional static attributes to every timeline.
func WithExtraAttrs(attrs []domain.Attr) Option {
	return func(r *Registry) {
		r.extra = attrs
	}
}

// WithOverrideAttrs overrides static attributes on every timeline; applied
// after everything else.
func WithOverrideAttrs(attrs []domain.Attr) Option {
	return func(r *Registry) {
		r.overrides = attrs
	}
}

// Registry resolves stream identities to timelines. Resolve is idempotent
// and deterministic: the same identity always yields the same timeline id,
// within a run and across runs over the same trace. It is the only pipeline
// structure shared for read and write, so every resolve/insert is one
// critical section.
type Registry struct {
	mu        sync.Mutex
	trace     domain.TraceInfo
	runID     uuid.UUID
	merge     *domain.StreamID
	extra     []domain.Attr
	overrides []domain.Attr

	byStream map[domain.StreamID]*domain.Timeline
	streams  int
}

// New builds a registry for one trace. streamCount is the number of streams
// the trace metadata reports; it is only used as a timeline attribute.
func New(trace domain.TraceInfo, runID uuid.UUID, streamCount int, opts ...Option) *Registry {
	r := &Registry{
		trace:    trace,
		runID:    runID,
		streams:  streamCount,
		byStream: make(map[domain.StreamID]*domain.Timeline),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Resolve returns the timeline for a stream identity, creating it on first
// observation. created is true exactly once per timeline id. clock may be
// nil when the source's clock domain is still pending; the static clock
// attributes are then omitted.
func (r *Registry) Resolve(id domain.StreamIdentity, clock *domain.ClockDomain, firstClock uint64) (tl *domain.Timeline, created bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	key := id.Stream
	if r.merge != nil {
		key = *r.merge
	}
	if existing, ok := r.byStream[key]; ok {
		return existing, false
	}

	name := displayName(id, key)
	tl = &domain.Timeline{
		ID:         domain.DeriveTimelineID(r.trace.UUID, key),
		Name:       name,
		CPU:        id.CPU,
		FirstClock: firstClock,
	}
	tl.Attrs = r.buildAttrs(tl, key, clock)
	r.byStream[key] = tl
	return tl, true
}

// Count reports how many timelines have been discovered so far.
func (r *Registry) Count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byStream)
}

// Snapshot returns the discovered timelines ordered by stream id.
func (r *Registry) Snapshot() []*domain.Timeline {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]domain.StreamID, 0, len(r.byStream))
	for id := range r.byStream {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]*domain.Timeline, len(ids))
	for i, id := range ids {
		out[i] = r.byStream[id]
	}
	return out
}

// MergeTarget returns the configured merge stream id, if any; callers use
// it to verify the configured id actually exists in the trace.
func (r *Registry) MergeTarget() (domain.StreamID, bool) {
	if r.merge == nil {
		return 0, false
	}
	return *r.merge, true
}

func (r *Registry) buildAttrs(tl *domain.Timeline, stream domain.StreamID, clock *domain.ClockDomain) []domain.Attr {
	attrs := []domain.Attr{
		{Key: domain.TimelineKeyName, Val: domain.String(tl.Name)},
		{Key: domain.TimelineKeyDescription, Val: domain.String(fmt.Sprintf("CTF stream %q", tl.Name))},
		{Key: domain.TimelineKeyRunID, Val: domain.String(r.runID.String())},
		{Key: domain.TimelineKeyIngestSource, Val: domain.String(domain.IngestSourceValue)},
		{Key: domain.TimelineKeyStreamID, Val: domain.Uint(uint64(stream))},
		{Key: domain.TimelineKeyStreamName, Val: domain.String(tl.Name)},
	}
	if tl.CPU >= 0 {
		attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyStreamCPU, Val: domain.Int(int64(tl.CPU))})
	}

	if clock != nil {
		attrs = append(attrs,
			domain.Attr{Key: domain.TimelineKeyStreamClockFreq, Val: domain.Uint(clock.FrequencyHz)},
			domain.Attr{Key: domain.TimelineKeyStreamClockOffsetSecs, Val: domain.Int(clock.OffsetSeconds)},
			domain.Attr{Key: domain.TimelineKeyStreamClockOffsetCyc, Val: domain.Uint(clock.OffsetCycles)},
			domain.Attr{Key: domain.TimelineKeyStreamClockUnixEpoch, Val: domain.Bool(clock.UnixEpochOrigin)},
			domain.Attr{Key: domain.TimelineKeyClockStyle, Val: domain.String(clock.ClockStyle())},
		)
		if clock.Precision != 0 {
			attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyStreamClockPrecision, Val: domain.Uint(clock.Precision)})
		}
		if clock.Name != "" {
			attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyStreamClockName, Val: domain.String(clock.Name)})
		}
		if clock.Description != "" {
			attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyStreamClockDesc, Val: domain.String(clock.Description)})
		}
		if clock.UUID != "" {
			attrs = append(attrs,
				domain.Attr{Key: domain.TimelineKeyStreamClockUUID, Val: domain.String(clock.UUID)},
				domain.Attr{Key: domain.TimelineKeyTimeDomain, Val: domain.String(clock.UUID)},
			)
		}
	}

	// Trace-level attributes repeat on every timeline so each one is
	// self-describing.
	attrs = append(attrs,
		domain.Attr{Key: domain.TimelineKeyTraceUUID, Val: domain.String(r.trace.UUID.String())},
		domain.Attr{Key: domain.TimelineKeyTraceStreamCount, Val: domain.Int(int64(r.streams))},
	)
	if r.trace.Name != "" {
		attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyTraceName, Val: domain.String(r.trace.Name)})
	}
	for _, e := range r.trace.Env {
		attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyTraceEnvPrefix + e.Key, Val: e.Val})
	}
	if r.merge != nil {
		attrs = append(attrs, domain.Attr{Key: domain.TimelineKeyMergeStream, Val: domain.Uint(uint64(*r.merge))})
	}

	attrs = append(attrs, r.extra...)
	for _, o := range r.overrides {
		attrs = setAttr(attrs, o)
	}
	return attrs
}

func setAttr(attrs []domain.Attr, a domain.Attr) []domain.Attr {
	for i := range attrs {
		if attrs[i].Key == a.Key {
			attrs[i].Val = a.Val
			return attrs
		}
	}
	return append(attrs, a)
}

// displayName picks a readable timeline name. Decoders often report the
// stream's file path as its name; use the file name component when so, fall
// back to the raw name, then to the "stream<id>" convention.
func displayName(id domain.StreamIdentity, stream domain.StreamID) string {
	if id.Name != "" {
		if base := filepath.Base(id.Name); base != "." && base != string(filepath.Separator) {
			return base
		}
		return id.Name
	}
	return fmt.Sprintf("stream%d", stream)
}
