package registry

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

var testTrace = domain.TraceInfo{
	UUID: uuid.MustParse("5f8a1db2-33c4-4e6a-9b71-0c2d3e4f5a6b"),
	Name: "kernel",
	Env: []domain.Attr{
		{Key: "hostname", Val: domain.String("build-01")},
	},
}

func testIdentity(stream domain.StreamID) domain.StreamIdentity {
	return domain.StreamIdentity{
		TraceUUID: testTrace.UUID,
		Stream:    stream,
		Name:      "/tmp/traces/kernel/channel0_" + string(rune('0'+stream)),
		CPU:       int(stream),
	}
}

func testClock() *domain.ClockDomain {
	return &domain.ClockDomain{
		FrequencyHz:     1_000_000_000,
		UnixEpochOrigin: true,
		Name:            "monotonic",
		UUID:            "a6f2cdb1-1111-2222-3333-444455556666",
	}
}

func findAttr(t *testing.T, attrs []domain.Attr, key string) domain.AttrVal {
	t.Helper()
	for _, a := range attrs {
		if a.Key == key {
			return a.Val
		}
	}
	t.Fatalf("attribute %q not found", key)
	return domain.AttrVal{}
}

func TestResolveCreatesOnce(t *testing.T) {
	r := New(testTrace, uuid.New(), 2)

	tl, created := r.Resolve(testIdentity(0), testClock(), 100)
	if !created {
		t.Fatal("first resolve should create")
	}
	again, created := r.Resolve(testIdentity(0), testClock(), 200)
	if created {
		t.Fatal("second resolve must not create")
	}
	if again != tl {
		t.Fatal("second resolve returned a different timeline")
	}
	if tl.FirstClock != 100 {
		t.Fatalf("first clock should stick, got %d", tl.FirstClock)
	}
	if r.Count() != 1 {
		t.Fatalf("expected 1 timeline, got %d", r.Count())
	}
}

func TestResolveDeterministicAcrossRegistries(t *testing.T) {
	a, _ := New(testTrace, uuid.New(), 2).Resolve(testIdentity(1), testClock(), 0)
	b, _ := New(testTrace, uuid.New(), 2).Resolve(testIdentity(1), testClock(), 0)
	if a.ID != b.ID {
		t.Fatalf("ids differ across runs: %s vs %s", a.ID, b.ID)
	}
	if a.ID != domain.DeriveTimelineID(testTrace.UUID, 1) {
		t.Fatal("id does not match the derivation")
	}
}

func TestResolveDistinctStreams(t *testing.T) {
	r := New(testTrace, uuid.New(), 4)
	seen := make(map[domain.TimelineID]bool)
	for s := domain.StreamID(0); s < 4; s++ {
		tl, created := r.Resolve(testIdentity(s), testClock(), 0)
		if !created {
			t.Fatalf("stream %d should create a timeline", s)
		}
		if seen[tl.ID] {
			t.Fatalf("duplicate timeline id %s", tl.ID)
		}
		seen[tl.ID] = true
	}
	if got := len(r.Snapshot()); got != 4 {
		t.Fatalf("expected 4 timelines in snapshot, got %d", got)
	}
}

func TestMergeStreamsCollapseToOneTimeline(t *testing.T) {
	r := New(testTrace, uuid.New(), 3, WithMergeStream(0))

	first, created := r.Resolve(testIdentity(0), testClock(), 10)
	if !created {
		t.Fatal("merge target should create on first resolve")
	}
	for s := domain.StreamID(1); s < 3; s++ {
		tl, created := r.Resolve(testIdentity(s), testClock(), 20)
		if created {
			t.Fatalf("stream %d must not create under merge", s)
		}
		if tl.ID != first.ID {
			t.Fatalf("stream %d mapped to %s, want %s", s, tl.ID, first.ID)
		}
	}
	if first.ID != domain.DeriveTimelineID(testTrace.UUID, 0) {
		t.Fatal("merged timeline must use the merge target's derivation")
	}
	findAttr(t, first.Attrs, domain.TimelineKeyMergeStream)
}

func TestTimelineAttributes(t *testing.T) {
	r := New(testTrace, uuid.MustParse("11111111-2222-3333-4444-555555555555"), 2)
	tl, _ := r.Resolve(testIdentity(1), testClock(), 0)

	if got := findAttr(t, tl.Attrs, domain.TimelineKeyName); got.Str != "channel0_1" {
		t.Fatalf("name should be the path base, got %q", got.Str)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyStreamID); got.Uint != 1 {
		t.Fatalf("stream id attr = %d", got.Uint)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyClockStyle); got.Str != "utc" {
		t.Fatalf("clock style = %q", got.Str)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyTimeDomain); got.Str != testClock().UUID {
		t.Fatalf("time domain = %q", got.Str)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyTraceUUID); got.Str != testTrace.UUID.String() {
		t.Fatalf("trace uuid = %q", got.Str)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyTraceEnvPrefix+"hostname"); got.Str != "build-01" {
		t.Fatalf("env hostname = %q", got.Str)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyRunID); got.Str != "11111111-2222-3333-4444-555555555555" {
		t.Fatalf("run id = %q", got.Str)
	}
}

func TestResolveWithoutClockOmitsClockAttrs(t *testing.T) {
	r := New(testTrace, uuid.New(), 1)
	tl, _ := r.Resolve(testIdentity(0), nil, 0)
	for _, a := range tl.Attrs {
		if a.Key == domain.TimelineKeyStreamClockFreq {
			t.Fatal("clock attrs must be omitted when the domain is unknown")
		}
	}
}

func TestExtraAndOverrideAttrs(t *testing.T) {
	extra := []domain.Attr{{Key: "timeline.rig", Val: domain.String("bench-3")}}
	override := []domain.Attr{{Key: domain.TimelineKeyName, Val: domain.String("renamed")}}
	r := New(testTrace, uuid.New(), 1, WithExtraAttrs(extra), WithOverrideAttrs(override))

	tl, _ := r.Resolve(testIdentity(0), testClock(), 0)
	if got := findAttr(t, tl.Attrs, "timeline.rig"); got.Str != "bench-3" {
		t.Fatalf("extra attr = %q", got.Str)
	}
	if got := findAttr(t, tl.Attrs, domain.TimelineKeyName); got.Str != "renamed" {
		t.Fatalf("override should win, got %q", got.Str)
	}
	// The override must replace, not duplicate.
	count := 0
	for _, a := range tl.Attrs {
		if a.Key == domain.TimelineKeyName {
			count++
		}
	}
	if count != 1 {
		t.Fatalf("expected exactly one name attribute, got %d", count)
	}
}

func TestDisplayNameFallback(t *testing.T) {
	r := New(testTrace, uuid.New(), 1)
	tl, _ := r.Resolve(domain.StreamIdentity{TraceUUID: testTrace.UUID, Stream: 5, CPU: -1}, testClock(), 0)
	if tl.Name != "stream5" {
		t.Fatalf("expected fallback name stream5, got %q", tl.Name)
	}
	for _, a := range tl.Attrs {
		if a.Key == domain.TimelineKeyStreamCPU {
			t.Fatal("unknown CPU must not be attributed")
		}
	}
}
