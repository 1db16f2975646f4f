package pipeline

import (
	"testing"

	"github.com/google/uuid"

	"github.com/ghalamif/TraceFlow/internal/app/registry"
	"github.com/ghalamif/TraceFlow/internal/domain"
)

func newTestMapper(obs *stubObs) *Mapper {
	trace := domain.TraceInfo{UUID: testTraceUUID, Name: "kernel"}
	reg := registry.New(trace, uuid.New(), 2)
	return NewMapper(reg, obs)
}

func mergedFor(src *scriptedSource, rec *domain.RawRecord, nanos uint64) Merged {
	return Merged{Source: src, Record: rec, Nanos: nanos}
}

func attrByKey(t *testing.T, attrs []domain.Attr, key string) domain.AttrVal {
	t.Helper()
	for _, a := range attrs {
		if a.Key == key {
			return a.Val
		}
	}
	t.Fatalf("attribute %q not found in %v", key, attrs)
	return domain.AttrVal{}
}

func hasKey(attrs []domain.Attr, key string) bool {
	for _, a := range attrs {
		if a.Key == key {
			return true
		}
	}
	return false
}

func TestMapBasicEvent(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(1)
	rec := &domain.RawRecord{
		Stream:     1,
		ClockValue: 1234,
		Name:       "sched_switch",
		ClassID:    17,
		LogLevel:   "DEBUG",
	}

	ev, tl, created, err := m.Map(mergedFor(src, rec, 1234))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if !created {
		t.Fatal("first record should create its timeline")
	}
	if ev.Timeline != tl.ID {
		t.Fatal("event must reference the resolved timeline")
	}
	if ev.Timestamp != 1234 {
		t.Fatalf("timestamp = %d", ev.Timestamp)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyName); got.Str != "sched_switch" {
		t.Fatalf("name = %q", got.Str)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyTimestamp); got.Kind != domain.AttrTimestamp || got.Uint != 1234 {
		t.Fatalf("timestamp attr = %+v", got)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyClockSnapshot); got.Uint != 1234 {
		t.Fatalf("clock snapshot = %d", got.Uint)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyClassID); got.Uint != 17 {
		t.Fatalf("class id = %d", got.Uint)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyLogLevel); got.Str != "debug" {
		t.Fatalf("log level should be lowercased, got %q", got.Str)
	}
}

func TestMapIsIdempotent(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(0)
	rec := &domain.RawRecord{
		Stream:     0,
		ClockValue: 50,
		Name:       "x",
		Payload: domain.StructField("",
			domain.SignedField("a", 1),
		),
	}

	ev1, _, _, err1 := m.Map(mergedFor(src, rec, 50))
	ev2, _, created, err2 := m.Map(mergedFor(src, rec, 50))
	if err1 != nil || err2 != nil {
		t.Fatalf("map failed: %v / %v", err1, err2)
	}
	if created {
		t.Fatal("second map must not create the timeline again")
	}
	if ev1.Timeline != ev2.Timeline || ev1.Timestamp != ev2.Timestamp || len(ev1.Attrs) != len(ev2.Attrs) {
		t.Fatal("mapping the same record twice must be identical")
	}
	for i := range ev1.Attrs {
		if ev1.Attrs[i].Key != ev2.Attrs[i].Key || !ev1.Attrs[i].Val.Equal(ev2.Attrs[i].Val) {
			t.Fatalf("attr %d differs: %+v vs %+v", i, ev1.Attrs[i], ev2.Attrs[i])
		}
	}
}

func TestFlattenNestedStructures(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(0)
	// {a: 1, b: {c: 2}} must become event.a=1, event.b.c=2.
	rec := &domain.RawRecord{
		Stream: 0,
		Name:   "nested",
		Payload: domain.StructField("",
			domain.SignedField("a", 1),
			domain.StructField("b",
				domain.SignedField("c", 2),
			),
		),
	}

	ev, _, _, err := m.Map(mergedFor(src, rec, 1))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if got := attrByKey(t, ev.Attrs, "event.a"); got.Int != 1 {
		t.Fatalf("event.a = %d", got.Int)
	}
	if got := attrByKey(t, ev.Attrs, "event.b.c"); got.Int != 2 {
		t.Fatalf("event.b.c = %d", got.Int)
	}
	if hasKey(ev.Attrs, "event.b") {
		t.Fatal("intermediate struct must not produce its own attribute")
	}
}

func TestFlattenAnonymousFieldsPerDepth(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(0)
	rec := &domain.RawRecord{
		Stream: 0,
		Name:   "anon",
		Payload: domain.StructField("",
			domain.SignedField("", 1),
			domain.StructField("inner",
				domain.SignedField("", 2),
				domain.SignedField("", 3),
			),
			domain.SignedField("", 4),
		),
	}

	ev, _, _, err := m.Map(mergedFor(src, rec, 1))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if got := attrByKey(t, ev.Attrs, "event.anonymous_0"); got.Int != 1 {
		t.Fatalf("event.anonymous_0 = %d", got.Int)
	}
	if got := attrByKey(t, ev.Attrs, "event.inner.anonymous_0"); got.Int != 2 {
		t.Fatalf("event.inner.anonymous_0 = %d", got.Int)
	}
	if got := attrByKey(t, ev.Attrs, "event.inner.anonymous_1"); got.Int != 3 {
		t.Fatalf("event.inner.anonymous_1 = %d", got.Int)
	}
	// The counter is per depth, so the outer level continues at 1.
	if got := attrByKey(t, ev.Attrs, "event.anonymous_1"); got.Int != 4 {
		t.Fatalf("event.anonymous_1 = %d", got.Int)
	}
}

func TestFlattenEnumSingleLabel(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(0)
	on := domain.UnsignedEnumField("state", 1, "ON")
	ambiguous := domain.UnsignedEnumField("mode", 2, "A", "B")
	rec := &domain.RawRecord{
		Stream:  0,
		Name:    "enums",
		Payload: domain.StructField("", on, ambiguous),
	}

	ev, _, _, err := m.Map(mergedFor(src, rec, 1))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if got := attrByKey(t, ev.Attrs, "event.state"); got.Uint != 1 {
		t.Fatalf("event.state = %d", got.Uint)
	}
	if got := attrByKey(t, ev.Attrs, "event.state.label"); got.Str != "ON" {
		t.Fatalf("event.state.label = %q", got.Str)
	}
	if hasKey(ev.Attrs, "event.mode.label") {
		t.Fatal("multi-label enums must not emit a label attribute")
	}
}

func TestFlattenArraysStayOrdered(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(0)
	arr := domain.ArrayField("values",
		domain.UnsignedField("", 7),
		domain.UnsignedField("", 8),
		domain.UnsignedField("", 9),
	)
	rec := &domain.RawRecord{
		Stream:  0,
		Name:    "arr",
		Payload: domain.StructField("", arr),
	}

	ev, _, _, err := m.Map(mergedFor(src, rec, 1))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	got := attrByKey(t, ev.Attrs, "event.values")
	if got.Kind != domain.AttrArray || len(got.Array) != 3 {
		t.Fatalf("expected 3-element array attr, got %+v", got)
	}
	for i, want := range []uint64{7, 8, 9} {
		if got.Array[i].Uint != want {
			t.Fatalf("element %d = %d, want %d", i, got.Array[i].Uint, want)
		}
	}
}

func TestContextPrefixesAndWellKnownKeys(t *testing.T) {
	m := newTestMapper(newStubObs())
	src := newScriptedSource(0)
	rec := &domain.RawRecord{
		Stream: 0,
		Name:   "ctx",
		CommonContext: domain.StructField("",
			domain.SignedField("vpid", 4242),
			domain.StringField("procname", "payload-writer"),
		),
		PacketContext: domain.StructField("",
			domain.UnsignedField("packet_size", 4096),
		),
	}

	ev, _, _, err := m.Map(mergedFor(src, rec, 1))
	if err != nil {
		t.Fatalf("map failed: %v", err)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyCommonContextPrefix+"vpid"); got.Int != 4242 {
		t.Fatalf("common context vpid = %d", got.Int)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyPID); got.Int != 4242 {
		t.Fatalf("derived pid = %d", got.Int)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyProcessName); got.Str != "payload-writer" {
		t.Fatalf("derived process = %q", got.Str)
	}
	if got := attrByKey(t, ev.Attrs, domain.EventKeyPacketContextPrefix+"packet_size"); got.Uint != 4096 {
		t.Fatalf("packet context = %d", got.Uint)
	}
}

func TestMapRejectsStructInsideArray(t *testing.T) {
	obs := newStubObs()
	m := newTestMapper(obs)
	src := newScriptedSource(0)
	bad := domain.ArrayField("weird",
		domain.StructField("elem", domain.SignedField("x", 1)),
	)
	rec := &domain.RawRecord{
		Stream:  0,
		Name:    "bad",
		Payload: domain.StructField("", bad),
	}

	ev, _, _, err := m.Map(mergedFor(src, rec, 1))
	if err == nil {
		t.Fatal("expected a mapping error")
	}
	if ev != nil {
		t.Fatal("rejected records must not produce an event")
	}
	if m.Rejected() != 1 {
		t.Fatalf("rejected = %d", m.Rejected())
	}
	if obs.rejectCount("mapping") != 1 {
		t.Fatal("mapping reject not reported")
	}
}
