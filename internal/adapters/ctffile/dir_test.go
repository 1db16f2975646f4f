package ctffile

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

var testTraceUUID = uuid.MustParse("4d6f6e74-6167-4e65-9761-747261636573")

func testClock() *domain.ClockDomain {
	return &domain.ClockDomain{
		FrequencyHz:     1_000_000_000,
		OffsetSeconds:   100,
		UnixEpochOrigin: true,
		Name:            "monotonic",
	}
}

// writeTraceDir materializes a recorded trace: the manifest plus one record
// file per stream.
func writeTraceDir(t *testing.T, man manifest, records map[domain.StreamID][]*domain.RawRecord) string {
	t.Helper()
	dir := t.TempDir()

	raw, err := msgpack.Marshal(&man)
	if err != nil {
		t.Fatalf("marshal manifest: %v", err)
	}
	if err := os.WriteFile(filepath.Join(dir, manifestFile), raw, 0o644); err != nil {
		t.Fatalf("write manifest: %v", err)
	}

	for _, s := range man.Streams {
		var buf bytes.Buffer
		enc := msgpack.NewEncoder(&buf)
		for _, rec := range records[s.ID] {
			if err := enc.Encode(rec); err != nil {
				t.Fatalf("encode record: %v", err)
			}
		}
		name := filepath.Join(dir, "stream_"+strconv.FormatUint(uint64(s.ID), 10)+".mp")
		if err := os.WriteFile(name, buf.Bytes(), 0o644); err != nil {
			t.Fatalf("write stream file: %v", err)
		}
	}
	return dir
}

func twoStreamManifest() manifest {
	return manifest{
		Trace: domain.TraceInfo{UUID: testTraceUUID, Name: "kernel", Env: []domain.Attr{{Key: "hostname", Val: domain.String("node1")}}},
		Streams: []StreamInfo{
			{ID: 0, Name: "channel0_0", CPU: 0, Clock: testClock()},
			{ID: 1, Name: "channel0_1", CPU: 1, Clock: testClock()},
		},
	}
}

func rec(stream domain.StreamID, clock uint64, name string) *domain.RawRecord {
	return &domain.RawRecord{
		Stream:     stream,
		ClockValue: clock,
		Name:       name,
		Payload:    domain.StructField("", domain.UnsignedField("count", clock)),
	}
}

func TestOpenAndDecodeRecordedTrace(t *testing.T) {
	dir := writeTraceDir(t, twoStreamManifest(), map[domain.StreamID][]*domain.RawRecord{
		0: {rec(0, 10, "sched_switch"), rec(0, 30, "sched_switch")},
		1: {rec(1, 20, "irq_handler_entry")},
	})

	dec, err := Open(dir, Overrides{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer dec.Close()

	if dec.TraceInfo().UUID != testTraceUUID {
		t.Fatalf("trace uuid = %s", dec.TraceInfo().UUID)
	}
	if len(dec.Streams()) != 2 {
		t.Fatalf("streams = %d", len(dec.Streams()))
	}

	r, err := dec.Next(0)
	if err != nil {
		t.Fatalf("next failed: %v", err)
	}
	if r.Stream != 0 || r.ClockValue != 10 || r.Name != "sched_switch" {
		t.Fatalf("unexpected record: %+v", r)
	}
	if r.Payload == nil || len(r.Payload.Members) != 1 || r.Payload.Members[0].Unsigned != 10 {
		t.Fatalf("payload did not round-trip: %+v", r.Payload)
	}

	if _, err := dec.Next(0); err != nil {
		t.Fatalf("second record: %v", err)
	}
	if _, err := dec.Next(0); err != io.EOF {
		t.Fatalf("stream end: %v", err)
	}
	if _, err := dec.Next(1); err != nil {
		t.Fatalf("stream 1: %v", err)
	}
}

func TestOpenRejectsDirectoryWithoutManifest(t *testing.T) {
	if _, err := Open(t.TempDir(), Overrides{}); err == nil {
		t.Fatal("directory without manifest must be rejected")
	}
}

func TestOpenRejectsCorruptManifest(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, manifestFile), []byte("not msgpack"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := Open(dir, Overrides{}); err == nil {
		t.Fatal("corrupt manifest must be rejected")
	}
}

func TestCorruptRecordPoisonsOnlyItsStream(t *testing.T) {
	dir := writeTraceDir(t, twoStreamManifest(), map[domain.StreamID][]*domain.RawRecord{
		0: {rec(0, 10, "a")},
		1: {rec(1, 20, "b")},
	})
	// Truncate stream 0 mid-record.
	name := filepath.Join(dir, "stream_0.mp")
	raw, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if err := os.WriteFile(name, raw[:len(raw)/2], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	dec, err := Open(dir, Overrides{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer dec.Close()

	if _, err := dec.Next(0); err == nil || err == io.EOF {
		t.Fatalf("truncated stream should fail, got %v", err)
	}
	// The failure is sticky; there is no resynchronization point.
	if _, err := dec.Next(0); err == nil || err == io.EOF {
		t.Fatalf("poisoned stream must stay broken, got %v", err)
	}
	if _, err := dec.Next(1); err != nil {
		t.Fatalf("healthy stream affected: %v", err)
	}
}

func TestOverridesRewriteTraceAndClocks(t *testing.T) {
	newUUID := uuid.MustParse("00000000-0000-4000-8000-000000000001")
	dir := writeTraceDir(t, twoStreamManifest(), map[domain.StreamID][]*domain.RawRecord{
		0: {rec(0, 10, "a")},
		1: {},
	})

	dec, err := Open(dir, Overrides{
		TraceName:               "renamed",
		TraceUUID:               &newUUID,
		ClockClassOffsetSeconds: 7,
		ClockClassOffsetNanos:   500,
	})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer dec.Close()

	if dec.TraceInfo().Name != "renamed" || dec.TraceInfo().UUID != newUUID {
		t.Fatalf("trace overrides not applied: %+v", dec.TraceInfo())
	}
	clock := dec.Streams()[0].Clock
	if clock.OffsetSeconds != 107 {
		t.Fatalf("offset seconds = %d", clock.OffsetSeconds)
	}
	// 500ns at 1GHz is 500 cycles.
	if clock.OffsetCycles != 500 {
		t.Fatalf("offset cycles = %d", clock.OffsetCycles)
	}
}

func TestNegativeClockOffsetNanosBorrowsFromSeconds(t *testing.T) {
	c := &domain.ClockDomain{FrequencyHz: 1_000_000_000, OffsetSeconds: 100}
	Overrides{ClockClassOffsetNanos: -1}.applyClock(c)
	if c.OffsetSeconds != 99 || c.OffsetCycles != 999_999_999 {
		t.Fatalf("offset = %ds + %d cycles", c.OffsetSeconds, c.OffsetCycles)
	}
	ns, err := c.ToNanos(1000)
	if err != nil {
		t.Fatalf("to nanos: %v", err)
	}
	// The shift moves conversions back by exactly one nanosecond.
	if want := uint64(100*1_000_000_000 + 999); ns != want {
		t.Fatalf("nanos = %d, want %d", ns, want)
	}

	c = &domain.ClockDomain{FrequencyHz: 1_000_000_000, OffsetSeconds: 100}
	Overrides{ClockClassOffsetNanos: -1_500_000_000}.applyClock(c)
	if c.OffsetSeconds != 98 || c.OffsetCycles != 500_000_000 {
		t.Fatalf("offset = %ds + %d cycles", c.OffsetSeconds, c.OffsetCycles)
	}
}

func TestSourcesExposeIdentityAndSentinels(t *testing.T) {
	dir := writeTraceDir(t, twoStreamManifest(), map[domain.StreamID][]*domain.RawRecord{
		0: {rec(0, 10, "a")},
		1: {},
	})
	dec, err := Open(dir, Overrides{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer dec.Close()

	sources := Sources(dec)
	if len(sources) != 2 {
		t.Fatalf("sources = %d", len(sources))
	}

	id := sources[1].Identity()
	if id.TraceUUID != testTraceUUID || id.Stream != 1 || id.Name != "channel0_1" || id.CPU != 1 {
		t.Fatalf("identity = %+v", id)
	}
	if clock, ok := sources[0].ClockDomain(); !ok || clock.FrequencyHz != 1_000_000_000 {
		t.Fatalf("clock = %v ok=%v", clock, ok)
	}

	ctx := context.Background()
	if _, err := sources[0].Next(ctx); err != nil {
		t.Fatalf("first record: %v", err)
	}
	if _, err := sources[0].Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("clean end: %v", err)
	}
	if _, err := sources[1].Next(ctx); !errors.Is(err, io.EOF) {
		t.Fatalf("empty stream should end cleanly: %v", err)
	}
}

func TestSourceAbortsOnCorruptStream(t *testing.T) {
	dir := writeTraceDir(t, twoStreamManifest(), map[domain.StreamID][]*domain.RawRecord{
		0: {rec(0, 10, "a")},
		1: {},
	})
	name := filepath.Join(dir, "stream_0.mp")
	raw, _ := os.ReadFile(name)
	if err := os.WriteFile(name, raw[:len(raw)/2], 0o644); err != nil {
		t.Fatalf("truncate: %v", err)
	}

	dec, err := Open(dir, Overrides{})
	if err != nil {
		t.Fatalf("open failed: %v", err)
	}
	defer dec.Close()

	src := Sources(dec)[0]
	_, err = src.Next(context.Background())
	var aborted *ports.StreamAborted
	if !errors.As(err, &aborted) {
		t.Fatalf("expected aborted stream, got %v", err)
	}
}
