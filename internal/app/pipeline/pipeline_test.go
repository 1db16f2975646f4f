package pipeline

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/ghalamif/TraceFlow/internal/app/registry"
	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

func newTestRegistry(t *testing.T, streams int) *registry.Registry {
	t.Helper()
	trace := domain.TraceInfo{UUID: testTraceUUID, Name: "kernel"}
	return registry.New(trace, uuid.New(), streams)
}

func pipelinePolicy() ports.Policy {
	pol := testPolicy()
	pol.MaxBatchSize = 2
	pol.IdleSleep = time.Millisecond
	return pol
}

func TestRunMergesTwoSourcesEndToEnd(t *testing.T) {
	sources := []ports.Source{
		newScriptedSource(0, stepRec(0, 10), stepRec(0, 30)),
		newScriptedSource(1, stepRec(1, 20), stepRec(1, 40)),
	}
	tr := &mockTransport{auto: true}
	p := New(sources, newTestRegistry(t, 2), tr, pipelinePolicy(), newStubObs())

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var all []*domain.TimedEvent
	for _, b := range tr.batches {
		all = append(all, b...)
	}
	if len(all) != 4 {
		t.Fatalf("delivered %d events, want 4", len(all))
	}
	wantTS := []uint64{10, 20, 30, 40}
	wantTL := []domain.TimelineID{
		domain.DeriveTimelineID(testTraceUUID, 0),
		domain.DeriveTimelineID(testTraceUUID, 1),
		domain.DeriveTimelineID(testTraceUUID, 0),
		domain.DeriveTimelineID(testTraceUUID, 1),
	}
	for i, ev := range all {
		if ev.Timestamp != wantTS[i] {
			t.Fatalf("event %d: timestamp %d, want %d", i, ev.Timestamp, wantTS[i])
		}
		if ev.Timeline != wantTL[i] {
			t.Fatalf("event %d: timeline %s, want %s", i, ev.Timeline, wantTL[i])
		}
	}

	if len(tr.opened) != 2 {
		t.Fatalf("opened %d timelines, want 2", len(tr.opened))
	}
	if sum.EventsProcessed != 4 || sum.EventsSubmitted != 4 {
		t.Fatalf("summary processed=%d submitted=%d", sum.EventsProcessed, sum.EventsSubmitted)
	}
	if sum.TimelinesOpened != 2 || sum.BatchesSubmitted != 2 {
		t.Fatalf("summary timelines=%d batches=%d", sum.TimelinesOpened, sum.BatchesSubmitted)
	}
}

func TestRunCountsOrderingRejectsInSummary(t *testing.T) {
	sources := []ports.Source{
		newScriptedSource(0, stepRec(0, 20), stepRec(0, 10), stepRec(0, 30)),
	}
	tr := &mockTransport{auto: true}
	p := New(sources, newTestRegistry(t, 1), tr, pipelinePolicy(), newStubObs())

	sum, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if sum.EventsProcessed != 2 {
		t.Fatalf("processed %d, want 2", sum.EventsProcessed)
	}
	if sum.EventsRejected[ports.RejectOrdering] != 1 {
		t.Fatalf("ordering rejects = %d", sum.EventsRejected[ports.RejectOrdering])
	}
}

func TestRunFatalTransportAbortsRun(t *testing.T) {
	sources := []ports.Source{
		newScriptedSource(0, stepRec(0, 10), stepRec(0, 20), stepRec(0, 30)),
	}
	tr := &mockTransport{submitFail: errors.New("unauthenticated")}
	p := New(sources, newTestRegistry(t, 1), tr, pipelinePolicy(), newStubObs())

	_, err := p.Run(context.Background())
	if !errors.Is(err, ErrPipelineFatal) {
		t.Fatalf("expected fatal error, got %v", err)
	}
}

// trickleSource replays its script and then idles forever instead of
// ending, like a live stream during a lull.
type trickleSource struct {
	*scriptedSource
}

func (s *trickleSource) Next(ctx context.Context) (*domain.RawRecord, error) {
	rec, err := s.scriptedSource.Next(ctx)
	if errors.Is(err, io.EOF) {
		return nil, ports.ErrNoData
	}
	return rec, err
}

func TestRunFlushesPartialBatchDuringLull(t *testing.T) {
	src := &trickleSource{newScriptedSource(0, stepRec(0, 10))}
	tr := &mockTransport{auto: true}
	pol := pipelinePolicy()
	pol.MaxBatchSize = 100
	pol.FlushInterval = 20 * time.Millisecond

	p := New([]ports.Source{src}, newTestRegistry(t, 1), tr, pol, newStubObs())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	done := make(chan error, 1)
	go func() {
		_, err := p.Run(ctx)
		done <- err
	}()

	// The single buffered event must go out at the flush interval even
	// though the source never ends and the batch never fills.
	deadline := time.Now().Add(2 * time.Second)
	for tr.batchCount() == 0 {
		if time.Now().After(deadline) {
			t.Fatal("partial batch never flushed during the lull")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()
	if err := <-done; err != nil && !errors.Is(err, context.Canceled) {
		t.Fatalf("run: %v", err)
	}
}

func TestRunCancelledContextStillDrains(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	sources := []ports.Source{
		newScriptedSource(0, stepRec(0, 10)),
	}
	tr := &mockTransport{auto: true}
	p := New(sources, newTestRegistry(t, 1), tr, pipelinePolicy(), newStubObs())

	sum, err := p.Run(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if sum.EventsSubmitted != 0 {
		t.Fatalf("no events should have been accepted, got %d", sum.EventsSubmitted)
	}
}
