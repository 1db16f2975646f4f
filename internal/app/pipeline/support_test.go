package pipeline

import (
	"context"
	"io"
	"sync"

	"github.com/google/uuid"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

var testTraceUUID = uuid.MustParse("0a1b2c3d-4e5f-6071-8293-a4b5c6d7e8f9")

// stubObs counts rejects and swallows logs.
type stubObs struct {
	mu      sync.Mutex
	rejects map[ports.RejectReason]int
}

func newStubObs() *stubObs {
	return &stubObs{rejects: make(map[ports.RejectReason]int)}
}

func (o *stubObs) LogInfo(string, ...ports.Field)            {}
func (o *stubObs) LogError(string, error, ...ports.Field)    {}
func (o *stubObs) LogCritical(string, error, ...ports.Field) {}
func (o *stubObs) IncCounter(string, float64)                {}
func (o *stubObs) ObserveLatency(string, float64)            {}
func (o *stubObs) SetGauge(string, float64)                  {}

func (o *stubObs) RecordReject(reason ports.RejectReason, _ domain.StreamID, _ error) {
	o.mu.Lock()
	o.rejects[reason]++
	o.mu.Unlock()
}

func (o *stubObs) rejectCount(reason ports.RejectReason) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.rejects[reason]
}

// sourceStep is one scripted Next result.
type sourceStep struct {
	rec *domain.RawRecord
	err error
}

// scriptedSource replays a fixed sequence of Next results, then io.EOF.
// The clock domain resolves after clockDelay polls (0 = immediately).
type scriptedSource struct {
	id         domain.StreamIdentity
	clock      *domain.ClockDomain
	clockDelay int

	steps []sourceStep
	i     int
	polls int
}

func newScriptedSource(stream domain.StreamID, steps ...sourceStep) *scriptedSource {
	return &scriptedSource{
		id: domain.StreamIdentity{
			TraceUUID: testTraceUUID,
			Stream:    stream,
			Name:      "chan" + string(rune('0'+stream)),
			CPU:       int(stream),
		},
		clock: &domain.ClockDomain{FrequencyHz: 1_000_000_000, UnixEpochOrigin: true},
		steps: steps,
	}
}

func (s *scriptedSource) Identity() domain.StreamIdentity { return s.id }

func (s *scriptedSource) ClockDomain() (*domain.ClockDomain, bool) {
	if s.polls < s.clockDelay {
		return nil, false
	}
	return s.clock, true
}

func (s *scriptedSource) Next(context.Context) (*domain.RawRecord, error) {
	s.polls++
	if s.i >= len(s.steps) {
		return nil, io.EOF
	}
	step := s.steps[s.i]
	s.i++
	return step.rec, step.err
}

func (s *scriptedSource) Close() error { return nil }

func recAt(stream domain.StreamID, clock uint64, name string) *domain.RawRecord {
	return &domain.RawRecord{Stream: stream, ClockValue: clock, Name: name}
}

func stepRec(stream domain.StreamID, clock uint64) sourceStep {
	return sourceStep{rec: recAt(stream, clock, "evt")}
}
