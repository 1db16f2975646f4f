package relay

import (
	"context"
	"sync"

	"github.com/ghalamif/TraceFlow/internal/domain"
)

// liveSource exposes one live stream's buffer as a pipeline source. The
// clock domain may arrive after streaming starts; until then the
// multiplexer parks this source's records.
type liveSource struct {
	id  domain.StreamIdentity
	buf *recordBuffer

	mu    sync.Mutex
	clock *domain.ClockDomain
}

func newLiveSource(id domain.StreamIdentity, clock *domain.ClockDomain, bufCap int) *liveSource {
	return &liveSource{id: id, buf: newRecordBuffer(bufCap), clock: clock}
}

func (s *liveSource) Identity() domain.StreamIdentity { return s.id }

func (s *liveSource) ClockDomain() (*domain.ClockDomain, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.clock, s.clock != nil
}

// setClock installs the clock domain once the relay delivers the stream's
// metadata. Later calls are ignored; a clock domain never changes mid-run.
func (s *liveSource) setClock(c *domain.ClockDomain) {
	if c == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.clock == nil {
		s.clock = c
	}
}

func (s *liveSource) Next(ctx context.Context) (*domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.buf.pop()
}

func (s *liveSource) Close() error { return nil }
