package ctffile

import (
	"context"
	"io"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// fileSource adapts one stream of a Decoder to the pipeline source
// contract. File-backed streams are never idle: every poll either yields a
// record, ends cleanly, or aborts on a corrupt file.
type fileSource struct {
	dec  Decoder
	info StreamInfo
	id   domain.StreamIdentity
}

// Sources wraps every stream of a recorded trace as a pipeline source. The
// decoder stays owned by the caller; closing an individual source is a
// no-op so all streams can share one underlying reader.
func Sources(dec Decoder) []ports.Source {
	trace := dec.TraceInfo()
	streams := dec.Streams()
	out := make([]ports.Source, 0, len(streams))
	for _, s := range streams {
		out = append(out, &fileSource{
			dec:  dec,
			info: s,
			id: domain.StreamIdentity{
				TraceUUID: trace.UUID,
				Stream:    s.ID,
				Name:      s.Name,
				CPU:       s.CPU,
			},
		})
	}
	return out
}

func (s *fileSource) Identity() domain.StreamIdentity { return s.id }

func (s *fileSource) ClockDomain() (*domain.ClockDomain, bool) {
	return s.info.Clock, s.info.Clock != nil
}

func (s *fileSource) Next(ctx context.Context) (*domain.RawRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	rec, err := s.dec.Next(s.info.ID)
	if err == io.EOF {
		return nil, io.EOF
	}
	if err != nil {
		return nil, &ports.StreamAborted{Err: err}
	}
	return rec, nil
}

func (s *fileSource) Close() error { return nil }
