// Package relay implements live trace collection: a wire client for the
// relay daemon plus the per-stream buffering that turns its packet feed
// into pipeline sources.
package relay

import (
	"io"
	"sync"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// recordBuffer is a bounded FIFO between the relay client (producer) and
// one pipeline source (consumer). The producer checks free capacity before
// requesting more packets, so a slow consumer backpressures the relay
// instead of growing memory.
type recordBuffer struct {
	mu     sync.Mutex
	data   []*domain.RawRecord
	cap    int
	closed bool
	abort  error
}

func newRecordBuffer(capacity int) *recordBuffer {
	if capacity <= 0 {
		capacity = 4096
	}
	return &recordBuffer{
		data: make([]*domain.RawRecord, 0, capacity),
		cap:  capacity,
	}
}

// free reports the remaining capacity.
func (b *recordBuffer) free() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.cap - len(b.data)
}

// len reports the number of buffered records.
func (b *recordBuffer) len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.data)
}

// push appends a packet's records. It refuses the whole packet when it does
// not fit; the caller re-requests it after the consumer catches up.
func (b *recordBuffer) push(recs []*domain.RawRecord) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed || len(b.data)+len(recs) > b.cap {
		return false
	}
	b.data = append(b.data, recs...)
	return true
}

// pop returns the next record, mapped onto the source sentinel contract:
// ports.ErrNoData while the stream is open but empty, io.EOF after a clean
// close, and the aborting error after a failed one.
func (b *recordBuffer) pop() (*domain.RawRecord, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.data) > 0 {
		rec := b.data[0]
		b.data = b.data[1:]
		return rec, nil
	}
	if !b.closed {
		return nil, ports.ErrNoData
	}
	if b.abort != nil {
		return nil, &ports.StreamAborted{Err: b.abort}
	}
	return nil, io.EOF
}

// close ends the stream. A nil cause is a clean end; buffered records are
// still drained by the consumer before the sentinel surfaces.
func (b *recordBuffer) close(cause error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	b.abort = cause
}

func (b *recordBuffer) isClosed() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.closed
}
