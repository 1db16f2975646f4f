// Package ingest implements the TCP transport to the ingest endpoint.
// Frames carry a sequence number and are acknowledged asynchronously, so
// multiple batches can be in flight on one connection while the endpoint
// still observes them in submission order.
package ingest

import (
	"bufio"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

const (
	frameHello    byte = 0x01
	frameHelloAck byte = 0x02
	frameTimeline byte = 0x03
	frameBatch    byte = 0x04
	frameAck      byte = 0x05
)

const maxFramePayload = 16 << 20

type helloFrame struct {
	AuthToken string `msgpack:"auth_token,omitempty"`
	RunID     string `msgpack:"run_id,omitempty"`
}

type timelineFrame struct {
	Seq   uint64        `msgpack:"seq"`
	ID    string        `msgpack:"id"`
	Name  string        `msgpack:"name"`
	Attrs []domain.Attr `msgpack:"attrs"`
}

type batchFrame struct {
	Seq        uint64 `msgpack:"seq"`
	Compressed bool   `msgpack:"compressed"`
	// Events is the msgpack encoding of the event slice, zstd-compressed
	// when Compressed is set.
	Events []byte `msgpack:"events"`
}

type ackFrame struct {
	Seq      uint64 `msgpack:"seq"`
	Rejected []int  `msgpack:"rejected,omitempty"`
	// Error marks a permanent, protocol-level rejection of the frame.
	Error string `msgpack:"error,omitempty"`
}

type ackResult struct {
	rejected []int
	err      error
}

// Options configures the endpoint handshake and payload encoding.
type Options struct {
	AuthToken string
	RunID     string
	Compress  bool
}

// Transport is the TCP ports.IngestTransport. It dials lazily, performs an
// authenticating handshake, and matches acknowledgements to submissions by
// sequence number. Any connection-level failure fails every outstanding
// acknowledgement as transient; the next submission redials.
type Transport struct {
	addr string
	pol  ports.Policy
	opts Options

	// dialFn is replaceable in tests.
	dialFn func(ctx context.Context, addr string) (net.Conn, error)

	zenc *zstd.Encoder

	mu      sync.Mutex
	conn    net.Conn
	bw      *bufio.Writer
	seq     uint64
	pending map[uint64]chan ackResult
	closed  bool
}

func NewTransport(addr string, opts Options, pol ports.Policy) (*Transport, error) {
	t := &Transport{
		addr: addr,
		pol:  pol,
		opts: opts,
		dialFn: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: pol.ConnectTimeout}
			return d.DialContext(ctx, "tcp", addr)
		},
		pending: make(map[uint64]chan ackResult),
	}
	if opts.Compress {
		enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.SpeedDefault))
		if err != nil {
			return nil, fmt.Errorf("init compressor: %w", err)
		}
		t.zenc = enc
	}
	return t, nil
}

// OpenTimeline declares a timeline and waits for its acknowledgement.
func (t *Transport) OpenTimeline(ctx context.Context, tl *domain.Timeline) error {
	ch, err := t.send(ctx, frameTimeline, func(seq uint64) (any, error) {
		return timelineFrame{
			Seq:   seq,
			ID:    tl.ID.String(),
			Name:  tl.Name,
			Attrs: tl.Attrs,
		}, nil
	})
	if err != nil {
		return err
	}
	res, err := t.await(ctx, ch)
	if err != nil {
		return err
	}
	return res.err
}

// SubmitBatch writes one batch and returns immediately; the returned ack
// resolves when the endpoint acknowledges the batch's sequence number.
func (t *Transport) SubmitBatch(ctx context.Context, events []*domain.TimedEvent) (ports.BatchAck, error) {
	encoded, err := msgpack.Marshal(events)
	if err != nil {
		return nil, fmt.Errorf("encode batch: %w", err)
	}
	compressed := false
	if t.zenc != nil {
		encoded = t.zenc.EncodeAll(encoded, make([]byte, 0, len(encoded)/2))
		compressed = true
	}

	ch, err := t.send(ctx, frameBatch, func(seq uint64) (any, error) {
		return batchFrame{Seq: seq, Compressed: compressed, Events: encoded}, nil
	})
	if err != nil {
		return nil, err
	}
	return &batchAck{ch: ch}, nil
}

func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	if t.conn == nil {
		return nil
	}
	err := t.conn.Close()
	t.conn = nil
	return err
}

type batchAck struct {
	ch <-chan ackResult
}

func (a *batchAck) Wait(ctx context.Context) ([]int, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-a.ch:
		return res.rejected, res.err
	}
}

// send connects if needed, allocates a sequence number, registers its
// pending slot and writes the frame. Build runs under the lock so frames
// hit the wire in sequence order.
func (t *Transport) send(ctx context.Context, typ byte, build func(seq uint64) (any, error)) (<-chan ackResult, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil, errors.New("ingest transport closed")
	}
	if t.conn == nil {
		if err := t.connectLocked(ctx); err != nil {
			return nil, ports.Transientf("ingest connect: %v", err)
		}
	}

	t.seq++
	seq := t.seq
	msg, err := build(seq)
	if err != nil {
		return nil, err
	}
	payload, err := msgpack.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode frame: %w", err)
	}

	ch := make(chan ackResult, 1)
	t.pending[seq] = ch
	wErr := writeFrame(t.bw, typ, payload)
	if wErr == nil {
		wErr = t.bw.Flush()
	}
	if wErr != nil {
		delete(t.pending, seq)
		wrapped := ports.Transientf("ingest write: %v", wErr)
		t.dropLocked(wrapped)
		return nil, wrapped
	}
	return ch, nil
}

func (t *Transport) await(ctx context.Context, ch <-chan ackResult) (ackResult, error) {
	select {
	case <-ctx.Done():
		return ackResult{}, ctx.Err()
	case res := <-ch:
		return res, nil
	}
}

// connectLocked dials and handshakes synchronously, then hands the
// connection to the reader goroutine.
func (t *Transport) connectLocked(ctx context.Context) error {
	conn, err := t.dialFn(ctx, t.addr)
	if err != nil {
		return err
	}

	hello, err := msgpack.Marshal(helloFrame{AuthToken: t.opts.AuthToken, RunID: t.opts.RunID})
	if err != nil {
		conn.Close()
		return err
	}
	bw := bufio.NewWriter(conn)
	if t.pol.ReadTimeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(t.pol.ReadTimeout))
	}
	if err := writeFrame(bw, frameHello, hello); err == nil {
		err = bw.Flush()
	}
	if err != nil {
		conn.Close()
		return err
	}
	br := bufio.NewReader(conn)
	typ, _, err := readFrame(br)
	if err != nil {
		conn.Close()
		return err
	}
	if typ != frameHelloAck {
		conn.Close()
		return fmt.Errorf("handshake rejected (frame 0x%02x)", typ)
	}
	_ = conn.SetDeadline(time.Time{})

	t.conn = conn
	t.bw = bw
	go t.readLoop(conn, br)
	return nil
}

// readLoop dispatches acknowledgements to their pending slots until the
// connection dies, then fails everything still outstanding as transient.
func (t *Transport) readLoop(conn net.Conn, br *bufio.Reader) {
	for {
		typ, payload, err := readFrame(br)
		if err != nil {
			t.failPending(conn, ports.Transientf("ingest connection lost: %v", err))
			return
		}
		if typ != frameAck {
			t.failPending(conn, ports.Transientf("unexpected ingest frame 0x%02x", typ))
			return
		}
		var ack ackFrame
		if err := msgpack.Unmarshal(payload, &ack); err != nil {
			t.failPending(conn, ports.Transientf("corrupt acknowledgement: %v", err))
			return
		}

		t.mu.Lock()
		ch, ok := t.pending[ack.Seq]
		delete(t.pending, ack.Seq)
		t.mu.Unlock()
		if !ok {
			continue
		}
		res := ackResult{rejected: ack.Rejected}
		if ack.Error != "" {
			res.err = fmt.Errorf("ingest endpoint rejected frame: %s", ack.Error)
		}
		ch <- res
	}
}

// failPending resolves every outstanding acknowledgement with err and drops
// the connection, unless a newer connection has already replaced it.
func (t *Transport) failPending(conn net.Conn, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.conn != conn {
		return
	}
	t.dropLocked(err)
}

func (t *Transport) dropLocked(err error) {
	if t.conn != nil {
		_ = t.conn.Close()
		t.conn = nil
		t.bw = nil
	}
	for seq, ch := range t.pending {
		ch <- ackResult{err: err}
		delete(t.pending, seq)
	}
}

func writeFrame(w io.Writer, typ byte, payload []byte) error {
	if len(payload) > maxFramePayload {
		return fmt.Errorf("frame payload %d exceeds limit", len(payload))
	}
	var hdr [5]byte
	hdr[0] = typ
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := w.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := w.Write(payload)
	return err
}

func readFrame(r *bufio.Reader) (byte, []byte, error) {
	var hdr [5]byte
	if _, err := io.ReadFull(r, hdr[:]); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(hdr[1:])
	if size > maxFramePayload {
		return 0, nil, fmt.Errorf("frame payload %d exceeds limit", size)
	}
	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		return 0, nil, err
	}
	return hdr[0], payload, nil
}
