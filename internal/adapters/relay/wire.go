package relay

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

	"github.com/vmihailenco/msgpack/v5"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// Wire protocol: each frame is a 1-byte type, a big-endian uint32 payload
// length, and a msgpack payload. Requests and responses alternate on one
// connection.
const (
	frameListSessions byte = 0x01
	frameSessions     byte = 0x02
	frameAttach       byte = 0x03
	frameAttached     byte = 0x04
	frameNextPacket   byte = 0x05
	framePacket       byte = 0x06
	frameNoData       byte = 0x07
	frameStreamClosed byte = 0x08
	frameError        byte = 0x09
)

// maxFramePayload caps a single frame so a corrupt length prefix cannot
// trigger an unbounded allocation.
const maxFramePayload = 16 << 20

type attachRequest struct {
	Session string `msgpack:"session"`
}

type attachedReply struct {
	Trace   domain.TraceInfo     `msgpack:"trace"`
	Streams []ports.StreamHandle `msgpack:"streams"`
}

type nextPacketRequest struct {
	Stream domain.StreamID `msgpack:"stream"`
}

type errorReply struct {
	Code    string `msgpack:"code"`
	Message string `msgpack:"message"`
}

const errCodeSessionNotFound = "session_not_found"

// WireRelay is the TCP implementation of the relay boundary.
type WireRelay struct {
	addr string
	pol  ports.Policy

	// dialFn is replaceable in tests.
	dialFn func(ctx context.Context, addr string) (net.Conn, error)

	mu   sync.Mutex
	conn net.Conn
	br   *bufio.Reader
}

func NewWireRelay(addr string, pol ports.Policy) *WireRelay {
	return &WireRelay{
		addr: addr,
		pol:  pol,
		dialFn: func(ctx context.Context, addr string) (net.Conn, error) {
			d := net.Dialer{Timeout: pol.ConnectTimeout}
			return d.DialContext(ctx, "tcp", addr)
		},
	}
}

func (w *WireRelay) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn != nil {
		return nil
	}
	conn, err := w.dialFn(ctx, w.addr)
	if err != nil {
		return err
	}
	w.conn = conn
	w.br = bufio.NewReader(conn)
	return nil
}

func (w *WireRelay) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return nil
	}
	err := w.conn.Close()
	w.conn = nil
	w.br = nil
	return err
}

func (w *WireRelay) ListSessions(ctx context.Context) ([]ports.SessionInfo, error) {
	typ, payload, err := w.roundTrip(ctx, frameListSessions, nil)
	if err != nil {
		return nil, err
	}
	if typ != frameSessions {
		return nil, w.unexpected(typ, payload)
	}
	var sessions []ports.SessionInfo
	if err := msgpack.Unmarshal(payload, &sessions); err != nil {
		return nil, fmt.Errorf("decode session list: %w", err)
	}
	return sessions, nil
}

func (w *WireRelay) Attach(ctx context.Context, session string) (domain.TraceInfo, []ports.StreamHandle, error) {
	typ, payload, err := w.roundTrip(ctx, frameAttach, attachRequest{Session: session})
	if err != nil {
		return domain.TraceInfo{}, nil, err
	}
	if typ != frameAttached {
		return domain.TraceInfo{}, nil, w.unexpected(typ, payload)
	}
	var reply attachedReply
	if err := msgpack.Unmarshal(payload, &reply); err != nil {
		return domain.TraceInfo{}, nil, fmt.Errorf("decode attach reply: %w", err)
	}
	return reply.Trace, reply.Streams, nil
}

func (w *WireRelay) NextPacket(ctx context.Context, stream domain.StreamID) (*ports.RelayPacket, error) {
	typ, payload, err := w.roundTrip(ctx, frameNextPacket, nextPacketRequest{Stream: stream})
	if err != nil {
		return nil, err
	}
	switch typ {
	case framePacket:
		var pkt ports.RelayPacket
		if err := msgpack.Unmarshal(payload, &pkt); err != nil {
			return nil, fmt.Errorf("decode packet: %w", err)
		}
		return &pkt, nil
	case frameNoData:
		return nil, ports.ErrRelayNoData
	case frameStreamClosed:
		return nil, ports.ErrRelayStreamClosed
	default:
		return nil, w.unexpected(typ, payload)
	}
}

// roundTrip sends one request frame and reads the matching response. Any
// transport failure drops the connection so the next call starts clean.
func (w *WireRelay) roundTrip(ctx context.Context, typ byte, req any) (byte, []byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.conn == nil {
		return 0, nil, errors.New("relay not connected")
	}

	var payload []byte
	if req != nil {
		var err error
		payload, err = msgpack.Marshal(req)
		if err != nil {
			return 0, nil, fmt.Errorf("encode request: %w", err)
		}
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = w.conn.SetDeadline(deadline)
	} else if w.pol.ReadTimeout > 0 {
		_ = w.conn.SetDeadline(time.Now().Add(w.pol.ReadTimeout))
	}

	if err := writeFrame(w.conn, typ, payload); err != nil {
		w.dropLocked()
		return 0, nil, err
	}
	respType, respPayload, err := readFrame(w.br)
	if err != nil {
		w.dropLocked()
		return 0, nil, err
	}
	return respType, respPayload, nil
}

func (w *WireRelay) dropLocked() {
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
		w.br = nil
	}
}

func (w *WireRelay) unexpected(typ byte, payload []byte) error {
	if typ == frameError {
		var reply errorReply
		if err := msgpack.Unmarshal(payload, &reply); err == nil {
			if reply.Code == errCodeSessionNotFound {
				return fmt.Errorf("%w: %s", ports.ErrSessionNotFound, reply.Message)
			}
			return fmt.Errorf("relay error %s: %s", reply.Code, reply.Message)
		}
	}
	return fmt.Errorf("unexpected relay frame type 0x%02x", typ)
}

func writeFrame(conn io.Writer, typ byte, payload []byte) error {
	if len(payload) > maxFramePayload {
		return fmt.Errorf("frame payload %d exceeds limit", len(payload))
	}
	var hdr [5]byte
	hdr[0] = typ
	binary.BigEndian.PutUint32(hdr[1:], uint32(len(payload)))
	if _, err := conn.Write(hdr[:]); err != nil {
		return err
	}
	if len(payload) == 0 {
		return nil
	}
	_, err := conn.Write(payload)
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
