package relay

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ghalamif/TraceFlow/internal/domain"
	"github.com/ghalamif/TraceFlow/internal/ports"
)

// State is the client's lifecycle phase, exposed for stats and tests.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnected    State = "connected"
	StateStreaming    State = "streaming"
	StateReconnecting State = "reconnecting"
	StateDraining     State = "draining"
)

// SessionNotFoundAction decides what Discover does when the named tracing
// session is not (yet) advertised by the relay daemon.
type SessionNotFoundAction string

const (
	// SessionNotFoundFail aborts discovery immediately.
	SessionNotFoundFail SessionNotFoundAction = "fail"
	// SessionNotFoundRetry polls until the session appears or the context
	// is cancelled, for attaching before the tracer starts.
	SessionNotFoundRetry SessionNotFoundAction = "retry"
	// SessionNotFoundEnd finishes the run cleanly with no streams, for
	// collections scheduled around tracers that may have already exited.
	SessionNotFoundEnd SessionNotFoundAction = "end"
)

// Options configures one live collection client.
type Options struct {
	Session         string
	SessionNotFound SessionNotFoundAction
	// PollInterval paces session discovery retries.
	PollInterval time.Duration
	// BufferCapacity bounds each stream's record buffer.
	BufferCapacity int
}

// Client drives one live collection: it attaches to a tracing session,
// polls packets round-robin across the session's streams into per-stream
// buffers, and survives relay connection loss by reconnecting with bounded
// backoff. Streams whose producer closed end cleanly; streams cut off by
// exhausted reconnection end with an error so they are never silently
// truncated.
type Client struct {
	relay ports.Relay
	opts  Options
	pol   ports.Policy
	obs   ports.Observability

	trace   domain.TraceInfo
	order   []domain.StreamID
	sources map[domain.StreamID]*liveSource
	parked  map[domain.StreamID]*ports.RelayPacket

	mu    sync.Mutex
	state State
}

func NewClient(relay ports.Relay, opts Options, pol ports.Policy, obs ports.Observability) *Client {
	if opts.SessionNotFound == "" {
		opts.SessionNotFound = SessionNotFoundFail
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = time.Second
	}
	return &Client{
		relay:   relay,
		opts:    opts,
		pol:     pol,
		obs:     obs,
		sources: make(map[domain.StreamID]*liveSource),
		parked:  make(map[domain.StreamID]*ports.RelayPacket),
		state:   StateDisconnected,
	}
}

// State returns the current lifecycle phase.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// BufferedRecords reports the records currently held across every stream
// buffer, for the runtime's resource gauges.
func (c *Client) BufferedRecords() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	total := 0
	for _, src := range c.sources {
		total += src.buf.len()
	}
	return total
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// Discover connects, attaches to the configured session and returns the
// trace metadata plus one pipeline source per live stream. Call Run
// afterwards to start feeding the sources.
func (c *Client) Discover(ctx context.Context) (domain.TraceInfo, []ports.Source, error) {
	if err := c.relay.Connect(ctx); err != nil {
		return domain.TraceInfo{}, nil, fmt.Errorf("relay connect: %w", err)
	}
	c.setState(StateConnected)

	var (
		trace   domain.TraceInfo
		handles []ports.StreamHandle
	)
	for {
		var err error
		trace, handles, err = c.relay.Attach(ctx, c.opts.Session)
		if err == nil {
			break
		}
		if errors.Is(err, ports.ErrSessionNotFound) && c.opts.SessionNotFound == SessionNotFoundEnd {
			c.obs.LogInfo("session_not_found_ending_run", ports.Field{Key: "session", Value: c.opts.Session})
			c.setState(StateDisconnected)
			_ = c.relay.Close()
			return domain.TraceInfo{}, nil, nil
		}
		if !errors.Is(err, ports.ErrSessionNotFound) || c.opts.SessionNotFound != SessionNotFoundRetry {
			if errors.Is(err, ports.ErrSessionNotFound) {
				if sessions, lerr := c.relay.ListSessions(ctx); lerr == nil && len(sessions) > 0 {
					names := make([]string, 0, len(sessions))
					for _, s := range sessions {
						names = append(names, s.Name)
					}
					err = fmt.Errorf("session %q not found, relay advertises %s: %w",
						c.opts.Session, strings.Join(names, ", "), err)
				}
			}
			return domain.TraceInfo{}, nil, err
		}
		c.obs.LogInfo("session_not_up_yet", ports.Field{Key: "session", Value: c.opts.Session})
		select {
		case <-ctx.Done():
			return domain.TraceInfo{}, nil, ctx.Err()
		case <-time.After(c.opts.PollInterval):
		}
	}

	c.trace = trace
	out := make([]ports.Source, 0, len(handles))
	c.mu.Lock()
	for _, h := range handles {
		src := newLiveSource(domain.StreamIdentity{
			TraceUUID: trace.UUID,
			Stream:    h.ID,
			Name:      h.Name,
			CPU:       h.CPU,
		}, h.Clock, c.opts.BufferCapacity)
		c.sources[h.ID] = src
		c.order = append(c.order, h.ID)
		out = append(out, src)
	}
	c.mu.Unlock()
	c.obs.LogInfo("session_attached",
		ports.Field{Key: "session", Value: c.opts.Session},
		ports.Field{Key: "streams", Value: len(handles)})
	return trace, out, nil
}

// Run polls the relay until every stream has been closed by its producer or
// the context is cancelled. Cancellation closes the remaining buffers
// cleanly so buffered records can still be drained downstream.
func (c *Client) Run(ctx context.Context) error {
	c.setState(StateStreaming)
	for {
		if ctx.Err() != nil {
			c.drain()
			return ctx.Err()
		}

		open := 0
		progress := false
		for _, id := range c.order {
			src := c.sources[id]
			if src.buf.isClosed() {
				continue
			}
			open++

			// A packet the buffer refused stays parked until the consumer
			// frees space; never request a new one past it.
			if pkt := c.parked[id]; pkt != nil {
				if src.buf.push(pkt.Records) {
					delete(c.parked, id)
					progress = true
				}
				continue
			}

			pkt, err := c.relay.NextPacket(ctx, id)
			switch {
			case err == nil:
				if !src.buf.push(pkt.Records) {
					c.parked[id] = pkt
				}
				progress = true
			case errors.Is(err, ports.ErrRelayNoData):
				// Producer quiet; re-polled next round.
			case errors.Is(err, ports.ErrRelayStreamClosed):
				src.buf.close(nil)
				progress = true
			case ctx.Err() != nil:
				// Handled at the top of the loop.
			default:
				if rerr := c.reconnect(ctx, err); rerr != nil {
					c.abortAll(rerr)
					return rerr
				}
				progress = true
			}
		}

		if open == 0 {
			c.setState(StateDisconnected)
			return nil
		}
		if !progress {
			select {
			case <-ctx.Done():
			case <-time.After(c.idleSleep()):
			}
		}
	}
}

// reconnect re-establishes the relay connection and re-attaches to the
// session, with bounded backoff. Streams that vanished from the re-attached
// session are closed cleanly; their producer ended while we were away.
func (c *Client) reconnect(ctx context.Context, cause error) error {
	c.setState(StateReconnecting)
	c.obs.LogError("relay_connection_lost", cause)
	_ = c.relay.Close()

	wait := c.pol.RetryInitialBackoff
	if wait <= 0 {
		wait = 100 * time.Millisecond
	}
	ceiling := c.pol.ReconnectCeiling
	if ceiling <= 0 {
		ceiling = 5
	}

	for attempt := 1; attempt <= ceiling; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
		if c.pol.RetryMaxBackoff > 0 && wait > c.pol.RetryMaxBackoff {
			wait = c.pol.RetryMaxBackoff
		}

		if err := c.relay.Connect(ctx); err != nil {
			c.obs.LogError("relay_reconnect_failed", err, ports.Field{Key: "attempt", Value: attempt})
			continue
		}
		_, handles, err := c.relay.Attach(ctx, c.opts.Session)
		if err != nil {
			c.obs.LogError("relay_reattach_failed", err, ports.Field{Key: "attempt", Value: attempt})
			_ = c.relay.Close()
			continue
		}

		seen := make(map[domain.StreamID]bool, len(handles))
		for _, h := range handles {
			seen[h.ID] = true
			if src, ok := c.sources[h.ID]; ok {
				src.setClock(h.Clock)
			}
		}
		for id, src := range c.sources {
			if !seen[id] && !src.buf.isClosed() {
				src.buf.close(nil)
			}
		}

		c.obs.IncCounter("traceflow_relay_reconnects_total", 1)
		c.obs.LogInfo("relay_reconnected", ports.Field{Key: "attempt", Value: attempt})
		c.setState(StateStreaming)
		return nil
	}
	return fmt.Errorf("relay reconnection exhausted after %d attempts: %w", ceiling, cause)
}

// abortAll ends every still-open stream with the given cause so downstream
// reporting shows them as cut off, not completed.
func (c *Client) abortAll(cause error) {
	c.setState(StateDisconnected)
	for _, src := range c.sources {
		if !src.buf.isClosed() {
			src.buf.close(cause)
		}
	}
	_ = c.relay.Close()
}

// drain closes every still-open stream cleanly; records already buffered
// remain consumable.
func (c *Client) drain() {
	c.setState(StateDraining)
	for _, src := range c.sources {
		if !src.buf.isClosed() {
			src.buf.close(nil)
		}
	}
	_ = c.relay.Close()
	c.setState(StateDisconnected)
}

func (c *Client) idleSleep() time.Duration {
	if c.pol.IdleSleep > 0 {
		return c.pol.IdleSleep
	}
	return 5 * time.Millisecond
}
