package realtime

import (
	"context"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// TokenSource supplies the bearer token used to authenticate the socket.
// The token lives in an external durable store; an empty string means no
// session is available.
type TokenSource interface {
	Token() string
}

// StaticToken is a TokenSource around a fixed string, useful for tests
// and one-shot tools.
type StaticToken string

func (s StaticToken) Token() string { return string(s) }

// State is the connection lifecycle state
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// LifecycleEvent is published on every connection state transition
type LifecycleEvent struct {
	State State
	Err   error // set for error transitions
}

// Config holds configuration for the bidding socket connection
type Config struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	ReadBufferSize   int
	WriteBufferSize  int
}

// DefaultConfig returns default connection configuration
func DefaultConfig() Config {
	return Config{
		HandshakeTimeout: 10 * time.Second,
		WriteTimeout:     10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
}

type pendingAck struct {
	gen uint64
	fn  func(AckPayload)
}

// Conn owns the single persistent transport connection to the bidding
// server. Construct one per process and pass it by reference; it is not a
// package-level singleton. At most one auction room membership rides on
// top of it (see Session).
type Conn struct {
	endpoint string
	tokens   TokenSource
	config   Config
	dialer   *websocket.Dialer

	mu      sync.Mutex
	ws      *websocket.Conn
	state   State
	gen     uint64 // bumped on every teardown; stale acks are matched against it
	pending map[string]pendingAck

	handlersMu sync.RWMutex
	handlers   map[FrameType][]func(Frame)
	lifecycle  []func(LifecycleEvent)
}

// NewConn creates a connection manager for the given ws:// or wss://
// endpoint. No network activity happens until Connect.
func NewConn(endpoint string, tokens TokenSource, config Config) *Conn {
	return &Conn{
		endpoint: endpoint,
		tokens:   tokens,
		config:   config,
		dialer: &websocket.Dialer{
			HandshakeTimeout: config.HandshakeTimeout,
			ReadBufferSize:   config.ReadBufferSize,
			WriteBufferSize:  config.WriteBufferSize,
		},
		pending:  make(map[string]pendingAck),
		handlers: make(map[FrameType][]func(Frame)),
	}
}

// Connect establishes the transport. The token is read from the external
// source; if absent, ErrAuthMissing is returned and no dial is attempted.
// Calling Connect while already connected is a no-op. On transport failure
// the state transitions to error and the error is surfaced; there is no
// automatic retry, the caller may call Connect again.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateConnected || c.state == StateConnecting {
		c.mu.Unlock()
		return nil
	}

	token := c.tokens.Token()
	if token == "" {
		c.mu.Unlock()
		log.Warn().Msg("token missing, cannot connect socket")
		return ErrAuthMissing
	}

	u, err := url.Parse(c.endpoint)
	if err != nil {
		c.mu.Unlock()
		return fmt.Errorf("parse endpoint: %w", err)
	}
	q := u.Query()
	q.Set("token", token)
	u.RawQuery = q.Encode()

	c.state = StateConnecting
	c.mu.Unlock()
	c.publish(LifecycleEvent{State: StateConnecting})

	ws, _, err := c.dialer.DialContext(ctx, u.String(), nil)

	c.mu.Lock()
	if err != nil {
		c.state = StateError
		c.mu.Unlock()
		log.Error().Err(err).Str("endpoint", c.endpoint).Msg("socket connect error")
		c.publish(LifecycleEvent{State: StateError, Err: err})
		return fmt.Errorf("dial %s: %w", c.endpoint, err)
	}

	c.ws = ws
	c.state = StateConnected
	gen := c.gen
	c.mu.Unlock()

	go c.readPump(gen, ws)

	log.Info().Str("endpoint", c.endpoint).Msg("socket connected")
	c.publish(LifecycleEvent{State: StateConnected})
	return nil
}

// Disconnect tears down the transport unconditionally. Idempotent. Any
// in-flight acknowledgments are invalidated; room membership riding on
// this connection is implicitly cleared because the generation advances.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.ws == nil && c.state == StateDisconnected {
		c.mu.Unlock()
		return
	}
	if c.ws != nil {
		c.ws.Close()
		c.ws = nil
	}
	c.gen++
	c.pending = make(map[string]pendingAck)
	c.state = StateDisconnected
	c.mu.Unlock()

	log.Info().Msg("socket disconnected")
	c.publish(LifecycleEvent{State: StateDisconnected})
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Connected reports whether the transport is live.
func (c *Conn) Connected() bool {
	return c.State() == StateConnected
}

// Generation returns the current connection generation. Membership and
// acknowledgments captured under an older generation are stale.
func (c *Conn) Generation() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.gen
}

// Subscribe registers a handler for incoming frames of the given type.
// Handlers run sequentially on the read loop in arrival order.
func (c *Conn) Subscribe(t FrameType, fn func(Frame)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.handlers[t] = append(c.handlers[t], fn)
}

// SubscribeLifecycle registers a handler for connection state transitions.
func (c *Conn) SubscribeLifecycle(fn func(LifecycleEvent)) {
	c.handlersMu.Lock()
	defer c.handlersMu.Unlock()
	c.lifecycle = append(c.lifecycle, fn)
}

// send writes a frame to the server. When ackFn is non-nil the frame gets
// an ack correlation ID; the server's ack is delivered on the read loop,
// or silently discarded if the connection generation has moved on.
func (c *Conn) send(f Frame, ackFn func(AckPayload)) error {
	c.mu.Lock()
	if c.state != StateConnected || c.ws == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}

	if ackFn != nil {
		f.ID = uuid.New().String()
		c.pending[f.ID] = pendingAck{gen: c.gen, fn: ackFn}
	}

	c.ws.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.ws.WriteJSON(f)
	if err != nil {
		if f.ID != "" {
			delete(c.pending, f.ID)
		}
		c.teardownLocked(err)
		c.mu.Unlock()
		log.Error().Err(err).Str("frame_type", string(f.Type)).Msg("socket write failed")
		c.publish(LifecycleEvent{State: StateError, Err: err})
		return fmt.Errorf("write %s frame: %w", f.Type, err)
	}
	c.mu.Unlock()
	return nil
}

// readPump reads frames until the transport fails or is torn down. It is
// the only goroutine dispatching inbound frames, so handlers observe them
// in exactly the order the server sent them.
func (c *Conn) readPump(gen uint64, ws *websocket.Conn) {
	for {
		var f Frame
		if err := ws.ReadJSON(&f); err != nil {
			c.mu.Lock()
			if gen != c.gen {
				// Superseded by an explicit Disconnect or reconnect.
				c.mu.Unlock()
				return
			}
			ws.Close()
			c.teardownLocked(err)
			c.mu.Unlock()

			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Error().Err(err).Msg("socket read failed")
				c.publish(LifecycleEvent{State: StateError, Err: err})
			} else {
				log.Info().Msg("socket closed")
				c.publish(LifecycleEvent{State: StateDisconnected})
			}
			return
		}

		if f.Type == FrameAck {
			c.resolveAck(gen, f)
			continue
		}
		c.dispatch(f)
	}
}

// teardownLocked resets connection state after a transport failure or an
// explicit close. Caller holds c.mu.
func (c *Conn) teardownLocked(err error) {
	c.ws = nil
	c.gen++
	c.pending = make(map[string]pendingAck)
	if err != nil {
		c.state = StateError
	} else {
		c.state = StateDisconnected
	}
}

// resolveAck delivers a server acknowledgment to its waiting callback,
// unless the connection generation has advanced since the request was
// sent, in which case the ack is stale and discarded.
func (c *Conn) resolveAck(gen uint64, f Frame) {
	c.mu.Lock()
	p, ok := c.pending[f.ID]
	if ok {
		delete(c.pending, f.ID)
	}
	stale := !ok || p.gen != c.gen || gen != c.gen
	c.mu.Unlock()

	if stale {
		log.Debug().Str("ack_id", f.ID).Msg("discarding stale acknowledgment")
		return
	}

	payload, err := ParsePayload(&f)
	if err != nil {
		log.Error().Err(err).Str("ack_id", f.ID).Msg("failed to parse acknowledgment")
		p.fn(AckPayload{Success: false, Reason: "malformed acknowledgment"})
		return
	}
	p.fn(payload.(AckPayload))
}

func (c *Conn) dispatch(f Frame) {
	c.handlersMu.RLock()
	handlers := c.handlers[f.Type]
	c.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(f)
	}
}

func (c *Conn) publish(ev LifecycleEvent) {
	c.handlersMu.RLock()
	subs := c.lifecycle
	c.handlersMu.RUnlock()

	for _, fn := range subs {
		fn(ev)
	}
}
