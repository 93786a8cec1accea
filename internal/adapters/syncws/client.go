// Package syncws maintains one logical duplex connection to a fan-out
// server: transparent reconnection with a fixed backoff delay, an unbounded
// outbound buffer flushed FIFO on reconnect, and serialized inbound
// dispatch.
package syncws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http/cookiejar"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/resona-audio/resona/internal/protocol"
)

var (
	// ErrClosed is returned by Send after a terminal Shutdown.
	ErrClosed = errors.New("sync client closed")
	// ErrRetriesExhausted ends Run when the configured attempt limit is hit.
	ErrRetriesExhausted = errors.New("reconnect attempts exhausted")
)

const writeWait = 5 * time.Second

// State is the externally observable connection state, what a UI renders as
// connected / reconnecting.
type State int

const (
	StateDisconnected State = iota
	StateConnecting
	StateOpen
	StateBackoff
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	default:
		return "disconnected"
	}
}

// Handler receives every inbound message in receive order. Invocation is
// serialized per connection; handlers must not assume concurrency.
type Handler func(ctx context.Context, msg protocol.InboundEnvelope)

type Options struct {
	// ReconnectDelay is the fixed wait between attempts. No exponential
	// growth; the retry cadence is a constant debounce window.
	ReconnectDelay time.Duration
	// MaxRetries bounds consecutive failed dials; zero means retry forever.
	MaxRetries int
	// HeartbeatInterval paces the fire-and-forget keepalive PING.
	HeartbeatInterval time.Duration
	// OnOpen fires after every successful dial, once the connection is
	// attached. Callers re-issue their registration handshake here; Send is
	// safe to call from the callback.
	OnOpen func()
}

// Client is the sync transport. Create with NewClient, drive with Run, feed
// with Send. All transport errors become state transitions; nothing escapes
// to callers except retry exhaustion and terminal shutdown.
type Client struct {
	url     string
	dialer  *websocket.Dialer
	handler Handler
	opts    Options

	mu     sync.Mutex
	cond   *sync.Cond
	state  State
	conn   *websocket.Conn
	gen    int
	buffer [][]byte
	closed bool
}

func NewClient(url string, handler Handler, opts Options) *Client {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = 5 * time.Second
	}
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = 30 * time.Minute
	}
	// The jar replays server-minted cookies on every redial, so a token
	// handed out on the first connection keeps identifying this client
	// across reconnects.
	jar, _ := cookiejar.New(nil)
	dialer := *websocket.DefaultDialer
	dialer.Jar = jar
	c := &Client{
		url:     url,
		dialer:  &dialer,
		handler: handler,
		opts:    opts,
	}
	c.cond = sync.NewCond(&c.mu)
	return c
}

// State reports the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Send enqueues one typed message. When the connection is open the write
// pump picks it up immediately; otherwise it waits in the buffer for the
// next Open transition. Messages are never dropped silently while the
// process is alive.
func (c *Client) Send(msgType string, payload any) error {
	data, err := json.Marshal(protocol.Envelope{Type: msgType, Payload: payload})
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.buffer = append(c.buffer, data)
	c.cond.Signal()
	return nil
}

// Buffered reports how many outbound messages await transmission.
func (c *Client) Buffered() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.buffer)
}

// Shutdown is the terminal transition: it stops Run, closes the socket, and
// discards the outbound buffer. Cancelling Run's context instead pauses the
// client and keeps the buffer intact for a later reconnect.
func (c *Client) Shutdown() {
	c.mu.Lock()
	c.closed = true
	c.buffer = nil
	conn := c.conn
	c.cond.Broadcast()
	c.mu.Unlock()
	if conn != nil {
		_ = conn.Close()
	}
}

// Run drives the state machine until the context is cancelled, Shutdown is
// called, or the retry budget runs out. Dial failures and mid-stream closes
// are logged and retried after the fixed delay, never surfaced as errors.
func (c *Client) Run(ctx context.Context) error {
	attempts := 0
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateDisconnected)
			return nil
		}
		if c.isClosed() {
			return nil
		}

		c.setState(StateConnecting)
		conn, resp, err := c.dialer.DialContext(ctx, c.url, nil)
		if resp != nil && resp.Body != nil {
			_ = resp.Body.Close()
		}
		if err != nil {
			attempts++
			log.Warn().Err(err).Str("module", "syncws").Int("attempt", attempts).Msg("dial failed")
			if c.opts.MaxRetries > 0 && attempts >= c.opts.MaxRetries {
				c.setState(StateDisconnected)
				return ErrRetriesExhausted
			}
			if !c.backoff(ctx) {
				return nil
			}
			continue
		}
		attempts = 0

		gen := c.attach(conn)
		log.Info().Str("module", "syncws").Str("url", c.url).Msg("connection open")
		if c.opts.OnOpen != nil {
			c.opts.OnOpen()
		}

		writerDone := make(chan struct{})
		go func() {
			defer close(writerDone)
			c.writePump(conn, gen)
		}()
		heartbeatStop := make(chan struct{})
		go c.heartbeatLoop(heartbeatStop)

		c.readPump(ctx, conn)

		close(heartbeatStop)
		c.detach(gen)
		_ = conn.Close()
		<-writerDone

		if ctx.Err() != nil || c.isClosed() {
			c.setState(StateDisconnected)
			return nil
		}
		log.Info().Str("module", "syncws").Dur("delay", c.opts.ReconnectDelay).Msg("connection lost, backing off")
		if !c.backoff(ctx) {
			return nil
		}
	}
}

func (c *Client) backoff(ctx context.Context) bool {
	c.setState(StateBackoff)
	select {
	case <-ctx.Done():
		c.setState(StateDisconnected)
		return false
	case <-time.After(c.opts.ReconnectDelay):
		return true
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) attach(conn *websocket.Conn) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.gen++
	c.conn = conn
	c.state = StateOpen
	c.cond.Broadcast()
	return c.gen
}

func (c *Client) detach(gen int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gen == gen {
		c.conn = nil
	}
	c.cond.Broadcast()
}

// writePump is the single socket writer for one connection generation. It
// pops the oldest buffered frame, releases the lock, then writes, so the
// buffer stays FIFO and no lock is held across socket I/O. A failed write
// puts the frame back at the head for the next generation.
func (c *Client) writePump(conn *websocket.Conn, gen int) {
	for {
		c.mu.Lock()
		for c.gen == gen && c.conn != nil && !c.closed && len(c.buffer) == 0 {
			c.cond.Wait()
		}
		if c.gen != gen || c.conn == nil || c.closed {
			c.mu.Unlock()
			return
		}
		frame := c.buffer[0]
		c.buffer = c.buffer[1:]
		c.mu.Unlock()

		_ = conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			log.Warn().Err(err).Str("module", "syncws").Msg("write failed, frame retained")
			c.mu.Lock()
			c.buffer = append([][]byte{frame}, c.buffer...)
			c.mu.Unlock()
			_ = conn.Close()
			return
		}
	}
}

// readPump delivers inbound messages to the handler in wire order until the
// connection dies.
func (c *Client) readPump(ctx context.Context, conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Warn().Err(err).Str("module", "syncws").Msg("read error")
			}
			return
		}
		var msg protocol.InboundEnvelope
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Error().Err(err).Str("module", "syncws").Msg("malformed inbound message dropped")
			continue
		}
		if c.handler != nil {
			c.handler(ctx, msg)
		}
	}
}

// heartbeatLoop enqueues a keepalive PING on a long fixed interval while the
// connection is open. Fire and forget: there is no pong tracking, liveness
// comes from connection close events alone.
func (c *Client) heartbeatLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if c.State() != StateOpen {
				continue
			}
			if err := c.Send(protocol.TypePing, nil); err != nil {
				return
			}
		}
	}
}
