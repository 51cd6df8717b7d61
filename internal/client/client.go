// Package client connects a peer to a Javelin relay and exchanges envelopes
// with it.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/javelin/internal/envelope"
)

var (
	// ErrRejected is returned when the relay refuses the handshake. The relay
	// never says why; its logs do.
	ErrRejected = errors.New("client: handshake rejected by relay")
	// ErrClosed is returned by Send after the connection has ended.
	ErrClosed = errors.New("client: connection closed")
)

const (
	defaultHandshakeWait = 250 * time.Millisecond
	defaultBuffer        = 64
	writeWait            = 10 * time.Second
)

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the client's logger.
func WithLogger(log *slog.Logger) Option {
	return func(c *Client) {
		if log != nil {
			c.log = log
		}
	}
}

// WithBuffer sets how many received envelopes are buffered before the
// client stops reading from the socket.
func WithBuffer(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.buffer = n
		}
	}
}

// WithHandshakeWait sets how long Dial waits for a rejection after the
// upgrade succeeded. The relay refuses peers by closing the upgraded
// socket, so a zero wait returns before a rejection can be seen.
func WithHandshakeWait(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.handshakeWait = d
		}
	}
}

// WithDialer replaces the WebSocket dialer.
func WithDialer(d *websocket.Dialer) Option {
	return func(c *Client) {
		if d != nil {
			c.dialer = d
		}
	}
}

// Client is one authenticated connection to a relay. Send is safe for
// concurrent use.
type Client struct {
	conn          *websocket.Conn
	dialer        *websocket.Dialer
	log           *slog.Logger
	buffer        int
	handshakeWait time.Duration

	messages  chan envelope.Envelope
	closing   chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	mu  sync.Mutex
	err error
}

// Dial connects to url presenting token as a bearer credential. It returns
// ErrRejected when the relay closes the socket with a policy violation
// within the handshake wait.
func Dial(ctx context.Context, url, token string, opts ...Option) (*Client, error) {
	c := &Client{
		dialer:        websocket.DefaultDialer,
		log:           slog.Default(),
		buffer:        defaultBuffer,
		handshakeWait: defaultHandshakeWait,
		closing:       make(chan struct{}),
		done:          make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.messages = make(chan envelope.Envelope, c.buffer)
	c.log = c.log.With("component", "client", "url", url)

	header := http.Header{}
	header.Set("Authorization", "Bearer "+token)

	conn, resp, err := c.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial relay: %w", err)
	}
	c.conn = conn

	go c.readPump()

	if c.handshakeWait > 0 {
		timer := time.NewTimer(c.handshakeWait)
		defer timer.Stop()
		select {
		case <-c.done:
			if err := c.Err(); err != nil {
				_ = conn.Close()
				return nil, err
			}
			return nil, ErrClosed
		case <-ctx.Done():
			_ = c.Close()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}

	c.log.Debug("connected to relay")
	return c, nil
}

// Messages delivers envelopes received from the relay. It is closed when the
// connection ends.
func (c *Client) Messages() <-chan envelope.Envelope {
	return c.messages
}

// Done is closed when the connection has ended.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err reports why the connection ended. It is nil while the connection is
// open and after a Close initiated by this side.
func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Send writes env as one text frame.
func (c *Client) Send(env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}

	select {
	case <-c.done:
		return ErrClosed
	case <-c.closing:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	if err := c.conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return fmt.Errorf("set write deadline: %w", err)
	}
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("send envelope: %w", err)
	}
	return nil
}

// Close performs the closing handshake and releases the connection.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.closing)

		c.writeMu.Lock()
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = c.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		c.writeMu.Unlock()

		select {
		case <-c.done:
		case <-time.After(time.Second):
		}
		_ = c.conn.Close()
	})
	<-c.done
	return nil
}

func (c *Client) readPump() {
	defer func() {
		close(c.messages)
		close(c.done)
	}()

	for {
		messageType, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if messageType != websocket.TextMessage {
			c.log.Warn("ignoring non-text frame from relay", "type", messageType)
			continue
		}

		env, err := envelope.Decode(data)
		if err != nil {
			c.log.Warn("dropping malformed envelope from relay", "error", err)
			continue
		}

		select {
		case c.messages <- env:
		case <-c.closing:
			c.finish(nil)
			return
		}
	}
}

func (c *Client) finish(err error) {
	select {
	case <-c.closing:
		err = nil
	default:
	}

	switch {
	case err == nil:
	case websocket.IsCloseError(err, websocket.ClosePolicyViolation):
		err = ErrRejected
	default:
		err = fmt.Errorf("relay connection lost: %w", err)
	}

	c.mu.Lock()
	c.err = err
	c.mu.Unlock()

	if err != nil {
		c.log.Debug("relay connection ended", "error", err)
	}
}
