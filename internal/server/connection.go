// Package server manages individual peer connections, handling read/write
// pumps, rate limiting, and lifecycle control for each connection.
package server

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Tyrowin/javelin/internal/directory"
)

// ConnState is the handshake state of a connection. States never regress.
type ConnState int32

const (
	StateAwaitingHandshake ConnState = iota
	StateAuthenticated
	StateClosed
)

func (s ConnState) String() string {
	switch s {
	case StateAwaitingHandshake:
		return "awaiting_handshake"
	case StateAuthenticated:
		return "authenticated"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var (
	errConnectionClosed = errors.New("connection closed")
	errSendBufferFull   = errors.New("send buffer full")
)

// Connection pairs one socket with the peer it authenticated as. The local
// peer is a Connection without socket whose deliveries go to handlers.
type Connection struct {
	id         string
	peer       *directory.Peer
	remoteAddr string
	ws         *websocket.Conn
	local      bool
	hub        *Hub
	send       chan []byte
	done       chan struct{}
	closeOnce  sync.Once
	closeCode  int
	closeText  string
	state      atomic.Int32
	limiter    *rateLimiter
	log        *slog.Logger
}

func newConnection(hub *Hub, peer *directory.Peer, remoteAddr string) *Connection {
	id := uuid.NewString()
	return &Connection{
		id:         id,
		peer:       peer,
		remoteAddr: remoteAddr,
		hub:        hub,
		send:       make(chan []byte, hub.cfg.SendBuffer),
		done:       make(chan struct{}),
		limiter:    newRateLimiter(hub.cfg.RateLimit.Burst, hub.cfg.RateLimit.RefillInterval),
		log:        hub.log.With("conn", id, "identity", peer.Name, "remote", remoteAddr),
	}
}

// ID returns the connection's unique id.
func (c *Connection) ID() string { return c.id }

// Identity returns the authenticated peer name.
func (c *Connection) Identity() string { return c.peer.Name }

// Peer returns the directory record resolved at handshake time.
func (c *Connection) Peer() *directory.Peer { return c.peer }

// RemoteAddr returns the remote socket address, or "local" for the hub's own peer.
func (c *Connection) RemoteAddr() string { return c.remoteAddr }

// State returns the current handshake state.
func (c *Connection) State() ConnState { return ConnState(c.state.Load()) }

// Subscribes reports whether the peer receives messages for endpoint.
func (c *Connection) Subscribes(endpoint string) bool { return c.peer.Subscribes(endpoint) }

// Done is closed once the connection has been released.
func (c *Connection) Done() <-chan struct{} { return c.done }

func (c *Connection) isLocal() bool { return c.local }

// enqueue hands msg to the write pump without blocking.
func (c *Connection) enqueue(msg []byte) error {
	select {
	case <-c.done:
		return errConnectionClosed
	default:
	}

	select {
	case c.send <- msg:
		return nil
	default:
		return errSendBufferFull
	}
}

// close removes the connection from the registry and signals the pumps.
// The registry entry is gone before the socket is closed, so a reconnect
// under the same identity can succeed as soon as the peer sees the close.
func (c *Connection) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.hub.registry.Remove(c)
		c.closeCode = code
		c.closeText = text
		c.state.Store(int32(StateClosed))
		close(c.done)
		c.log.Info("peer disconnected", "code", code, "reason", text)
	})
}

// forceClose drops the underlying socket without a closing handshake.
func (c *Connection) forceClose() {
	if c.ws == nil {
		return
	}
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error force-closing connection", "error", err)
	}
}

// setupReadConnection configures read deadlines and pong handler for the WebSocket connection
func (c *Connection) setupReadConnection() {
	c.ws.SetReadLimit(c.hub.cfg.MaxMessageSize)
	pongWait := c.hub.cfg.PongWait
	if err := c.ws.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Warn("error setting initial read deadline", "error", err)
	}
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// handleReadError logs the end of a read loop according to its cause.
func (c *Connection) handleReadError(err error) {
	if c.State() == StateClosed {
		c.log.Debug("read loop ended after local close", "error", err)
		return
	}

	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("message exceeded maximum size", "limit", c.hub.cfg.MaxMessageSize)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Debug("peer closed connection", "error", err)
	case errors.Is(err, io.EOF) || isExpectedCloseError(err):
		c.log.Debug("connection closed", "error", err)
	case websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway):
		c.log.Warn("unexpected close from peer", "error", err)
	default:
		c.log.Warn("transport error", "error", err)
	}
}

// checkRateLimit reports whether the next frame may be routed.
func (c *Connection) checkRateLimit() bool {
	if c.limiter != nil && !c.limiter.allow() {
		c.log.Warn("rate limit exceeded, discarding message",
			"burst", c.hub.cfg.RateLimit.Burst, "interval", c.hub.cfg.RateLimit.RefillInterval)
		return false
	}
	return true
}

func (c *Connection) readPump() {
	defer c.close(websocket.CloseNormalClosure, "")

	c.setupReadConnection()

	for {
		messageType, data, err := c.ws.ReadMessage()
		if err != nil {
			c.handleReadError(err)
			return
		}

		if messageType != websocket.TextMessage {
			c.log.Warn("refusing non-text frame", "type", messageType)
			c.close(closeRefuse, "binary frames are not accepted")
			return
		}

		if !c.checkRateLimit() {
			continue
		}

		c.hub.route(c, data)
	}
}

func (c *Connection) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.closeSocket()
	}()

	for c.processWriteEvent(ticker) {
	}
}

// processWriteEvent waits for the next write event and returns false when the
// pump should stop processing.
func (c *Connection) processWriteEvent(ticker *time.Ticker) bool {
	select {
	case message := <-c.send:
		return c.writeTextMessage(message)
	case <-ticker.C:
		return c.handlePing()
	case <-c.done:
		c.writeCloseMessage()
		return false
	}
}

// closeSocket safely closes the WebSocket connection with proper error handling
func (c *Connection) closeSocket() {
	if err := c.ws.Close(); err != nil && !isExpectedCloseError(err) {
		c.log.Warn("error closing connection", "error", err)
	}
}

// writeCloseMessage sends the close frame chosen by close.
func (c *Connection) writeCloseMessage() {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		return
	}
	msg := websocket.FormatCloseMessage(c.closeCode, c.closeText)
	if err := c.ws.WriteMessage(websocket.CloseMessage, msg); err != nil && !isExpectedCloseError(err) {
		c.log.Debug("error writing close message", "error", err)
	}
}

// writeTextMessage writes one envelope as one text frame.
func (c *Connection) writeTextMessage(message []byte) bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		c.log.Warn("error setting write deadline", "error", err)
		return false
	}
	if err := c.ws.WriteMessage(websocket.TextMessage, message); err != nil {
		if !isExpectedCloseError(err) {
			c.log.Warn("error writing message", "error", err)
		}
		return false
	}
	return true
}

// handlePing sends a ping message to keep the connection alive
func (c *Connection) handlePing() bool {
	if err := c.ws.SetWriteDeadline(time.Now().Add(c.hub.cfg.WriteWait)); err != nil {
		c.log.Warn("error setting write deadline for ping", "error", err)
		return false
	}
	if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
		c.log.Warn("error writing ping", "error", err)
		return false
	}
	return true
}

// localPump hands envelopes addressed to the hub's own peer to its handlers.
func (c *Connection) localPump() {
	for {
		select {
		case message := <-c.send:
			c.hub.dispatchLocal(message)
		case <-c.done:
			return
		}
	}
}
