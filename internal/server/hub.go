// Package server coordinates peer registration, message routing, and
// connection cleanup for the relay via the Hub type.
package server

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/javelin/internal/auth"
	"github.com/Tyrowin/javelin/internal/directory"
	"github.com/Tyrowin/javelin/internal/envelope"
)

// Handler receives envelopes delivered to the hub's local peer.
type Handler func(envelope.Envelope)

type outboundMessage struct {
	sender *Connection
	data   []byte
}

// Hub authenticates peers, keeps the registry of live connections and routes
// envelopes between them.
type Hub struct {
	cfg       Config
	registry  *Registry
	verifier  auth.Verifier
	directory directory.Directory
	upgrader  websocket.Upgrader
	slots     chan struct{}
	outbound  chan outboundMessage
	local     *Connection
	log       *slog.Logger

	handlersMu sync.RWMutex
	handlers   map[string][]Handler

	// mu guards closed, live and wg.Add so Shutdown never races an attach.
	mu     sync.Mutex
	closed bool
	live   map[*Connection]struct{}
	wg     sync.WaitGroup

	running atomic.Bool
	ctx     context.Context
	cancel  context.CancelFunc
	done    chan struct{}
}

// NewHub creates a hub. The configuration is sanitized; a LocalIdentity
// registers the hub's own peer immediately.
func NewHub(cfg Config, verifier auth.Verifier, dir directory.Directory, log *slog.Logger) *Hub {
	cfg = sanitizeConfig(cfg)
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "hub")

	ctx, cancel := context.WithCancel(context.Background())
	h := &Hub{
		cfg:       cfg,
		registry:  NewRegistry(),
		verifier:  verifier,
		directory: dir,
		slots:     make(chan struct{}, cfg.Workers),
		outbound:  make(chan outboundMessage, cfg.QueueSize),
		log:       log,
		handlers:  make(map[string][]Handler),
		live:      make(map[*Connection]struct{}),
		ctx:       ctx,
		cancel:    cancel,
		done:      make(chan struct{}),
	}

	origins := newOriginPolicy(cfg.AllowedOrigins, log)
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     origins.check,
	}

	if cfg.LocalIdentity != "" {
		h.local = newConnection(h, directory.NewPeer(cfg.LocalIdentity, "", cfg.LocalEndpoints...), "local")
		h.local.local = true
		h.local.state.Store(int32(StateAuthenticated))
		h.registry.TryRegister(h.local)
		h.wg.Add(1)
		go func() {
			defer h.wg.Done()
			h.local.localPump()
		}()
	}

	return h
}

// Registry exposes the live peer registry.
func (h *Hub) Registry() *Registry {
	return h.registry
}

// Config returns the sanitized configuration.
func (h *Hub) Config() Config {
	return h.cfg
}

// Run routes locally submitted envelopes until Shutdown. It should be called
// in a separate goroutine; a second call returns immediately.
func (h *Hub) Run() {
	if !h.running.CompareAndSwap(false, true) {
		return
	}
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			return
		case msg := <-h.outbound:
			h.route(msg.sender, msg.data)
		}
	}
}

// Send enqueues env for routing as if it had been received from the local
// peer. Without a local identity there is no sender to exclude.
func (h *Hub) Send(env envelope.Envelope) error {
	data, err := envelope.Encode(env)
	if err != nil {
		return err
	}
	if h.isClosed() {
		return ErrClosed
	}

	select {
	case h.outbound <- outboundMessage{sender: h.local, data: data}:
		return nil
	default:
		return ErrQueueFull
	}
}

// Handle registers fn for envelopes delivered to the local peer on endpoint.
func (h *Hub) Handle(endpoint string, fn Handler) {
	h.handlersMu.Lock()
	defer h.handlersMu.Unlock()
	h.handlers[endpoint] = append(h.handlers[endpoint], fn)
}

func (h *Hub) dispatchLocal(data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		h.log.Warn("dropping malformed envelope for local peer", "error", err)
		return
	}

	h.handlersMu.RLock()
	handlers := append([]Handler(nil), h.handlers[env.Endpoint]...)
	h.handlersMu.RUnlock()

	for _, fn := range handlers {
		fn(env)
	}
}

// route delivers the original frame to the recipients selected by its
// envelope. sender is excluded from broadcasts and may be nil.
func (h *Hub) route(sender *Connection, data []byte) {
	env, err := envelope.Decode(data)
	if err != nil {
		h.log.Warn("dropping malformed envelope", "from", identityOf(sender), "error", err)
		return
	}

	if env.IsBroadcast() {
		recipients := h.registry.Subscribers(env.Endpoint, sender)
		for _, c := range recipients {
			h.deliver(c, data)
		}
		h.log.Debug("broadcast routed", "from", identityOf(sender), "endpoint", env.Endpoint, "recipients", len(recipients))
		return
	}

	target := h.registry.Lookup(*env.Receiver)
	if target == nil || !target.Subscribes(env.Endpoint) {
		h.log.Debug("routing miss", "from", identityOf(sender), "endpoint", env.Endpoint, "receiver", *env.Receiver)
		return
	}
	h.deliver(target, data)
}

// deliver never blocks. A remote peer whose buffer is full is evicted so it
// cannot stall delivery to anyone else.
func (h *Hub) deliver(c *Connection, data []byte) {
	err := c.enqueue(data)
	switch {
	case err == nil, errors.Is(err, errConnectionClosed):
	case c.isLocal():
		c.log.Warn("local peer buffer full, dropping message")
	default:
		c.log.Warn("send buffer full, evicting slow peer", "buffer", cap(c.send))
		c.close(closeSlowConsumer, "send buffer full")
	}
}

func identityOf(c *Connection) string {
	if c == nil {
		return ""
	}
	return c.Identity()
}

// attach binds an upgraded socket to a registered connection and starts its
// pumps. It fails once shutdown has begun.
func (h *Hub) attach(c *Connection, ws *websocket.Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return false
	}

	c.ws = ws
	c.state.Store(int32(StateAuthenticated))
	h.live[c] = struct{}{}
	h.wg.Add(1)

	var pumps sync.WaitGroup
	pumps.Add(2)
	go func() {
		defer pumps.Done()
		c.writePump()
	}()
	go func() {
		defer pumps.Done()
		c.readPump()
	}()
	go func() {
		pumps.Wait()
		h.mu.Lock()
		delete(h.live, c)
		h.mu.Unlock()
		h.wg.Done()
	}()

	return true
}

func (h *Hub) isClosed() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.closed
}

// Shutdown stops routing, asks every peer to go away and waits for their
// connections to finish. Connections still open after timeout are closed
// forcibly and context.DeadlineExceeded is returned.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return nil
	}
	h.closed = true
	live := make([]*Connection, 0, len(h.live))
	for c := range h.live {
		live = append(live, c)
	}
	h.mu.Unlock()

	h.log.Info("shutting down hub", "connections", len(live))

	h.cancel()
	if h.running.CompareAndSwap(false, true) {
		close(h.done)
	}
	<-h.done

	for _, c := range h.registry.Snapshot() {
		c.close(closeShutdown, "relay shutting down")
	}
	for _, c := range live {
		c.close(closeShutdown, "relay shutting down")
	}

	if waitTimeout(&h.wg, timeout) {
		h.log.Info("hub shutdown completed")
		return nil
	}

	h.log.Warn("shutdown timeout reached, forcing connections closed")
	for _, c := range live {
		c.forceClose()
	}
	waitTimeout(&h.wg, h.cfg.WriteWait)
	return context.DeadlineExceeded
}

func waitTimeout(wg *sync.WaitGroup, timeout time.Duration) bool {
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return true
	case <-time.After(timeout):
		return false
	}
}
