// Package server constructs and starts the relay's HTTP service and ties the
// listener's lifecycle to the hub's.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/Tyrowin/javelin/internal/auth"
	"github.com/Tyrowin/javelin/internal/directory"
	"github.com/Tyrowin/javelin/internal/envelope"
)

// Option customizes a Relay.
type Option func(*Relay)

// WithLogger sets the logger used by the relay and its hub.
func WithLogger(log *slog.Logger) Option {
	return func(r *Relay) {
		if log != nil {
			r.log = log
		}
	}
}

// Relay is a hub together with the HTTP server that accepts its peers.
type Relay struct {
	cfg     Config
	hub     *Hub
	handler http.Handler
	log     *slog.Logger

	mu       sync.Mutex
	srv      *http.Server
	listener net.Listener
	serveErr chan error
}

// New builds a relay. Routing starts immediately so Handler can be served by
// any http.Server; Start binds the configured port.
func New(cfg Config, verifier auth.Verifier, dir directory.Directory, opts ...Option) (*Relay, error) {
	if verifier == nil {
		return nil, errors.New("server: verifier is required")
	}
	if dir == nil {
		return nil, errors.New("server: directory is required")
	}

	r := &Relay{log: slog.Default()}
	for _, opt := range opts {
		opt(r)
	}

	r.hub = NewHub(cfg, verifier, dir, r.log)
	r.cfg = r.hub.cfg
	r.handler = SetupRoutes(r.hub)
	go r.hub.Run()

	return r, nil
}

// CreateServer creates and configures an HTTP server with the specified
// address and handler. Write timeouts are left to the WebSocket pumps since
// hijacked connections outlive any request deadline.
func CreateServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
}

// Start binds the configured port and serves in the background, over TLS
// when a certificate and key are configured.
func (r *Relay) Start() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.srv != nil {
		return errors.New("server: relay already started")
	}
	if r.hub.isClosed() {
		return ErrClosed
	}

	srv := CreateServer(r.cfg.Port, r.handler)
	if r.cfg.TLS.Enabled() {
		tlsConfig, err := r.cfg.TLS.Load()
		if err != nil {
			return fmt.Errorf("server: %w", err)
		}
		srv.TLSConfig = tlsConfig
	}

	ln, err := net.Listen("tcp", r.cfg.Port)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", r.cfg.Port, err)
	}

	r.srv = srv
	r.listener = ln
	r.serveErr = make(chan error, 1)

	go func() {
		var err error
		if srv.TLSConfig != nil {
			err = srv.ServeTLS(ln, "", "")
		} else {
			err = srv.Serve(ln)
		}
		if errors.Is(err, http.ErrServerClosed) {
			err = nil
		}
		r.serveErr <- err
	}()

	r.log.Info("relay listening", "addr", ln.Addr().String(), "path", r.cfg.Path,
		"tls", srv.TLSConfig != nil, "workers", r.cfg.Workers)
	return nil
}

// Addr returns the bound listener address, or nil before Start.
func (r *Relay) Addr() net.Addr {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.listener == nil {
		return nil
	}
	return r.listener.Addr()
}

// Handler returns the relay's HTTP handler.
func (r *Relay) Handler() http.Handler {
	return r.handler
}

// Hub returns the underlying hub.
func (r *Relay) Hub() *Hub {
	return r.hub
}

// Config returns the sanitized configuration in use.
func (r *Relay) Config() Config {
	return r.cfg
}

// Wait blocks until the HTTP server stops serving and returns its error.
// It returns nil immediately if the relay was never started.
func (r *Relay) Wait() error {
	r.mu.Lock()
	ch := r.serveErr
	r.mu.Unlock()
	if ch == nil {
		return nil
	}
	err := <-ch
	ch <- err
	return err
}

// Stop closes the listener and shuts the hub down. The HTTP server and the
// hub share one timeout; connections still open when it expires are closed
// forcibly and context.DeadlineExceeded is returned.
func (r *Relay) Stop(timeout time.Duration) error {
	deadline := time.Now().Add(timeout)

	r.mu.Lock()
	srv := r.srv
	r.mu.Unlock()

	if srv != nil {
		r.log.Info("shutting down HTTP server")
		// Hijacked connections are not tracked by Shutdown; it only waits
		// for plain HTTP requests in flight.
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		err := srv.Shutdown(ctx)
		cancel()
		if err != nil {
			r.log.Warn("HTTP server shutdown error", "error", err)
			_ = srv.Close()
		}
	}

	return r.hub.Shutdown(max(time.Until(deadline), 0))
}

// Send routes env as if it had been received from the local peer.
func (r *Relay) Send(env envelope.Envelope) error {
	return r.hub.Send(env)
}

// Handle registers fn for envelopes delivered to the local peer on endpoint.
func (r *Relay) Handle(endpoint string, fn Handler) {
	r.hub.Handle(endpoint, fn)
}

// IsConnected reports whether identity currently holds a live connection.
func (r *Relay) IsConnected(identity string) bool {
	return r.hub.registry.IsConnected(identity)
}
