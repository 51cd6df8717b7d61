package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Tyrowin/javelin/internal/directory"
)

// RejectReason names the handshake check that failed. It is logged, never
// sent to the peer.
type RejectReason string

const (
	RejectBadPath                RejectReason = "bad_path"
	RejectMissingAuthorization   RejectReason = "missing_authorization"
	RejectMalformedAuthorization RejectReason = "malformed_authorization"
	RejectInvalidToken           RejectReason = "invalid_token"
	RejectUnknownIdentity        RejectReason = "unknown_identity"
	RejectDirectoryError         RejectReason = "directory_error"
	RejectTokenMismatch          RejectReason = "token_mismatch"
	RejectAlreadyConnected       RejectReason = "already_connected"
	RejectShuttingDown           RejectReason = "shutting_down"
)

// ErrHandshakeRejected matches every *HandshakeError.
var ErrHandshakeRejected = errors.New("handshake rejected")

// HandshakeError records why a connection attempt was refused.
type HandshakeError struct {
	Reason   RejectReason
	Identity string
	Err      error
}

func (e *HandshakeError) Error() string {
	msg := "handshake rejected: " + string(e.Reason)
	if e.Identity != "" {
		msg += " (identity " + e.Identity + ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *HandshakeError) Unwrap() error { return e.Err }

func (e *HandshakeError) Is(target error) bool { return target == ErrHandshakeRejected }

const bearerPrefix = "Bearer "

// bearerToken extracts the token from an Authorization header of the exact
// form "Bearer <token>".
func bearerToken(header string) (string, *HandshakeError) {
	if header == "" {
		return "", &HandshakeError{Reason: RejectMissingAuthorization}
	}
	if !strings.HasPrefix(header, bearerPrefix) {
		return "", &HandshakeError{Reason: RejectMalformedAuthorization}
	}
	token := header[len(bearerPrefix):]
	if token == "" || strings.ContainsAny(token, " \t") {
		return "", &HandshakeError{Reason: RejectMalformedAuthorization}
	}
	return token, nil
}

// ServeHTTP runs the handshake for one connection attempt and, on success,
// upgrades it and starts the connection's pumps.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != h.cfg.Path {
		h.reject(w, r, &HandshakeError{Reason: RejectBadPath, Err: fmt.Errorf("path %q", r.URL.Path)})
		return
	}

	if !h.acquireSlot(r.Context()) {
		h.log.Debug("handshake abandoned while waiting for a worker", "remote", r.RemoteAddr)
		return
	}
	defer h.releaseSlot()

	peer, herr := h.authenticate(r)
	if herr != nil {
		h.reject(w, r, herr)
		return
	}

	if h.isClosed() {
		h.reject(w, r, &HandshakeError{Reason: RejectShuttingDown, Identity: peer.Name})
		return
	}

	c := newConnection(h, peer, r.RemoteAddr)
	if !h.registry.TryRegister(c) {
		h.reject(w, r, &HandshakeError{Reason: RejectAlreadyConnected, Identity: peer.Name})
		return
	}

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.registry.Remove(c)
		c.log.Warn("websocket upgrade failed", "error", err)
		return
	}

	if !h.attach(c, ws) {
		h.registry.Remove(c)
		closeWithCode(ws, closeShutdown, h.cfg.WriteWait)
		return
	}

	c.log.Info("peer connected", "endpoints", peer.EndpointList())
}

// authenticate checks the bearer token, resolves its subject in the directory
// and compares the presented token with the stored one.
func (h *Hub) authenticate(r *http.Request) (*directory.Peer, *HandshakeError) {
	token, herr := bearerToken(r.Header.Get("Authorization"))
	if herr != nil {
		return nil, herr
	}

	identity, err := h.verifier.Verify(token)
	if err != nil {
		return nil, &HandshakeError{Reason: RejectInvalidToken, Err: err}
	}

	peer, err := h.directory.Lookup(r.Context(), identity)
	switch {
	case errors.Is(err, directory.ErrNotFound):
		return nil, &HandshakeError{Reason: RejectUnknownIdentity, Identity: identity}
	case err != nil:
		return nil, &HandshakeError{Reason: RejectDirectoryError, Identity: identity, Err: err}
	}

	if subtle.ConstantTimeCompare([]byte(token), []byte(peer.Token)) != 1 {
		return nil, &HandshakeError{Reason: RejectTokenMismatch, Identity: identity}
	}
	return peer, nil
}

// reject logs the specific cause and answers with the same policy-violation
// close regardless of it.
func (h *Hub) reject(w http.ResponseWriter, r *http.Request, herr *HandshakeError) {
	attrs := []any{"remote", r.RemoteAddr, "reason", string(herr.Reason)}
	if herr.Identity != "" {
		attrs = append(attrs, "identity", herr.Identity)
	}
	if herr.Err != nil {
		attrs = append(attrs, "error", herr.Err)
	}
	h.log.Warn("handshake rejected", attrs...)

	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	closeWithCode(ws, closePolicyViolation, h.cfg.WriteWait)
}

func closeWithCode(ws *websocket.Conn, code int, wait time.Duration) {
	msg := websocket.FormatCloseMessage(code, "")
	_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wait))
	_ = ws.Close()
}

func (h *Hub) acquireSlot(ctx context.Context) bool {
	select {
	case h.slots <- struct{}{}:
		return true
	case <-ctx.Done():
		return false
	}
}

func (h *Hub) releaseSlot() {
	<-h.slots
}
