// Package server defines shared errors, close codes and utility helpers that
// are reused across connection and hub logic.
package server

import (
	"errors"
	"strings"

	"github.com/gorilla/websocket"
)

// Close codes sent to peers. Every handshake rejection uses the same code so
// the remote side cannot tell which check failed.
const (
	closePolicyViolation = websocket.ClosePolicyViolation
	closeRefuse          = websocket.CloseUnsupportedData
	closeSlowConsumer    = websocket.CloseTryAgainLater
	closeShutdown        = websocket.CloseGoingAway
)

var (
	// ErrClosed is returned by Send once the hub has been shut down.
	ErrClosed = errors.New("relay hub is closed")
	// ErrQueueFull is returned by Send when the routing queue is saturated.
	ErrQueueFull = errors.New("relay send queue is full")
)

// isExpectedCloseError checks if an error is expected during connection closure.
func isExpectedCloseError(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, websocket.ErrCloseSent) {
		return true
	}
	errStr := err.Error()
	return strings.Contains(errStr, "use of closed network connection") ||
		strings.Contains(errStr, "websocket: close sent") ||
		strings.Contains(errStr, "broken pipe") ||
		strings.Contains(errStr, "connection reset by peer")
}
