// Package server exposes the relay's HTTP handlers: the health check and the
// status summary. The WebSocket handshake is served by the Hub itself.
package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"slices"

	"github.com/julienschmidt/httprouter"
)

// HealthHandler provides a simple health check endpoint that returns server status.
func HealthHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "Javelin relay is running!")
}

type statusResponse struct {
	Peers      int      `json:"peers"`
	Identities []string `json:"identities"`
}

// StatusHandler reports how many peers are registered and under which
// identities.
func (h *Hub) StatusHandler(w http.ResponseWriter, _ *http.Request, _ httprouter.Params) {
	conns := h.registry.Snapshot()
	resp := statusResponse{Peers: len(conns), Identities: make([]string, 0, len(conns))}
	for _, c := range conns {
		resp.Identities = append(resp.Identities, c.Identity())
	}
	slices.Sort(resp.Identities)

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		h.log.Warn("error writing status response", "error", err)
	}
}
