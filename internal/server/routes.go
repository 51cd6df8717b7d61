// Package server wires HTTP handlers into an httprouter.Router for the relay.
package server

import (
	"net/http"

	"github.com/julienschmidt/httprouter"
)

const (
	healthPath = "/healthz"
	statusPath = "/status"
)

// SetupRoutes returns the relay's router. Every path without a route of its
// own, including the configured WebSocket path, reaches the handshake so that
// foreign paths are refused with a policy-violation close.
func SetupRoutes(hub *Hub) *httprouter.Router {
	router := httprouter.New()
	router.RedirectTrailingSlash = false
	router.RedirectFixedPath = false
	router.HandleMethodNotAllowed = false

	router.GET(healthPath, HealthHandler)
	router.GET(statusPath, hub.StatusHandler)

	if path := hub.cfg.Path; path != healthPath && path != statusPath {
		router.Handler(http.MethodGet, path, hub)
	}
	router.NotFound = hub

	return router
}
