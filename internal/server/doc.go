// Package server implements the Javelin relay hub.
//
// Peers connect over a WebSocket, authenticate with a bearer JWT whose
// subject must exist in the peer directory with the very same token, and
// then exchange JSON envelopes. Broadcasts reach every other peer subscribed
// to the envelope's endpoint; directed envelopes reach the named peer only
// when it is connected and subscribed. At most one connection per identity
// is registered at any time.
//
// The implementation is split into configuration, the registry, per
// connection pumps, the handshake, routing in the hub, HTTP routes and the
// Relay lifecycle wrapper.
package server
