// Package realtime implements the push side of the connection core.
//
// Client is one websocket session. Channel wraps a session with an
// independent reconnect loop (capped backoff, terminal give-up) decoupled
// from the primary connection. Distributor wraps a Channel and fans decoded
// updates out to subscribers with per-category last-seen tracking and
// bounded trailing buffers.
package realtime
