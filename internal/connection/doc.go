// Package connection implements the server manager: the single state
// machine that owns the logical connection to the backend.
//
// The manager:
//   - drives connect/disconnect/start/stop/restart transitions
//   - retries failed connects with linear capped backoff
//   - runs the periodic health verification timer
//   - forces a reconnect after consecutive health-check failures
//   - emits lifecycle events and derives metrics snapshots
//
// All timers are generation-tagged so Disconnect invalidates them
// synchronously; a stale retry can never fire against a fresh connection.
package connection
