// Package model defines the shared data types of the connection core:
// connection state, health results, lifecycle events, realtime updates,
// and derived metrics snapshots.
package model
