package model

import (
	"time"

	"github.com/google/uuid"
)

// -----------------------------------------------------------------------------
// Connection Types
// -----------------------------------------------------------------------------

// ConnectionStatus is the single authoritative state of the backend connection.
type ConnectionStatus string

const (
	StatusDisconnected ConnectionStatus = "disconnected"
	StatusConnecting   ConnectionStatus = "connecting"
	StatusConnected    ConnectionStatus = "connected"
	StatusReconnecting ConnectionStatus = "reconnecting"
	StatusStarting     ConnectionStatus = "starting"
	StatusStopping     ConnectionStatus = "stopping"
	StatusError        ConnectionStatus = "error"
)

// Mode selects how the backend is reached.
type Mode string

const (
	ModeLocal  Mode = "local"  // backend runs as a locally launched process
	ModeRemote Mode = "remote" // backend is already running elsewhere
)

// Connection is the single logical session to the backend. Exactly one live
// value exists per process; it is owned and mutated only by the server manager.
type Connection struct {
	ID                uuid.UUID
	Status            ConnectionStatus
	ConnectedAt       time.Time // zero when not connected
	LastHealthCheckAt time.Time
	LastError         error
	RetryCount        int
	ProcessID         int // local mode only; 0 when no process is managed
}

// -----------------------------------------------------------------------------
// Health Types
// -----------------------------------------------------------------------------

// HealthStatus classifies a single probe result.
type HealthStatus string

const (
	HealthHealthy     HealthStatus = "healthy"
	HealthDegraded    HealthStatus = "degraded"
	HealthUnreachable HealthStatus = "unreachable"
)

// HealthResult is one probe outcome. Ephemeral: only the most recent result
// is cached, nothing is persisted.
type HealthResult struct {
	Status    HealthStatus
	Timestamp time.Time
	Latency   time.Duration
	Detail    string
}

// -----------------------------------------------------------------------------
// Lifecycle Events
// -----------------------------------------------------------------------------

// EventType identifies a lifecycle event emitted by the server manager.
type EventType string

const (
	EventStatusChanged         EventType = "status_changed"
	EventHealthCheck           EventType = "health_check"
	EventConnectionEstablished EventType = "connection_established"
	EventConnectionLost        EventType = "connection_lost"
	EventError                 EventType = "error"
	EventRetryAttempt          EventType = "retry_attempt"
	EventServerStarted         EventType = "server_started"
	EventServerStopped         EventType = "server_stopped"
)

// LifecycleEvent is emitted on every state transition; delivered at least
// once within the process, never stored beyond delivery.
type LifecycleEvent struct {
	Type         EventType
	Timestamp    time.Time
	ConnectionID uuid.UUID
	Data         map[string]any
}

// -----------------------------------------------------------------------------
// Realtime Updates
// -----------------------------------------------------------------------------

// UpdateCategory is a named class of server-pushed update. Ordering is
// guaranteed within a category (arrival order) but not across categories.
type UpdateCategory string

const (
	CategoryMetrics              UpdateCategory = "metrics"
	CategoryHealth               UpdateCategory = "health"
	CategoryAnalytics            UpdateCategory = "analytics"
	CategoryOptimizationComplete UpdateCategory = "optimization_complete"
)

// Categories lists all known update categories in a stable order.
func Categories() []UpdateCategory {
	return []UpdateCategory{
		CategoryMetrics,
		CategoryHealth,
		CategoryAnalytics,
		CategoryOptimizationComplete,
	}
}

// RealtimeUpdate is one decoded push update from the realtime channel.
type RealtimeUpdate struct {
	Category  UpdateCategory
	Payload   []byte // raw JSON payload of the update
	Timestamp time.Time
	Cached    bool // true when replayed from the trailing buffer, not live
}

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

// Metrics is a derived snapshot of connection statistics, recomputed on read
// by the server manager. Consumers only ever see copies.
type Metrics struct {
	Uptime             time.Duration
	HealthChecks       int64
	FailedHealthChecks int64
	Reconnections      int64
	AvgResponseTime    time.Duration
	LastResponseTime   time.Duration
	BytesIn            int64
	BytesOut           int64
}
