package realtime

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/hannesnortje/memlink/internal/model"
)

// Errors
var (
	ErrNotConnected    = errors.New("not connected")
	ErrAlreadyClosed   = errors.New("already closed")
	ErrStaleConnection = errors.New("connection stale (no traffic)")
	ErrGaveUp          = errors.New("reconnect attempts exhausted")
)

// TimestampedMessage wraps raw message data with a receive timestamp.
type TimestampedMessage struct {
	Data       []byte
	ReceivedAt time.Time
}

// Command is an outbound control message on the push channel.
type Command struct {
	Type      string   `json:"type"` // "subscribe", "pong", "request_refresh"
	Topics    []string `json:"topics,omitempty"`
	DataTypes []string `json:"data_types,omitempty"`
}

// Outbound command types.
const (
	CmdSubscribe      = "subscribe"
	CmdPong           = "pong"
	CmdRequestRefresh = "request_refresh"
)

// envelope is the inbound wire format for all push messages.
type envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // ms since epoch, 0 when absent
}

// Inbound control message types. Everything else maps to an update category.
const (
	msgHeartbeat             = "heartbeat"
	msgSubscriptionConfirmed = "subscription_confirmed"
	msgError                 = "error"
)

// categoryForType maps an inbound message type to its update category.
func categoryForType(t string) (model.UpdateCategory, bool) {
	switch t {
	case "memory_metrics":
		return model.CategoryMetrics, true
	case "health_update":
		return model.CategoryHealth, true
	case "analytics_update":
		return model.CategoryAnalytics, true
	case "optimization_complete":
		return model.CategoryOptimizationComplete, true
	}
	return "", false
}

// Channel state values published as coarse status events.
const (
	StateConnected    = "connected"
	StateDisconnected = "disconnected"
	StateError        = "error"
)

// StatusEvent is a coarse connection-status transition of the push channel.
type StatusEvent struct {
	State     string
	Err       error
	Timestamp time.Time
}
