package config

import (
	"time"

	"github.com/hannesnortje/memlink/internal/model"
)

// Default values for optional configuration fields.
const (
	DefaultAddress              = "http://127.0.0.1:8765"
	DefaultRealtimeURL          = "ws://127.0.0.1:8765/ws"
	DefaultConnectTimeout       = 10 * time.Second
	DefaultMaxRetries           = 5
	DefaultRetryBaseDelay       = 2 * time.Second
	DefaultRetryMaxDelay        = 30 * time.Second
	DefaultHealthInterval       = 30 * time.Second
	DefaultFailureThreshold     = 3
	DefaultDegradedLatency      = 2 * time.Second
	DefaultHeartbeatInterval    = 15 * time.Second
	DefaultStaleTimeout         = 45 * time.Second
	DefaultWriteTimeout         = 5 * time.Second
	DefaultReconnectInterval    = 2 * time.Second
	DefaultReconnectMaxDelay    = 30 * time.Second
	DefaultMaxReconnectAttempts = 10
	DefaultBufferCapacity       = 100
	DefaultMessageBufferSize    = 1000
)

func (c *Config) applyDefaults() {
	if c.Server.Address == "" {
		c.Server.Address = DefaultAddress
	}
	if c.Server.Mode == "" {
		c.Server.Mode = model.ModeRemote
	}
	if c.Server.ConnectTimeout == 0 {
		c.Server.ConnectTimeout = DefaultConnectTimeout
	}
	if c.Server.MaxRetries == 0 {
		c.Server.MaxRetries = DefaultMaxRetries
	}
	if c.Server.RetryBaseDelay == 0 {
		c.Server.RetryBaseDelay = DefaultRetryBaseDelay
	}
	if c.Server.RetryMaxDelay == 0 {
		c.Server.RetryMaxDelay = DefaultRetryMaxDelay
	}

	if c.Health.Interval == 0 {
		c.Health.Interval = DefaultHealthInterval
	}
	if c.Health.FailureThreshold == 0 {
		c.Health.FailureThreshold = DefaultFailureThreshold
	}
	if c.Health.DegradedLatency == 0 {
		c.Health.DegradedLatency = DefaultDegradedLatency
	}

	if c.Realtime.URL == "" {
		c.Realtime.URL = DefaultRealtimeURL
	}
	if len(c.Realtime.Topics) == 0 {
		c.Realtime.Topics = model.Categories()
	}
	if c.Realtime.HeartbeatInterval == 0 {
		c.Realtime.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if c.Realtime.StaleTimeout == 0 {
		c.Realtime.StaleTimeout = DefaultStaleTimeout
	}
	if c.Realtime.WriteTimeout == 0 {
		c.Realtime.WriteTimeout = DefaultWriteTimeout
	}
	if c.Realtime.ReconnectInterval == 0 {
		c.Realtime.ReconnectInterval = DefaultReconnectInterval
	}
	if c.Realtime.ReconnectMaxDelay == 0 {
		c.Realtime.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Realtime.MaxReconnectAttempts == 0 {
		c.Realtime.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if c.Realtime.BufferCapacity == 0 {
		c.Realtime.BufferCapacity = DefaultBufferCapacity
	}
	if c.Realtime.MessageBufferSize == 0 {
		c.Realtime.MessageBufferSize = DefaultMessageBufferSize
	}
}
