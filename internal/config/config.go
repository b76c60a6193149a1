package config

import (
	"time"

	"github.com/hannesnortje/memlink/internal/model"
)

// Config is the root configuration for the connection core.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Health   HealthConfig   `yaml:"health"`
	Realtime RealtimeConfig `yaml:"realtime"`
	Debug    bool           `yaml:"debug"`
}

// ServerConfig holds the primary connection settings. Immutable per
// connection attempt; replacing it requires a fresh connect.
type ServerConfig struct {
	Address         string        `yaml:"address"`           // base URL of the backend (e.g. http://127.0.0.1:8765)
	Mode            model.Mode    `yaml:"mode"`              // "local" or "remote"
	LocalLaunchPath string        `yaml:"local_launch_path"` // executable for local mode
	LocalLaunchArgs []string      `yaml:"local_launch_args"`
	AutoStart       bool          `yaml:"auto_start"`
	ConnectTimeout  time.Duration `yaml:"connect_timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	RetryMaxDelay   time.Duration `yaml:"retry_max_delay"` // backoff ceiling
}

// HealthConfig holds periodic health verification settings.
type HealthConfig struct {
	Interval         time.Duration `yaml:"interval"`          // health check period
	FailureThreshold int           `yaml:"failure_threshold"` // consecutive failures before forcing a reconnect
	DegradedLatency  time.Duration `yaml:"degraded_latency"`  // latency above this classifies as degraded
	APIKey           string        `yaml:"api_key"`           // optional bearer token
}

// RealtimeConfig holds the push-channel settings. The realtime channel is an
// independent failure domain from the primary connection.
type RealtimeConfig struct {
	URL                  string                 `yaml:"url"` // websocket URL of the push endpoint
	Topics               []model.UpdateCategory `yaml:"topics"`
	HeartbeatInterval    time.Duration          `yaml:"heartbeat_interval"`
	StaleTimeout         time.Duration          `yaml:"stale_timeout"` // no traffic within this implies the peer is gone
	WriteTimeout         time.Duration          `yaml:"write_timeout"`
	ReconnectInterval    time.Duration          `yaml:"reconnect_interval"`
	ReconnectMaxDelay    time.Duration          `yaml:"reconnect_max_delay"`
	MaxReconnectAttempts int                    `yaml:"max_reconnect_attempts"`
	BufferCapacity       int                    `yaml:"buffer_capacity"` // trailing updates retained per category
	MessageBufferSize    int                    `yaml:"message_buffer_size"`
}
