package config

import (
	"errors"
	"fmt"

	"github.com/hannesnortje/memlink/internal/model"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.Server.Address == "" {
		return errors.New("server.address is required")
	}

	switch c.Server.Mode {
	case model.ModeLocal, model.ModeRemote:
	default:
		return fmt.Errorf("server.mode must be %q or %q, got %q",
			model.ModeLocal, model.ModeRemote, c.Server.Mode)
	}

	if c.Server.Mode == model.ModeLocal && c.Server.AutoStart && c.Server.LocalLaunchPath == "" {
		return errors.New("server.local_launch_path is required when auto_start is set in local mode")
	}
	if c.Server.MaxRetries < 1 {
		return errors.New("server.max_retries must be >= 1")
	}
	if c.Server.RetryBaseDelay <= 0 {
		return errors.New("server.retry_base_delay must be > 0")
	}
	if c.Server.RetryMaxDelay < c.Server.RetryBaseDelay {
		return fmt.Errorf("server.retry_max_delay (%s) cannot be below retry_base_delay (%s)",
			c.Server.RetryMaxDelay, c.Server.RetryBaseDelay)
	}
	if c.Server.ConnectTimeout <= 0 {
		return errors.New("server.connect_timeout must be > 0")
	}

	if c.Health.Interval <= 0 {
		return errors.New("health.interval must be > 0")
	}
	if c.Health.FailureThreshold < 1 {
		return errors.New("health.failure_threshold must be >= 1")
	}

	if c.Realtime.URL == "" {
		return errors.New("realtime.url is required")
	}
	if c.Realtime.MaxReconnectAttempts < 1 {
		return errors.New("realtime.max_reconnect_attempts must be >= 1")
	}
	if c.Realtime.ReconnectInterval <= 0 {
		return errors.New("realtime.reconnect_interval must be > 0")
	}
	if c.Realtime.BufferCapacity < 1 {
		return errors.New("realtime.buffer_capacity must be >= 1")
	}

	return nil
}
