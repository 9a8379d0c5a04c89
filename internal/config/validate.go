package config

import (
	"errors"
	"fmt"
	"strings"
)

// Validate checks that all required fields are set and values are valid.
func (c *Config) Validate() error {
	if c.ServerURI == "" {
		return errors.New("server_uri is required")
	}
	if !strings.HasPrefix(c.ServerURI, "ws://") && !strings.HasPrefix(c.ServerURI, "wss://") {
		return fmt.Errorf("server_uri must be a ws:// or wss:// address, got %q", c.ServerURI)
	}

	for i, path := range c.SignalPaths {
		if strings.TrimSpace(path) == "" {
			return fmt.Errorf("signal_paths[%d] is empty", i)
		}
	}

	if c.Connection.ReconnectBaseDelay <= 0 {
		return errors.New("connection.reconnect_base_delay must be positive")
	}
	if c.Connection.ReconnectMaxDelay < c.Connection.ReconnectBaseDelay {
		return fmt.Errorf("connection.reconnect_max_delay (%s) cannot be below reconnect_base_delay (%s)",
			c.Connection.ReconnectMaxDelay, c.Connection.ReconnectBaseDelay)
	}
	if c.Connection.StreamBufferSize < 1 {
		return errors.New("connection.stream_buffer_size must be >= 1")
	}

	switch c.Gateway.OnDisconnected {
	case PolicyFailFast, PolicyWait:
	default:
		return fmt.Errorf("gateway.on_disconnected must be %q or %q, got %q",
			PolicyFailFast, PolicyWait, c.Gateway.OnDisconnected)
	}
	if c.Gateway.CallTimeout <= 0 {
		return errors.New("gateway.call_timeout must be positive")
	}

	if c.Recorder.Enabled() {
		if err := c.Recorder.Database.validate("recorder.database"); err != nil {
			return err
		}
		if c.Recorder.BatchSize < 1 {
			return errors.New("recorder.batch_size must be >= 1")
		}
		if c.Recorder.BufferSize < 1 {
			return errors.New("recorder.buffer_size must be >= 1")
		}
	}

	return nil
}

func (db *DBConfig) validate(prefix string) error {
	if db.Name == "" {
		return fmt.Errorf("%s.name is required", prefix)
	}
	if db.User == "" {
		return fmt.Errorf("%s.user is required", prefix)
	}
	if db.MaxConns < 1 {
		return fmt.Errorf("%s.max_conns must be >= 1", prefix)
	}
	if db.MinConns < 0 {
		return fmt.Errorf("%s.min_conns must be >= 0", prefix)
	}
	if db.MinConns > db.MaxConns {
		return fmt.Errorf("%s.min_conns (%d) cannot exceed max_conns (%d)", prefix, db.MinConns, db.MaxConns)
	}
	return nil
}
