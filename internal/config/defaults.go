package config

import "time"

// Default values for optional configuration fields.
const (
	DefaultReconnectBaseDelay = 1 * time.Second
	DefaultReconnectMaxDelay  = 60 * time.Second
	DefaultDialTimeout        = 10 * time.Second
	DefaultWriteTimeout       = 5 * time.Second
	DefaultStreamBufferSize   = 256

	DefaultConnectWaitTimeout = 30 * time.Second
	DefaultCallTimeout        = 10 * time.Second

	DefaultDBPort        = 5432
	DefaultDBSSLMode     = "prefer"
	DefaultMaxConns      = 4
	DefaultMinConns      = 1
	DefaultBatchSize     = 500
	DefaultFlushInterval = 1 * time.Second
	DefaultBufferSize    = 5000
)

func (c *Config) applyDefaults() {
	if c.Connection.ReconnectBaseDelay == 0 {
		c.Connection.ReconnectBaseDelay = DefaultReconnectBaseDelay
	}
	if c.Connection.ReconnectMaxDelay == 0 {
		c.Connection.ReconnectMaxDelay = DefaultReconnectMaxDelay
	}
	if c.Connection.DialTimeout == 0 {
		c.Connection.DialTimeout = DefaultDialTimeout
	}
	if c.Connection.WriteTimeout == 0 {
		c.Connection.WriteTimeout = DefaultWriteTimeout
	}
	if c.Connection.StreamBufferSize == 0 {
		c.Connection.StreamBufferSize = DefaultStreamBufferSize
	}

	if c.Gateway.OnDisconnected == "" {
		c.Gateway.OnDisconnected = PolicyFailFast
	}
	if c.Gateway.ConnectWaitTimeout == 0 {
		c.Gateway.ConnectWaitTimeout = DefaultConnectWaitTimeout
	}
	if c.Gateway.CallTimeout == 0 {
		c.Gateway.CallTimeout = DefaultCallTimeout
	}

	if c.Recorder.Enabled() {
		applyDBDefaults(&c.Recorder.Database)
		if c.Recorder.BatchSize == 0 {
			c.Recorder.BatchSize = DefaultBatchSize
		}
		if c.Recorder.FlushInterval == 0 {
			c.Recorder.FlushInterval = DefaultFlushInterval
		}
		if c.Recorder.BufferSize == 0 {
			c.Recorder.BufferSize = DefaultBufferSize
		}
	}
}

func applyDBDefaults(db *DBConfig) {
	if db.Port == 0 {
		db.Port = DefaultDBPort
	}
	if db.SSLMode == "" {
		db.SSLMode = DefaultDBSSLMode
	}
	if db.MaxConns == 0 {
		db.MaxConns = DefaultMaxConns
	}
	if db.MinConns == 0 {
		db.MinConns = DefaultMinConns
	}
}
