package config

import "time"

// DisconnectedPolicy selects what gateway calls do while the client is not
// connected to the broker.
type DisconnectedPolicy string

const (
	// PolicyFailFast makes get/set/subscribe calls return ErrNotConnected
	// immediately while the connection is down.
	PolicyFailFast DisconnectedPolicy = "fail_fast"

	// PolicyWait makes get/set/subscribe calls block until the connection is
	// re-established, bounded by ConnectWaitTimeout.
	PolicyWait DisconnectedPolicy = "wait"
)

// Config is the root configuration for a broker client.
type Config struct {
	// ServerURI is the WebSocket address of the signal broker. Required.
	ServerURI string `yaml:"server_uri"`

	// Debug enables verbose diagnostic logging. No behavioral effect.
	Debug bool `yaml:"debug"`

	// SignalPaths is the ordered set of paths SubscribeAll subscribes to.
	SignalPaths []string `yaml:"signal_paths"`

	Connection ConnectionConfig `yaml:"connection"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Recorder   RecorderConfig   `yaml:"recorder"`
}

// ConnectionConfig holds connection lifecycle settings.
type ConnectionConfig struct {
	// AutoReconnect controls whether a channel failure triggers the
	// reconnect supervisor. Defaults to true; an explicit `false` in the
	// file is honored.
	AutoReconnect *bool `yaml:"auto_reconnect"`

	ReconnectBaseDelay time.Duration `yaml:"reconnect_base_delay"`
	ReconnectMaxDelay  time.Duration `yaml:"reconnect_max_delay"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`

	// StreamBufferSize is the per-subscription buffer between the channel
	// read loop and the subscription worker.
	StreamBufferSize int `yaml:"stream_buffer_size"`
}

// GatewayConfig holds value-access call policy.
type GatewayConfig struct {
	// OnDisconnected is "fail_fast" or "wait".
	OnDisconnected DisconnectedPolicy `yaml:"on_disconnected"`

	// ConnectWaitTimeout bounds the wait when OnDisconnected is "wait".
	ConnectWaitTimeout time.Duration `yaml:"connect_wait_timeout"`

	// CallTimeout bounds a single unary request/response round-trip.
	CallTimeout time.Duration `yaml:"call_timeout"`
}

// RecorderConfig holds the optional signal update recorder. The recorder is
// disabled when Host is empty.
type RecorderConfig struct {
	Database DBConfig `yaml:"database"`

	BatchSize     int           `yaml:"batch_size"`
	FlushInterval time.Duration `yaml:"flush_interval"`
	BufferSize    int           `yaml:"buffer_size"`
}

// Enabled reports whether a recorder database is configured.
func (r RecorderConfig) Enabled() bool {
	return r.Database.Host != ""
}

// DBConfig holds a single Postgres connection.
type DBConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	SSLMode  string `yaml:"ssl_mode"`
	MaxConns int    `yaml:"max_conns"`
	MinConns int    `yaml:"min_conns"`
}

// AutoReconnectEnabled resolves the tri-state AutoReconnect flag.
func (c ConnectionConfig) AutoReconnectEnabled() bool {
	if c.AutoReconnect == nil {
		return true
	}
	return *c.AutoReconnect
}
