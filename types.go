package vssclient

import (
	"github.com/vclink/vssclient/internal/config"
	"github.com/vclink/vssclient/internal/connection"
	"github.com/vclink/vssclient/internal/convert"
	"github.com/vclink/vssclient/internal/signal"
	"github.com/vclink/vssclient/internal/transport"
)

// Field selectors accepted by setters and subscribe calls and delivered to
// callbacks. The numeric values are a wire contract.
const (
	FieldValue          = int(signal.FieldValue)
	FieldActuatorTarget = int(signal.FieldActuatorTarget)
)

// Callback receives pushed updates for a subscription. Invoked from a
// background goroutine; must be safe for concurrent use and should return
// quickly.
type Callback = signal.Callback

// Config is the root client configuration.
type Config = config.Config

// ConnectionConfig holds connection lifecycle settings.
type ConnectionConfig = config.ConnectionConfig

// GatewayConfig holds value-access call policy.
type GatewayConfig = config.GatewayConfig

// RecorderConfig holds the optional signal update recorder.
type RecorderConfig = config.RecorderConfig

// DBConfig holds a single Postgres connection.
type DBConfig = config.DBConfig

// DisconnectedPolicy selects what calls do while disconnected.
type DisconnectedPolicy = config.DisconnectedPolicy

const (
	PolicyFailFast = config.PolicyFailFast
	PolicyWait     = config.PolicyWait
)

// Value is the closed set of Go types a signal value may convert to.
type Value = convert.Value

// RemoteError is a broker-side rejection: the channel is healthy, the broker
// refused the request. Never triggers reconnection.
type RemoteError = transport.RemoteError

// ServerInfo describes the connected broker.
type ServerInfo struct {
	Name    string
	Version string
}

// ErrNotConnected is returned by gateway calls under the fail-fast policy
// while the client is not connected.
var ErrNotConnected = connection.ErrNotConnected

// ErrShutdown is returned for operations after Close.
var ErrShutdown = connection.ErrShutdown

// IsRemoteError reports whether err is a broker rejection.
func IsRemoteError(err error) bool {
	return transport.IsRemote(err)
}
