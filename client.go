package vssclient

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/vclink/vssclient/internal/config"
	"github.com/vclink/vssclient/internal/connection"
	"github.com/vclink/vssclient/internal/convert"
	"github.com/vclink/vssclient/internal/signal"
	"github.com/vclink/vssclient/internal/subscription"
	"github.com/vclink/vssclient/internal/transport"
)

// Client is the broker client facade. All methods are safe for concurrent
// use. A Client is created disconnected; Connect establishes the channel and
// starts the reconnect supervisor.
type Client struct {
	cfg      *config.Config
	logger   *slog.Logger
	registry *subscription.Registry
	manager  *connection.Manager
}

// New creates a client from an in-code config. The config is normalized
// (defaults applied) and validated; a nil logger falls back to slog.Default.
func New(cfg *Config, logger *slog.Logger) (*Client, error) {
	if err := config.Normalize(cfg); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	registry := subscription.NewRegistry(logger.With("component", "registry"))

	opts := transport.Options{
		DialTimeout:  cfg.Connection.DialTimeout,
		WriteTimeout: cfg.Connection.WriteTimeout,
		StreamBuffer: cfg.Connection.StreamBufferSize,
	}
	dial := func() transport.Channel {
		return transport.NewWebSocket(cfg.ServerURI, opts, logger.With("component", "channel"))
	}

	manager := connection.NewManager(cfg.Connection, dial, registry, logger.With("component", "connection"))

	return &Client{
		cfg:      cfg,
		logger:   logger,
		registry: registry,
		manager:  manager,
	}, nil
}

// NewFromFile loads, validates, and normalizes a YAML config file, then
// creates a client from it.
func NewFromFile(path string, logger *slog.Logger) (*Client, error) {
	cfg, err := config.LoadAndValidate(path)
	if err != nil {
		return nil, err
	}
	return New(cfg, logger)
}

// ParseConfig loads a YAML config file, applies defaults, and validates it.
func ParseConfig(path string) (*Config, error) {
	return config.LoadAndValidate(path)
}

// Connect establishes the broker channel and starts the reconnect
// supervisor. With auto-reconnect enabled a failed attempt leaves the
// supervisor retrying in the background; the error reports only the first
// attempt's outcome.
func (c *Client) Connect(ctx context.Context) error {
	return c.manager.Connect(ctx)
}

// IsConnected reports whether the client currently holds a healthy channel.
func (c *Client) IsConnected() bool {
	return c.manager.IsConnected()
}

// SetAutoReconnect toggles background recovery after channel failures.
func (c *Client) SetAutoReconnect(enabled bool) {
	c.manager.SetAutoReconnect(enabled)
}

// Reconnect forces an immediate reconnection attempt, tearing down a healthy
// channel first. Registered subscriptions are replayed on success.
func (c *Client) Reconnect(ctx context.Context) error {
	return c.manager.Reconnect(ctx)
}

// Close shuts the client down: cancels all subscription workers, closes the
// channel, and stops the supervisor. Waits for workers up to ctx's deadline.
func (c *Client) Close(ctx context.Context) error {
	return c.manager.Shutdown(ctx)
}

// GetCurrentValue reads a signal's current value as its string form.
func (c *Client) GetCurrentValue(ctx context.Context, path string) (string, error) {
	return c.get(ctx, path, signal.FieldValue)
}

// GetTargetValue reads a signal's actuator target as its string form.
func (c *Client) GetTargetValue(ctx context.Context, path string) (string, error) {
	return c.get(ctx, path, signal.FieldActuatorTarget)
}

// GetCurrentValueAs reads a signal's current value converted to T. A value
// the broker holds that does not parse as T is a conversion error, not a
// connection problem.
func GetCurrentValueAs[T Value](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	raw, err := c.GetCurrentValue(ctx, path)
	if err != nil {
		return zero, err
	}
	return convert.As[T](raw)
}

// GetTargetValueAs reads a signal's actuator target converted to T.
func GetTargetValueAs[T Value](ctx context.Context, c *Client, path string) (T, error) {
	var zero T
	raw, err := c.GetTargetValue(ctx, path)
	if err != nil {
		return zero, err
	}
	return convert.As[T](raw)
}

// SetCurrentValue writes a signal's current value.
func (c *Client) SetCurrentValue(ctx context.Context, path, value string) error {
	return c.set(ctx, path, value, signal.FieldValue)
}

// SetTargetValue writes a signal's actuator target.
func (c *Client) SetTargetValue(ctx context.Context, path, value string) error {
	return c.set(ctx, path, value, signal.FieldActuatorTarget)
}

// StreamUpdate writes a signal's current value fire-and-continue: delivery is
// confirmed at the channel level only, with no broker response awaited. Meant
// for high-rate feeds where per-write round-trips would dominate.
func (c *Client) StreamUpdate(ctx context.Context, path, value string) error {
	_, err := c.call(ctx, transport.Request{
		Action: transport.ActionUpdate,
		Path:   path,
		Field:  int(signal.FieldValue),
		Value:  value,
		Fire:   true,
	})
	return err
}

// Subscribe registers cb for pushed updates on path's field and opens the
// subscription stream. A duplicate subscription for the same path and field
// is a silent no-op keeping the original callback. While disconnected the
// call follows the configured policy: fail fast or wait for the connection.
func (c *Client) Subscribe(ctx context.Context, path string, cb Callback, field int) error {
	key, err := c.key(path, field)
	if err != nil {
		return err
	}

	if !c.registry.Register(key, cb) {
		return nil
	}

	if _, err := c.channel(ctx); err != nil {
		c.registry.Unregister(key)
		return err
	}
	if err := c.manager.EnsureWorker(key, cb); err != nil {
		c.registry.Unregister(key)
		return err
	}
	return nil
}

// SubscribeCurrentValue subscribes to a signal's current value.
func (c *Client) SubscribeCurrentValue(ctx context.Context, path string, cb Callback) error {
	return c.Subscribe(ctx, path, cb, FieldValue)
}

// SubscribeTargetValue subscribes to a signal's actuator target.
func (c *Client) SubscribeTargetValue(ctx context.Context, path string, cb Callback) error {
	return c.Subscribe(ctx, path, cb, FieldActuatorTarget)
}

// SubscribeWithReconnect registers cb even while disconnected: the stream is
// opened when the connection is (re-)established. With the supervisor in
// place every subscription is already reconnect-aware; this variant only
// relaxes the connected-at-call-time requirement.
func (c *Client) SubscribeWithReconnect(ctx context.Context, path string, cb Callback, field int) error {
	key, err := c.key(path, field)
	if err != nil {
		return err
	}

	if !c.registry.Register(key, cb) {
		return nil
	}

	// Best effort now; the supervisor replays the registration otherwise.
	if c.manager.IsConnected() {
		if err := c.manager.EnsureWorker(key, cb); err != nil {
			c.logger.Debug("deferred subscription to reconnect", "key", key.String(), "error", err)
		}
	}
	return nil
}

// SubscribeAll subscribes cb to the current value of every configured signal
// path, in order. Returns the number of paths subscribed; on error the paths
// already subscribed stay active.
func (c *Client) SubscribeAll(ctx context.Context, cb Callback) (int, error) {
	subscribed := 0
	for _, path := range c.cfg.SignalPaths {
		if err := c.Subscribe(ctx, path, cb, FieldValue); err != nil {
			return subscribed, fmt.Errorf("subscribe %s: %w", path, err)
		}
		subscribed++
	}
	return subscribed, nil
}

// Unsubscribe removes the subscription for path's field, cancelling its
// worker. Reports whether an active subscription was removed; unsubscribing
// an unknown key is a no-op.
func (c *Client) Unsubscribe(path string, field int) bool {
	key, err := c.key(path, field)
	if err != nil {
		return false
	}
	return c.registry.Unregister(key)
}

// JoinAllSubscriptions blocks until every subscription worker has exited.
// Meaningful after Close or after cancelling subscriptions.
func (c *Client) JoinAllSubscriptions() {
	c.registry.JoinAll()
}

// JoinAllSubscriptionsWithTimeout is JoinAllSubscriptions bounded by d.
// Returns false if workers were still running when the timeout elapsed; those
// workers keep running.
func (c *Client) JoinAllSubscriptionsWithTimeout(d time.Duration) bool {
	return c.registry.JoinAllTimeout(d)
}

// DetachAllSubscriptions marks every worker fire-and-forget so later joins do
// not wait for them. Never blocks.
func (c *Client) DetachAllSubscriptions() {
	c.registry.DetachAll()
}

// GetServerInfo reports the connected broker's name and version.
func (c *Client) GetServerInfo(ctx context.Context) (ServerInfo, error) {
	resp, err := c.call(ctx, transport.Request{Action: transport.ActionServerInfo})
	if err != nil {
		return ServerInfo{}, err
	}
	if resp.Server == nil {
		return ServerInfo{}, fmt.Errorf("serverinfo: broker sent no server block")
	}
	return ServerInfo{Name: resp.Server.Name, Version: resp.Server.Version}, nil
}

func (c *Client) get(ctx context.Context, path string, field signal.Field) (string, error) {
	resp, err := c.call(ctx, transport.Request{
		Action: transport.ActionGet,
		Path:   path,
		Field:  int(field),
	})
	if err != nil {
		return "", err
	}
	return resp.Value, nil
}

func (c *Client) set(ctx context.Context, path, value string, field signal.Field) error {
	_, err := c.call(ctx, transport.Request{
		Action: transport.ActionSet,
		Path:   path,
		Field:  int(field),
		Value:  value,
	})
	return err
}

// call runs one unary request through the gateway policy and the configured
// call timeout. Channel-level failures are reported to the connection
// manager; the call itself is never retried here.
func (c *Client) call(ctx context.Context, req transport.Request) (transport.Response, error) {
	ch, err := c.channel(ctx)
	if err != nil {
		return transport.Response{}, err
	}

	cctx, cancel := context.WithTimeout(ctx, c.cfg.Gateway.CallTimeout)
	defer cancel()

	resp, err := ch.Call(cctx, req)
	if err != nil {
		if !transport.IsRemote(err) && ctx.Err() == nil && cctx.Err() == nil {
			c.manager.ReportFailure(err)
		}
		return transport.Response{}, err
	}
	return resp, nil
}

// channel resolves the live channel under the configured disconnected
// policy: fail fast, or wait for the supervisor bounded by the connect wait
// timeout.
func (c *Client) channel(ctx context.Context) (transport.Channel, error) {
	ch, err := c.manager.Channel()
	if err == nil {
		return ch, nil
	}
	if c.cfg.Gateway.OnDisconnected != config.PolicyWait {
		return nil, err
	}

	wctx, cancel := context.WithTimeout(ctx, c.cfg.Gateway.ConnectWaitTimeout)
	defer cancel()
	if werr := c.manager.WaitConnected(wctx); werr != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if errors.Is(werr, ErrShutdown) {
			return nil, werr
		}
		return nil, fmt.Errorf("waited %s for connection: %w", c.cfg.Gateway.ConnectWaitTimeout, ErrNotConnected)
	}
	return c.manager.Channel()
}

func (c *Client) key(path string, field int) (signal.Key, error) {
	f := signal.Field(field)
	if !f.Valid() {
		return signal.Key{}, fmt.Errorf("invalid field selector %d", field)
	}
	return signal.Key{Path: path, Field: f}, nil
}
