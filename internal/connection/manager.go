package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/vclink/vssclient/internal/config"
	"github.com/vclink/vssclient/internal/signal"
	"github.com/vclink/vssclient/internal/subscription"
	"github.com/vclink/vssclient/internal/transport"
)

// ErrNotConnected is returned when an operation requires a Connected state
// and the fail-fast policy is active.
var ErrNotConnected = errors.New("connection: not connected to broker")

// ErrShutdown is returned for operations after Shutdown.
var ErrShutdown = errors.New("connection: client is shut down")

// ChannelFactory produces a fresh unopened channel. The manager discards a
// channel on every failure and asks the factory for a new one.
type ChannelFactory func() transport.Channel

// Manager owns the RPC channel and the connection state machine. It is the
// only component that creates or destroys channels; workers and the gateway
// borrow the current handle through Channel and must re-fetch it after any
// failure, since a reconnect swaps it.
type Manager struct {
	cfg      config.ConnectionConfig
	logger   *slog.Logger
	dial     ChannelFactory
	registry *subscription.Registry

	state         atomic.Int32
	autoReconnect atomic.Bool

	// mu serializes state transitions and channel ownership. Never held
	// across network I/O; the Connecting state is what keeps concurrent
	// attempts from racing while the dial runs unlocked.
	mu          sync.Mutex
	channel     transport.Channel
	channelStop chan struct{}
	connectedCh chan struct{}

	// attemptDone is non-nil while an attempt is in flight and is closed
	// when that attempt resolves, success or failure. Guarded by mu.
	attemptDone chan struct{}

	// failCh wakes the supervisor on a Connected-to-Broken transition.
	failCh chan struct{}

	supervisorOnce sync.Once
	shutdownCh     chan struct{}
	shutdownOnce   sync.Once

	// baseCtx bounds every spawned worker; cancelled on Shutdown.
	baseCtx    context.Context
	baseCancel context.CancelFunc
}

// NewManager creates a manager in the Disconnected state.
func NewManager(cfg config.ConnectionConfig, dial ChannelFactory, registry *subscription.Registry, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		cfg:         cfg,
		logger:      logger,
		dial:        dial,
		registry:    registry,
		connectedCh: make(chan struct{}),
		failCh:      make(chan struct{}, 1),
		shutdownCh:  make(chan struct{}),
		baseCtx:     ctx,
		baseCancel:  cancel,
	}
	m.state.Store(int32(StateDisconnected))
	m.autoReconnect.Store(cfg.AutoReconnectEnabled())
	return m
}

// State returns the current connection state. Safe from any goroutine.
func (m *Manager) State() State {
	return State(m.state.Load())
}

// IsConnected reports whether the state is exactly Connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SetAutoReconnect toggles whether channel failures trigger the supervisor.
func (m *Manager) SetAutoReconnect(enabled bool) {
	m.autoReconnect.Store(enabled)
}

// AutoReconnect reports the current auto-reconnect setting.
func (m *Manager) AutoReconnect() bool {
	return m.autoReconnect.Load()
}

// Registry returns the subscription registry this manager replays from.
func (m *Manager) Registry() *subscription.Registry {
	return m.registry
}

// WorkerContext returns the context bounding all subscription workers.
func (m *Manager) WorkerContext() context.Context {
	return m.baseCtx
}

// Connect establishes the channel if the state is Disconnected or Broken and
// starts the reconnect supervisor (idempotent). A failed attempt leaves the
// state Broken when auto-reconnect is enabled, in which case the supervisor
// keeps retrying, or Disconnected when it is not.
func (m *Manager) Connect(ctx context.Context) error {
	if m.shuttingDown() {
		return ErrShutdown
	}

	m.startSupervisor()

	if m.IsConnected() {
		return nil
	}
	return m.attempt(ctx)
}

// Reconnect forces an immediate reconnection attempt regardless of the
// supervisor's timer phase and blocks until it resolves. An existing healthy
// channel is torn down first.
func (m *Manager) Reconnect(ctx context.Context) error {
	if m.shuttingDown() {
		return ErrShutdown
	}

	m.startSupervisor()

	m.mu.Lock()
	if m.State() == StateConnected {
		m.logger.Info("tearing down healthy channel for forced reconnect")
		m.breakLocked()
	}
	m.mu.Unlock()

	return m.attempt(ctx)
}

// Channel returns the live channel handle. Valid only while Connected; the
// handle is swapped on reconnect, so callers re-fetch it per operation.
func (m *Manager) Channel() (transport.Channel, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != StateConnected || m.channel == nil {
		return nil, ErrNotConnected
	}
	return m.channel, nil
}

// WaitConnected blocks until the state is Connected or ctx expires.
func (m *Manager) WaitConnected(ctx context.Context) error {
	for {
		m.mu.Lock()
		if m.State() == StateConnected {
			m.mu.Unlock()
			return nil
		}
		ch := m.connectedCh
		m.mu.Unlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-m.shutdownCh:
			return ErrShutdown
		case <-ch:
		}
	}
}

// ReportFailure records a channel-level failure observed by any in-flight
// call or worker. The Connected-to-Broken transition happens exactly once
// per failure episode; reports while already Broken are no-ops.
func (m *Manager) ReportFailure(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.State() != StateConnected {
		return
	}

	m.logger.Warn("channel failure reported", "error", err)
	m.breakLocked()
}

// breakLocked tears down the current channel and moves to Broken, waking the
// supervisor. Caller holds mu.
func (m *Manager) breakLocked() {
	m.setStateLocked(StateBroken)
	m.closeChannelLocked()

	select {
	case m.failCh <- struct{}{}:
	default:
	}
}

// EnsureWorker spawns a worker for an already-registered key if none is
// live. Requires Connected.
func (m *Manager) EnsureWorker(key signal.Key, cb signal.Callback) error {
	ch, err := m.Channel()
	if err != nil {
		return err
	}

	if w := m.registry.Worker(key); w != nil && !w.Exited() {
		return nil
	}

	w := subscription.Spawn(m.baseCtx, ch, key, cb, m, m.logger)
	m.registry.Attach(key, w)
	return nil
}

// Shutdown cancels all workers, closes the channel, and stops the
// supervisor. It waits for workers to exit up to ctx's deadline; stragglers
// keep draining in the background past that.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.shutdownOnce.Do(func() {
		close(m.shutdownCh)
	})

	m.baseCancel()
	m.registry.CancelAll()

	done := make(chan struct{})
	go func() {
		m.registry.JoinAll()
		close(done)
	}()

	var err error
	select {
	case <-done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timed out waiting for workers")
		err = ctx.Err()
	}

	m.mu.Lock()
	m.setStateLocked(StateDisconnected)
	m.closeChannelLocked()
	m.mu.Unlock()

	m.registry.Clear()

	m.logger.Info("connection manager shut down")
	return err
}

// attempt performs one full connection attempt: Connecting, dial, Connected
// plus subscription replay on success; Broken or Disconnected on failure.
// The dial itself runs with mu released so fail-fast callers are never
// stalled behind it; the Connecting state serializes attempts, and a second
// caller arriving mid-attempt waits for the in-flight outcome instead.
func (m *Manager) attempt(ctx context.Context) error {
	m.mu.Lock()

	switch m.State() {
	case StateConnected:
		m.mu.Unlock()
		return nil
	case StateConnecting:
		done := m.attemptDone
		m.mu.Unlock()
		return m.awaitAttempt(ctx, done)
	}

	m.setStateLocked(StateConnecting)
	done := make(chan struct{})
	m.attemptDone = done
	m.mu.Unlock()

	ch := m.dial()
	err := ch.Open(ctx)

	m.mu.Lock()
	m.attemptDone = nil

	if err != nil {
		if m.shuttingDown() || !m.autoReconnect.Load() {
			m.setStateLocked(StateDisconnected)
		} else {
			m.setStateLocked(StateBroken)
			// Wake the supervisor so a failed caller attempt still gets
			// retried in the background.
			select {
			case m.failCh <- struct{}{}:
			default:
			}
		}
		m.mu.Unlock()
		close(done)
		return fmt.Errorf("connect broker: %w", err)
	}

	if m.shuttingDown() {
		// Shutdown ran while we were dialing; it never saw this channel.
		m.setStateLocked(StateDisconnected)
		m.mu.Unlock()
		close(done)
		ch.Close()
		return ErrShutdown
	}

	m.channel = ch
	stop := make(chan struct{})
	m.channelStop = stop
	m.setStateLocked(StateConnected)

	// Wake anyone blocked in WaitConnected.
	close(m.connectedCh)
	m.connectedCh = make(chan struct{})

	m.mu.Unlock()
	close(done)

	go m.watchChannel(ch, stop)

	m.logger.Info("connected to broker")

	m.respawnSubscriptions(ch)
	return nil
}

// awaitAttempt blocks until the attempt signalled by done resolves, then
// reports its outcome.
func (m *Manager) awaitAttempt(ctx context.Context, done <-chan struct{}) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-m.shutdownCh:
		return ErrShutdown
	case <-done:
	}

	if m.IsConnected() {
		return nil
	}
	return ErrNotConnected
}

// shuttingDown reports whether Shutdown has started. Safe with or without mu.
func (m *Manager) shuttingDown() bool {
	select {
	case <-m.shutdownCh:
		return true
	default:
		return false
	}
}

// watchChannel forwards the channel's failure (if any) to ReportFailure, so
// a silent connection with no in-flight calls still detects loss.
func (m *Manager) watchChannel(ch transport.Channel, stop chan struct{}) {
	select {
	case err := <-ch.Errors():
		m.ReportFailure(err)
	case <-stop:
	case <-m.shutdownCh:
	}
}

// respawnSubscriptions spawns a fresh worker for every registered record
// whose previous worker has exited, preserving the original callbacks.
func (m *Manager) respawnSubscriptions(ch transport.Channel) {
	records := m.registry.Snapshot()
	respawned := 0

	for _, rec := range records {
		if !m.registry.NeedsRespawn(rec) {
			continue
		}
		w := subscription.Spawn(m.baseCtx, ch, rec.Key, rec.Callback, m, m.logger)
		m.registry.Attach(rec.Key, w)
		respawned++
	}

	if respawned > 0 {
		m.logger.Info("restored subscriptions", "count", respawned, "registered", len(records))
	}
}

// startSupervisor launches the reconnect supervisor once per manager.
func (m *Manager) startSupervisor() {
	m.supervisorOnce.Do(func() {
		go m.supervise()
	})
}

// supervise is the reconnect loop: it wakes on a failure signal or its
// backoff timer and keeps attempting while the state is Broken and
// auto-reconnect is on. All recovery is centralized here; workers never
// retry on their own.
func (m *Manager) supervise() {
	backoff := m.cfg.ReconnectBaseDelay

	for {
		if m.State() != StateBroken || !m.autoReconnect.Load() {
			select {
			case <-m.shutdownCh:
				return
			case <-m.failCh:
				backoff = m.cfg.ReconnectBaseDelay
				continue
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), m.cfg.DialTimeout)
		err := m.attempt(ctx)
		cancel()

		if err == nil {
			backoff = m.cfg.ReconnectBaseDelay
			continue
		}

		m.logger.Warn("reconnect attempt failed", "error", err, "retry_in", backoff)

		// Our own failed attempt queued a wake-up; drop it so the backoff
		// timer below actually applies.
		select {
		case <-m.failCh:
		default:
		}

		timer := time.NewTimer(backoff)
		select {
		case <-m.shutdownCh:
			timer.Stop()
			return
		case <-m.failCh:
			// Already Broken; treat the extra signal as an immediate
			// retry request.
			timer.Stop()
		case <-timer.C:
		}

		backoff *= 2
		if backoff > m.cfg.ReconnectMaxDelay {
			backoff = m.cfg.ReconnectMaxDelay
		}
	}
}

// setStateLocked applies a transition. An illegal edge is logged and
// ignored. Caller holds mu.
func (m *Manager) setStateLocked(to State) {
	from := m.State()
	if from == to {
		return
	}
	if !validTransition(from, to) {
		m.logger.Error("illegal state transition ignored", "from", from.String(), "to", to.String())
		return
	}

	m.state.Store(int32(to))
	m.logger.Debug("connection state changed", "from", from.String(), "to", to.String())
}

// closeChannelLocked destroys the current channel handle. Caller holds mu.
func (m *Manager) closeChannelLocked() {
	if m.channelStop != nil {
		close(m.channelStop)
		m.channelStop = nil
	}
	if m.channel != nil {
		m.channel.Close()
		m.channel = nil
	}
}
