package connection_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/vclink/vssclient/internal/brokertest"
	"github.com/vclink/vssclient/internal/config"
	"github.com/vclink/vssclient/internal/connection"
	"github.com/vclink/vssclient/internal/signal"
	"github.com/vclink/vssclient/internal/subscription"
	"github.com/vclink/vssclient/internal/transport"
)

func testConnConfig() config.ConnectionConfig {
	return config.ConnectionConfig{
		ReconnectBaseDelay: 50 * time.Millisecond,
		ReconnectMaxDelay:  500 * time.Millisecond,
		DialTimeout:        2 * time.Second,
		WriteTimeout:       2 * time.Second,
		StreamBufferSize:   64,
	}
}

func newManager(uri string) (*connection.Manager, *subscription.Registry) {
	cfg := testConnConfig()
	registry := subscription.NewRegistry(nil)
	dial := func() transport.Channel {
		return transport.NewWebSocket(uri, transport.Options{
			DialTimeout:  cfg.DialTimeout,
			WriteTimeout: cfg.WriteTimeout,
			StreamBuffer: cfg.StreamBufferSize,
		}, nil)
	}
	return connection.NewManager(cfg, dial, registry, nil), registry
}

func waitFor(t *testing.T, d time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

// stalledChannel blocks in Open until released, standing in for a broker
// that accepts the TCP connection but never completes the handshake.
type stalledChannel struct {
	release chan struct{}
	errs    chan error
}

func newStalledChannel() *stalledChannel {
	return &stalledChannel{
		release: make(chan struct{}),
		errs:    make(chan error, 1),
	}
}

func (c *stalledChannel) Open(ctx context.Context) error {
	select {
	case <-c.release:
		return errors.New("handshake refused")
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *stalledChannel) Close() error { return nil }

func (c *stalledChannel) Call(ctx context.Context, req transport.Request) (transport.Response, error) {
	return transport.Response{}, transport.ErrNotOpen
}

func (c *stalledChannel) Subscribe(ctx context.Context, key signal.Key) (transport.Stream, error) {
	return nil, transport.ErrNotOpen
}

func (c *stalledChannel) Errors() <-chan error { return c.errs }
func (c *stalledChannel) Alive() bool          { return false }

func newStalledManager(ch *stalledChannel) (*connection.Manager, *subscription.Registry) {
	registry := subscription.NewRegistry(nil)
	dial := func() transport.Channel { return ch }
	return connection.NewManager(testConnConfig(), dial, registry, nil), registry
}

func TestConnect_StateTracking(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, _ := newManager(broker.URL())
	defer mgr.Shutdown(context.Background())

	if mgr.IsConnected() {
		t.Error("IsConnected = true before Connect")
	}
	if mgr.State() != connection.StateDisconnected {
		t.Errorf("initial state = %s", mgr.State())
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	if !mgr.IsConnected() {
		t.Error("IsConnected = false after successful Connect")
	}

	// Connect while Connected is a no-op.
	if err := mgr.Connect(ctx); err != nil {
		t.Errorf("second Connect failed: %v", err)
	}
}

func TestConnect_UnreachableWithAutoReconnect(t *testing.T) {
	mgr, _ := newManager("ws://127.0.0.1:1")
	defer mgr.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err == nil {
		t.Fatal("Connect to unreachable address succeeded")
	}

	if got := mgr.State(); got != connection.StateBroken {
		t.Errorf("state after failed connect = %s, want broken", got)
	}
	if mgr.IsConnected() {
		t.Error("IsConnected = true while Broken")
	}
}

func TestConnect_UnreachableWithoutAutoReconnect(t *testing.T) {
	mgr, _ := newManager("ws://127.0.0.1:1")
	defer mgr.Shutdown(context.Background())

	mgr.SetAutoReconnect(false)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err == nil {
		t.Fatal("Connect to unreachable address succeeded")
	}
	if got := mgr.State(); got != connection.StateDisconnected {
		t.Errorf("state after failed connect = %s, want disconnected", got)
	}
}

func TestChannel_FailsFastDuringDial(t *testing.T) {
	stalled := newStalledChannel()
	mgr, _ := newStalledManager(stalled)
	defer mgr.Shutdown(context.Background())

	mgr.SetAutoReconnect(false)

	connectErr := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		connectErr <- mgr.Connect(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return mgr.State() == connection.StateConnecting },
		"manager never entered connecting")

	// Fail-fast callers must not queue behind the in-flight dial.
	start := time.Now()
	_, err := mgr.Channel()
	if !errors.Is(err, connection.ErrNotConnected) {
		t.Fatalf("Channel() during dial = %v, want ErrNotConnected", err)
	}
	if elapsed := time.Since(start); elapsed > 200*time.Millisecond {
		t.Errorf("Channel() blocked %s behind the dial", elapsed)
	}

	close(stalled.release)
	if err := <-connectErr; err == nil {
		t.Fatal("Connect succeeded against a refused handshake")
	}
}

func TestConnect_SharedAttemptFailure(t *testing.T) {
	stalled := newStalledChannel()
	mgr, _ := newStalledManager(stalled)
	defer mgr.Shutdown(context.Background())

	mgr.SetAutoReconnect(false)

	first := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		first <- mgr.Connect(ctx)
	}()

	waitFor(t, 2*time.Second, func() bool { return mgr.State() == connection.StateConnecting },
		"manager never entered connecting")

	// Second caller arrives while the first attempt is still dialing.
	second := make(chan error, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		second <- mgr.Connect(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	close(stalled.release)

	if err := <-first; err == nil {
		t.Fatal("first Connect succeeded against a refused handshake")
	}

	// The parked caller gets the shared attempt's failure instead of
	// waiting for a success that will never come.
	select {
	case err := <-second:
		if err == nil {
			t.Fatal("second Connect reported success after the shared attempt failed")
		}
	case <-time.After(time.Second):
		t.Fatal("second Connect still blocked after the shared attempt failed")
	}
}

func TestSupervisor_RecoversWithoutCallerRetry(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, _ := newManager(broker.URL())
	defer mgr.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	broker.KillConnections()

	waitFor(t, 2*time.Second, func() bool { return !mgr.IsConnected() },
		"manager never observed the channel failure")

	// No caller-initiated retry: the supervisor reconnects on its own.
	waitFor(t, 5*time.Second, mgr.IsConnected,
		"supervisor never re-established the connection")
}

func TestReportFailure_OncePerEpisode(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, _ := newManager(broker.URL())
	defer mgr.Shutdown(context.Background())

	mgr.SetAutoReconnect(false)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	failure := errors.New("simulated transport failure")
	mgr.ReportFailure(failure)

	if got := mgr.State(); got != connection.StateBroken {
		t.Fatalf("state after ReportFailure = %s, want broken", got)
	}

	// Repeat reports while Broken are no-ops: state stays Broken and the
	// manager does not panic or regress.
	mgr.ReportFailure(failure)
	mgr.ReportFailure(failure)
	if got := mgr.State(); got != connection.StateBroken {
		t.Errorf("state after repeated reports = %s, want broken", got)
	}
}

func TestReconnect_RestoresSubscriptions(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, registry := newManager(broker.URL())
	defer mgr.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	// Three live subscriptions, each counting deliveries.
	var counts [3]atomic.Int64
	keys := []signal.Key{
		{Path: "Vehicle.Speed", Field: signal.FieldValue},
		{Path: "Vehicle.Cabin.Temp", Field: signal.FieldValue},
		{Path: "Vehicle.Cabin.Temp", Field: signal.FieldActuatorTarget},
	}
	for i, key := range keys {
		i := i
		cb := func(path, value string, field int) {
			counts[i].Add(1)
		}
		registry.Register(key, cb)
		if err := mgr.EnsureWorker(key, cb); err != nil {
			t.Fatalf("EnsureWorker(%s) failed: %v", key, err)
		}
	}

	waitFor(t, 2*time.Second, func() bool { return broker.SubscriptionCount() == 3 },
		"broker never saw 3 subscriptions")

	broker.KillConnections()

	waitFor(t, 5*time.Second, func() bool {
		return mgr.IsConnected() && broker.SubscriptionCount() == 3
	}, "subscriptions were not restored after reconnect")

	// Exactly one worker per key: no duplicate streams after recovery.
	if got := registry.Len(); got != 3 {
		t.Errorf("registry.Len() = %d, want 3", got)
	}
	if subs := broker.SubscriptionCount(); subs != 3 {
		t.Errorf("broker subscriptions = %d, want 3", subs)
	}

	// Updates flow to the original callbacks again.
	broker.Push("Vehicle.Speed", int(signal.FieldValue), "120")
	waitFor(t, 2*time.Second, func() bool { return counts[0].Load() >= 1 },
		"no update delivered after reconnect")
}

func TestReconnect_Forced(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, _ := newManager(broker.URL())
	defer mgr.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}
	dialsBefore := broker.Dials()

	if err := mgr.Reconnect(ctx); err != nil {
		t.Fatalf("forced Reconnect failed: %v", err)
	}
	if !mgr.IsConnected() {
		t.Error("IsConnected = false after forced reconnect")
	}
	if broker.Dials() <= dialsBefore {
		t.Error("forced reconnect did not dial a fresh connection")
	}
}

func TestWaitConnected(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, _ := newManager(broker.URL())
	defer mgr.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var wg sync.WaitGroup
	wg.Add(1)
	errCh := make(chan error, 1)
	go func() {
		defer wg.Done()
		errCh <- mgr.WaitConnected(ctx)
	}()

	time.Sleep(50 * time.Millisecond)
	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	wg.Wait()
	if err := <-errCh; err != nil {
		t.Errorf("WaitConnected = %v, want nil", err)
	}
}

func TestWaitConnected_Timeout(t *testing.T) {
	mgr, _ := newManager("ws://127.0.0.1:1")
	defer mgr.Shutdown(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	if err := mgr.WaitConnected(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitConnected = %v, want deadline exceeded", err)
	}
}

func TestShutdown_JoinsWorkers(t *testing.T) {
	broker := brokertest.New()
	defer broker.Close()

	mgr, registry := newManager(broker.URL())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := mgr.Connect(ctx); err != nil {
		t.Fatalf("Connect failed: %v", err)
	}

	key := signal.Key{Path: "a.b", Field: signal.FieldValue}
	cb := func(path, value string, field int) {}
	registry.Register(key, cb)
	if err := mgr.EnsureWorker(key, cb); err != nil {
		t.Fatalf("EnsureWorker failed: %v", err)
	}

	shutdownCtx, cancel2 := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel2()
	if err := mgr.Shutdown(shutdownCtx); err != nil {
		t.Errorf("Shutdown = %v", err)
	}

	if mgr.State() != connection.StateDisconnected {
		t.Errorf("state after shutdown = %s, want disconnected", mgr.State())
	}
	if registry.Len() != 0 {
		t.Errorf("registry.Len() = %d after shutdown, want 0", registry.Len())
	}

	if err := mgr.Connect(ctx); !errors.Is(err, connection.ErrShutdown) {
		t.Errorf("Connect after Shutdown = %v, want ErrShutdown", err)
	}
}
