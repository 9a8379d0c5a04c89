package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/vclink/vssclient/internal/signal"
)

// wsChannel is the WebSocket implementation of Channel. One goroutine (the
// read loop) owns all reads; writes are serialized by writeMu. A channel is
// single-use: once its read loop exits with an error the owner opens a new
// one.
type wsChannel struct {
	uri    string
	opts   Options
	logger *slog.Logger

	conn *websocket.Conn

	mu     sync.RWMutex
	opened bool
	alive  bool
	closed bool

	writeMu sync.Mutex

	done   chan struct{}
	errors chan error

	pendingMu sync.Mutex
	pending   map[string]chan Response

	streamsMu sync.Mutex
	streams   map[string]*wsStream
}

// NewWebSocket creates an unopened WebSocket channel to uri.
func NewWebSocket(uri string, opts Options, logger *slog.Logger) Channel {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.DialTimeout == 0 {
		opts.DialTimeout = 10 * time.Second
	}
	if opts.WriteTimeout == 0 {
		opts.WriteTimeout = 5 * time.Second
	}
	if opts.StreamBuffer == 0 {
		opts.StreamBuffer = 256
	}

	return &wsChannel{
		uri:     uri,
		opts:    opts,
		logger:  logger,
		done:    make(chan struct{}),
		errors:  make(chan error, 1),
		pending: make(map[string]chan Response),
		streams: make(map[string]*wsStream),
	}
}

func (c *wsChannel) Open(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.opened {
		c.mu.Unlock()
		return ErrAlreadyOpen
	}
	c.opened = true
	c.mu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: c.opts.DialTimeout,
	}

	conn, _, err := dialer.DialContext(ctx, c.uri, nil)
	if err != nil {
		return fmt.Errorf("dial broker: %w", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.alive = true
	c.mu.Unlock()

	go c.readLoop()

	c.logger.Debug("channel opened", "uri", c.uri)
	return nil
}

func (c *wsChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.alive = false
	conn := c.conn
	c.mu.Unlock()

	close(c.done)

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
		conn.Close()
	}

	c.terminateStreams(ErrStreamCanceled)
	c.failPending(ErrClosed)

	return nil
}

func (c *wsChannel) Alive() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.alive
}

func (c *wsChannel) Errors() <-chan error {
	return c.errors
}

// Call performs one correlated request/response round-trip. Fire requests
// return after the write succeeds.
func (c *wsChannel) Call(ctx context.Context, req Request) (Response, error) {
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}

	if req.Fire {
		return Response{}, c.send(req)
	}

	respCh := make(chan Response, 1)
	c.pendingMu.Lock()
	c.pending[req.RequestID] = respCh
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, req.RequestID)
		c.pendingMu.Unlock()
	}()

	if err := c.send(req); err != nil {
		return Response{}, err
	}

	select {
	case <-ctx.Done():
		return Response{}, ctx.Err()
	case <-c.done:
		return Response{}, ErrClosed
	case resp, ok := <-respCh:
		if !ok {
			// Pending set was torn down by a channel failure.
			return Response{}, ErrNotOpen
		}
		if resp.Error != nil {
			return Response{}, &RemoteError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp, nil
	}
}

// Subscribe opens a server-streaming call. The subscription ID is generated
// client-side and registered before the subscribe request goes out, so pushes
// arriving immediately after the broker's confirmation cannot be lost.
func (c *wsChannel) Subscribe(ctx context.Context, key signal.Key) (Stream, error) {
	subID := uuid.NewString()

	st := &wsStream{
		channel: c,
		id:      subID,
		key:     key,
		events:  make(chan signal.Update, c.opts.StreamBuffer),
		done:    make(chan struct{}),
	}

	c.streamsMu.Lock()
	c.streams[subID] = st
	c.streamsMu.Unlock()

	_, err := c.Call(ctx, Request{
		Action:         ActionSubscribe,
		Path:           key.Path,
		Field:          int(key.Field),
		SubscriptionID: subID,
	})
	if err != nil {
		c.streamsMu.Lock()
		delete(c.streams, subID)
		c.streamsMu.Unlock()
		return nil, err
	}

	c.logger.Debug("subscribed", "path", key.Path, "field", key.Field, "subscription_id", subID)
	return st, nil
}

// send marshals and writes one envelope under the write lock.
func (c *wsChannel) send(req Request) error {
	c.mu.RLock()
	alive := c.alive
	conn := c.conn
	c.mu.RUnlock()

	if !alive || conn == nil {
		return ErrNotOpen
	}

	data, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write request: %w", err)
	}
	return nil
}

// readLoop reads every envelope off the wire and routes it to the waiting
// caller or subscription stream.
func (c *wsChannel) readLoop() {
	for {
		select {
		case <-c.done:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-c.done:
				// Clean close already tore everything down.
			default:
				c.fail(err)
			}
			return
		}

		var resp Response
		if err := json.Unmarshal(data, &resp); err != nil {
			c.logger.Warn("dropping unparseable message", "error", err)
			continue
		}

		if resp.Action == ActionSubscription {
			c.routeEvent(resp)
			continue
		}

		c.routeResponse(resp)
	}
}

// fail records a channel-level failure exactly once and wakes everything
// blocked on this channel.
func (c *wsChannel) fail(err error) {
	c.mu.Lock()
	c.alive = false
	c.mu.Unlock()

	select {
	case c.errors <- err:
	default:
	}

	c.failPending(err)
	c.terminateStreams(err)

	c.logger.Warn("channel failed", "error", err)
}

func (c *wsChannel) failPending(err error) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	for id, ch := range c.pending {
		delete(c.pending, id)
		close(ch)
	}
}

func (c *wsChannel) terminateStreams(err error) {
	c.streamsMu.Lock()
	streams := make([]*wsStream, 0, len(c.streams))
	for id, st := range c.streams {
		streams = append(streams, st)
		delete(c.streams, id)
	}
	c.streamsMu.Unlock()

	for _, st := range streams {
		st.terminate(err)
	}
}

func (c *wsChannel) routeResponse(resp Response) {
	c.pendingMu.Lock()
	ch, ok := c.pending[resp.RequestID]
	if ok {
		delete(c.pending, resp.RequestID)
	}
	c.pendingMu.Unlock()

	if !ok {
		c.logger.Debug("response with no waiter", "action", resp.Action, "request_id", resp.RequestID)
		return
	}

	ch <- resp
}

func (c *wsChannel) routeEvent(resp Response) {
	c.streamsMu.Lock()
	st, ok := c.streams[resp.SubscriptionID]
	c.streamsMu.Unlock()

	if !ok {
		c.logger.Debug("push for unknown subscription", "subscription_id", resp.SubscriptionID)
		return
	}

	update := signal.Update{
		Path:  resp.Path,
		Value: resp.Value,
		Field: signal.Field(resp.Field),
	}

	select {
	case st.events <- update:
	case <-st.done:
	default:
		c.logger.Warn("stream buffer full, dropping update",
			"path", resp.Path,
			"subscription_id", resp.SubscriptionID,
		)
	}
}

// wsStream is one active subscription on a wsChannel.
type wsStream struct {
	channel *wsChannel
	id      string
	key     signal.Key

	events chan signal.Update

	once sync.Once
	done chan struct{}

	errMu sync.Mutex
	err   error
}

func (s *wsStream) Recv(ctx context.Context) (signal.Update, error) {
	// Drain buffered updates before observing termination so pushes that
	// arrived ahead of a cancel or failure are not lost.
	select {
	case u := <-s.events:
		return u, nil
	default:
	}

	select {
	case u := <-s.events:
		return u, nil
	case <-ctx.Done():
		return signal.Update{}, ctx.Err()
	case <-s.done:
		s.errMu.Lock()
		defer s.errMu.Unlock()
		return signal.Update{}, s.err
	}
}

func (s *wsStream) Cancel() {
	s.channel.streamsMu.Lock()
	delete(s.channel.streams, s.id)
	s.channel.streamsMu.Unlock()

	s.terminate(ErrStreamCanceled)

	// Best-effort unsubscribe; the broker drops the subscription with the
	// connection anyway if this fails.
	if s.channel.Alive() {
		ctx, cancel := context.WithTimeout(context.Background(), s.channel.opts.WriteTimeout)
		defer cancel()
		_, err := s.channel.Call(ctx, Request{
			Action:         ActionUnsubscribe,
			SubscriptionID: s.id,
		})
		if err != nil {
			s.channel.logger.Debug("unsubscribe failed", "subscription_id", s.id, "error", err)
		}
	}
}

func (s *wsStream) terminate(err error) {
	s.once.Do(func() {
		s.errMu.Lock()
		s.err = err
		s.errMu.Unlock()
		close(s.done)
	})
}
