package transport

import (
	"context"
	"time"

	"github.com/vclink/vssclient/internal/signal"
)

// Wire actions understood by the broker.
const (
	ActionGet         = "get"
	ActionSet         = "set"
	ActionUpdate      = "update"
	ActionSubscribe   = "subscribe"
	ActionUnsubscribe = "unsubscribe"
	ActionServerInfo  = "serverinfo"

	// ActionSubscription marks a server-pushed update for an active
	// subscription. Never sent by the client.
	ActionSubscription = "subscription"
)

// Request is one client-to-broker envelope. RequestID is filled in by the
// channel when empty.
type Request struct {
	Action         string `json:"action"`
	RequestID      string `json:"requestId,omitempty"`
	Path           string `json:"path,omitempty"`
	Field          int    `json:"field,omitempty"`
	Value          string `json:"value,omitempty"`
	SubscriptionID string `json:"subscriptionId,omitempty"`

	// Fire disables response correlation: the request is delivered on a
	// best-effort basis with channel-level confirmation only.
	Fire bool `json:"-"`
}

// Response is one broker-to-client envelope.
type Response struct {
	Action         string     `json:"action"`
	RequestID      string     `json:"requestId,omitempty"`
	Path           string     `json:"path,omitempty"`
	Field          int        `json:"field,omitempty"`
	Value          string     `json:"value,omitempty"`
	SubscriptionID string     `json:"subscriptionId,omitempty"`
	Server         *Server    `json:"server,omitempty"`
	Error          *wireError `json:"error,omitempty"`
}

// Server describes the broker, as reported by a serverinfo call.
type Server struct {
	Name    string `json:"name"`
	Version string `json:"version"`
}

// wireError is the broker's rejection payload.
type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Channel is an open RPC channel to the broker: unary calls plus
// server-streaming subscriptions. Implementations must be safe for
// concurrent use.
type Channel interface {
	// Open establishes the channel. A channel opens at most once; after a
	// failure the owner discards it and opens a fresh one.
	Open(ctx context.Context) error

	// Close tears the channel down. Safe to call more than once.
	Close() error

	// Call performs one request/response round-trip. A *RemoteError return
	// means the broker rejected the request; any other error means the
	// channel itself failed.
	Call(ctx context.Context, req Request) (Response, error)

	// Subscribe opens a server-streaming call for one subscription key.
	Subscribe(ctx context.Context, key signal.Key) (Stream, error)

	// Errors delivers at most one channel-level failure, observed by the
	// read loop. Clean Close does not produce an error.
	Errors() <-chan error

	// Alive reports whether the channel is currently usable.
	Alive() bool
}

// Stream is one active server-streaming subscription.
type Stream interface {
	// Recv blocks for the next pushed update. It returns ErrStreamCanceled
	// after Cancel, or a channel-level error if the transport failed.
	// Updates for one stream are delivered in broker push order.
	Recv(ctx context.Context) (signal.Update, error)

	// Cancel ends the stream. It requests an unsubscribe from the broker on
	// a best-effort basis and releases local resources. Idempotent.
	Cancel()
}

// Options tunes the WebSocket channel.
type Options struct {
	DialTimeout  time.Duration
	WriteTimeout time.Duration

	// StreamBuffer is the per-subscription buffer between the read loop and
	// the consuming worker.
	StreamBuffer int
}
