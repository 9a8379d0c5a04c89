package transport

import (
	"errors"
	"fmt"
)

var (
	// ErrNotOpen is returned when a call is issued before Open succeeds or
	// after the channel failed.
	ErrNotOpen = errors.New("transport: channel not open")

	// ErrAlreadyOpen is returned by a second Open on the same channel.
	ErrAlreadyOpen = errors.New("transport: channel already opened")

	// ErrClosed is returned for operations on a closed channel.
	ErrClosed = errors.New("transport: channel closed")

	// ErrStreamCanceled is returned by Recv after the stream was cancelled.
	// It is a clean exit, not a channel failure.
	ErrStreamCanceled = errors.New("transport: stream canceled")
)

// RemoteError is a broker-side rejection: unknown path, malformed payload, or
// a refused request. It is an application-level outcome and never indicates
// that the channel is unhealthy.
type RemoteError struct {
	Code    string
	Message string
}

func (e *RemoteError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("broker rejected request (%s)", e.Code)
	}
	return fmt.Sprintf("broker rejected request (%s): %s", e.Code, e.Message)
}

// IsRemote reports whether err is a broker rejection rather than a channel
// failure.
func IsRemote(err error) bool {
	var re *RemoteError
	return errors.As(err, &re)
}
