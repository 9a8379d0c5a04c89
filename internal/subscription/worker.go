package subscription

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"

	"github.com/vclink/vssclient/internal/signal"
	"github.com/vclink/vssclient/internal/transport"
)

// FailureReporter receives channel-level failures observed by workers.
// Implemented by the connection manager.
type FailureReporter interface {
	ReportFailure(err error)
}

// Worker consumes one subscription stream and dispatches every pushed update
// to the record's callback. It never retries on its own: on channel failure
// it reports once and exits, leaving its record for the supervisor to
// respawn.
type Worker struct {
	key      signal.Key
	callback signal.Callback
	logger   *slog.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	detached atomic.Bool
}

// Spawn starts a worker for key on ch. The worker's lifetime is bounded by
// ctx and by its own Cancel.
func Spawn(ctx context.Context, ch transport.Channel, key signal.Key, cb signal.Callback, reporter FailureReporter, logger *slog.Logger) *Worker {
	if logger == nil {
		logger = slog.Default()
	}

	wctx, cancel := context.WithCancel(ctx)
	w := &Worker{
		key:      key,
		callback: cb,
		logger:   logger.With("path", key.Path, "field", key.Field.String()),
		cancel:   cancel,
		done:     make(chan struct{}),
	}

	go w.run(wctx, ch, reporter)
	return w
}

// Cancel requests a cooperative stop. The worker exits after its current
// blocking read observes the cancellation.
func (w *Worker) Cancel() {
	w.cancel()
}

// Done is closed when the worker goroutine has exited.
func (w *Worker) Done() <-chan struct{} {
	return w.done
}

// Exited reports whether the worker goroutine has finished.
func (w *Worker) Exited() bool {
	select {
	case <-w.done:
		return true
	default:
		return false
	}
}

// Detach marks the worker fire-and-forget: join operations skip it.
func (w *Worker) Detach() {
	w.detached.Store(true)
}

// Detached reports whether the worker was detached.
func (w *Worker) Detached() bool {
	return w.detached.Load()
}

func (w *Worker) run(ctx context.Context, ch transport.Channel, reporter FailureReporter) {
	defer close(w.done)
	defer w.cancel()

	st, err := ch.Subscribe(ctx, w.key)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		if transport.IsRemote(err) {
			// The broker refused this path; retrying will not help and
			// the channel is fine.
			w.logger.Warn("subscription rejected by broker", "error", err)
			return
		}
		w.logger.Warn("subscription stream failed to open", "error", err)
		reporter.ReportFailure(err)
		return
	}
	defer st.Cancel()

	for {
		update, err := st.Recv(ctx)
		if err != nil {
			switch {
			case ctx.Err() != nil, errors.Is(err, transport.ErrStreamCanceled):
				// Clean exit: unsubscribe or shutdown.
				return
			default:
				reporter.ReportFailure(err)
				return
			}
		}

		w.callback(update.Path, update.Value, int(update.Field))
	}
}
