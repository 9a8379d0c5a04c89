package subscription

import (
	"log/slog"
	"sync"
	"time"

	"github.com/vclink/vssclient/internal/signal"
)

// Record is one tracked subscription. The callback is fixed at registration;
// the worker handle changes as workers die and are respawned.
type Record struct {
	Key      signal.Key
	Callback signal.Callback

	// worker is guarded by the owning registry's lock.
	worker *Worker
}

// Registry is the deduplicated set of active subscriptions. All mutations are
// serialized under one lock; the lock is never held across network I/O or
// callback invocation.
type Registry struct {
	logger *slog.Logger

	mu      sync.Mutex
	records map[signal.Key]*Record
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		logger:  logger,
		records: make(map[signal.Key]*Record),
	}
}

// Register inserts a record for key. If the key is already present the call
// is a no-op and the existing callback is kept: the first subscriber wins.
// Returns true when the record is newly registered.
func (r *Registry) Register(key signal.Key, cb signal.Callback) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.records[key]; ok {
		r.logger.Debug("subscription already active", "key", key.String())
		return false
	}

	r.records[key] = &Record{Key: key, Callback: cb}
	return true
}

// Unregister removes the record for key and cancels its worker if one is
// running. Returns whether a record was removed.
func (r *Registry) Unregister(key signal.Key) bool {
	r.mu.Lock()
	rec, ok := r.records[key]
	if ok {
		delete(r.records, key)
	}
	r.mu.Unlock()

	if !ok {
		return false
	}
	if rec.worker != nil {
		rec.worker.Cancel()
	}
	return true
}

// Attach installs w as the record's worker handle. The incoming worker is
// cancelled instead when the record was unregistered while it was being
// spawned, or when a live worker is already attached: two spawners can race
// past the liveness check, and exactly one worker may serve a key.
func (r *Registry) Attach(key signal.Key, w *Worker) {
	r.mu.Lock()
	rec, ok := r.records[key]
	if ok && (rec.worker == nil || rec.worker.Exited()) {
		rec.worker = w
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	w.Cancel()
}

// Snapshot returns a stable copy of all current records. Mutations during
// iteration by the caller are not visible to the returned slice.
func (r *Registry) Snapshot() []*Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Record, 0, len(r.records))
	for _, rec := range r.records {
		out = append(out, rec)
	}
	return out
}

// Worker returns the current worker handle for key, or nil.
func (r *Registry) Worker(key signal.Key) *Worker {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.records[key]; ok {
		return rec.worker
	}
	return nil
}

// NeedsRespawn reports whether the record has no live worker. Called by the
// reconnect supervisor after a successful reconnect.
func (r *Registry) NeedsRespawn(rec *Record) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return rec.worker == nil || rec.worker.Exited()
}

// Len returns the number of registered subscriptions.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.records)
}

// CancelAll cancels every attached worker. Records stay registered so the
// supervisor can respawn them; use Unregister or Clear to forget them.
func (r *Registry) CancelAll() {
	for _, w := range r.workers(false) {
		w.Cancel()
	}
}

// Clear cancels every worker and forgets all records. Used on shutdown.
func (r *Registry) Clear() {
	r.mu.Lock()
	records := r.records
	r.records = make(map[signal.Key]*Record)
	r.mu.Unlock()

	for _, rec := range records {
		if rec.worker != nil {
			rec.worker.Cancel()
		}
	}
}

// JoinAll blocks until every non-detached worker has exited.
func (r *Registry) JoinAll() {
	for _, w := range r.workers(true) {
		<-w.Done()
	}
}

// JoinAllTimeout blocks until every non-detached worker has exited or the
// timeout elapses. Returns true when all workers exited in time; on false,
// remaining workers keep running in the background.
func (r *Registry) JoinAllTimeout(d time.Duration) bool {
	deadline := time.NewTimer(d)
	defer deadline.Stop()

	for _, w := range r.workers(true) {
		select {
		case <-w.Done():
		case <-deadline.C:
			r.logger.Warn("join timed out, leaving workers running", "timeout", d)
			return false
		}
	}
	return true
}

// DetachAll marks every current worker fire-and-forget: subsequent JoinAll
// calls will not wait for them. Never blocks.
func (r *Registry) DetachAll() {
	for _, w := range r.workers(false) {
		w.Detach()
	}
}

// workers snapshots the attached worker handles under the lock.
// skipDetached filters out workers already marked fire-and-forget.
func (r *Registry) workers(skipDetached bool) []*Worker {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]*Worker, 0, len(r.records))
	for _, rec := range r.records {
		if rec.worker == nil {
			continue
		}
		if skipDetached && rec.worker.Detached() {
			continue
		}
		out = append(out, rec.worker)
	}
	return out
}
