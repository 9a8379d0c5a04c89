package recorder

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/vclink/vssclient/internal/config"
)

// fakeDB records each SendBatch call and whether its context was still live.
type fakeDB struct {
	mu       sync.Mutex
	batches  []int
	ctxAlive []bool
}

func (f *fakeDB) SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults {
	f.mu.Lock()
	f.batches = append(f.batches, b.Len())
	f.ctxAlive = append(f.ctxAlive, ctx.Err() == nil)
	f.mu.Unlock()
	return &fakeBatchResults{}
}

type fakeBatchResults struct{}

func (f *fakeBatchResults) Exec() (pgconn.CommandTag, error) { return pgconn.CommandTag{}, nil }
func (f *fakeBatchResults) Query() (pgx.Rows, error)         { return nil, nil }
func (f *fakeBatchResults) QueryRow() pgx.Row                { return nil }
func (f *fakeBatchResults) Close() error                     { return nil }

func testRecorderConfig() config.RecorderConfig {
	return config.RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    10,
	}
}

func TestRecorder_Lifecycle(t *testing.T) {
	cfg := config.RecorderConfig{
		BatchSize:     10,
		FlushInterval: 100 * time.Millisecond,
		BufferSize:    10,
	}

	// Writes require a live database; this exercises the goroutine
	// lifecycle only.
	r := New(cfg, nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	time.Sleep(20 * time.Millisecond)

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := r.Stop(stopCtx); err != nil {
		t.Errorf("Stop() error = %v", err)
	}
}

func TestRecorder_Record_AddsToBatch(t *testing.T) {
	r := New(testRecorderConfig(), nil, nil)

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}
	defer r.Stop(context.Background())

	r.Record("Vehicle.Speed", "88", 1)

	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.batchMu.Lock()
		n := len(r.batch)
		r.batchMu.Unlock()
		if n == 1 {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("update never reached the batch")
}

func TestRecorder_Record_DropsWhenFull(t *testing.T) {
	cfg := config.RecorderConfig{
		BatchSize:     100,
		FlushInterval: time.Hour,
		BufferSize:    2,
	}
	// Not started: nothing drains the input buffer.
	r := New(cfg, nil, nil)

	for i := 0; i < 5; i++ {
		r.Record("Vehicle.Speed", "1", 1)
	}

	if got := r.Stats().Dropped; got != 3 {
		t.Errorf("Dropped = %d, want 3", got)
	}
}

func TestRecorder_Stop_FlushesTailBatch(t *testing.T) {
	db := &fakeDB{}
	r := New(testRecorderConfig(), nil, nil)
	r.db = db

	if err := r.Start(context.Background()); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		r.Record("Vehicle.Speed", "42", 1)
	}

	// Wait until all three rows sit in the batch, below the flush threshold.
	deadline := time.Now().Add(time.Second)
	for time.Now().Before(deadline) {
		r.batchMu.Lock()
		n := len(r.batch)
		r.batchMu.Unlock()
		if n == 3 {
			break
		}
		time.Sleep(5 * time.Millisecond)
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := r.Stop(stopCtx); err != nil {
		t.Fatalf("Stop() error = %v", err)
	}

	db.mu.Lock()
	defer db.mu.Unlock()
	if len(db.batches) != 1 || db.batches[0] != 3 {
		t.Fatalf("batches = %v, want one batch of 3", db.batches)
	}
	if !db.ctxAlive[0] {
		t.Error("final flush ran on a cancelled context")
	}

	if got := r.Stats().Inserts; got != 3 {
		t.Errorf("Inserts = %d, want 3", got)
	}
}

func TestRecorder_Stats(t *testing.T) {
	r := New(testRecorderConfig(), nil, nil)

	stats := r.Stats()
	if stats.Inserts != 0 || stats.Errors != 0 || stats.Flushes != 0 {
		t.Errorf("initial stats not zero: %+v", stats)
	}
}
