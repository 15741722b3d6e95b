package tsdb

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
)

// Default batch window.
const (
	DefaultBatchSize     = 20
	DefaultFlushInterval = time.Second
	DefaultQueueDepth    = 4

	defaultConnectTimeout = 10 * time.Second
)

// Batcher buffers points and writes them in batches.
//
// A batch is flushed when it reaches the configured size or when the flush
// interval has elapsed since the oldest buffered point, whichever comes
// first. Points are rendered to line protocol on Add, so a point the store
// could not accept is rejected there and never reaches a batch.
//
// Flushed batches are handed to a single writer goroutine through a bounded
// queue. Add only blocks when the queue is full, which bounds memory and
// pushes back on producers while the store is slow. Every added point is
// handed to the writer exactly once. Failed writes are reported through the
// error callback and are not retried.
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
type Batcher struct {
	writer   LineWriter
	size     int
	interval time.Duration
	timeout  time.Duration

	mu      sync.Mutex
	buf     []string
	timer   *time.Timer
	gen     uint64 // incremented on every swap; stale timers compare against it
	closed  bool
	sending sync.WaitGroup // swapped batches not yet on the queue

	queue chan []string
	done  chan struct{}

	errMu   sync.RWMutex
	onError func(err error)
}

// BatchOptions configures a Batcher. Zero values select the defaults.
type BatchOptions struct {
	Size     int
	Interval time.Duration
	// Timeout bounds a single batch write.
	Timeout time.Duration
	// QueueDepth is the number of flushed batches that may wait for the
	// writer before Add blocks.
	QueueDepth int
}

// NewBatcher creates a batcher writing to w.
func NewBatcher(w LineWriter, opts BatchOptions) *Batcher {
	if opts.Size <= 0 {
		opts.Size = DefaultBatchSize
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultFlushInterval
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultWriteTimeout
	}
	if opts.QueueDepth <= 0 {
		opts.QueueDepth = DefaultQueueDepth
	}
	b := &Batcher{
		writer:   w,
		size:     opts.Size,
		interval: opts.Interval,
		timeout:  opts.Timeout,
		buf:      make([]string, 0, opts.Size),
		queue:    make(chan []string, opts.QueueDepth),
		done:     make(chan struct{}),
	}
	go b.run()
	return b
}

// Connect prepares the store and returns a batcher writing to it.
//
// It performs the following:
//  1. Creates an HTTP line protocol writer for the configured database
//  2. Creates the database if it does not exist
//  3. Returns a Batcher using the configured batch window
//
// Parameters:
//   - ctx: Context for cancellation (used for database creation)
//   - cfg: InfluxDB configuration
//
// Returns:
//   - *Batcher: Ready batcher
//   - error: If the store cannot be reached or the database cannot be created
func Connect(ctx context.Context, cfg config.InfluxDBConfig) (*Batcher, error) {
	w := NewHTTPWriter(HTTPWriterOptions{
		URL:      cfg.StoreURL(),
		Database: cfg.Database,
		Username: cfg.Username,
		Password: cfg.Password,
		Timeout:  cfg.GetTimeout(),
	})

	ensureCtx, cancel := context.WithTimeout(ctx, defaultConnectTimeout)
	defer cancel()

	if err := w.EnsureDatabase(ensureCtx); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	return NewBatcher(w, BatchOptions{
		Size:     cfg.BatchSize,
		Interval: cfg.GetFlushInterval(),
		Timeout:  cfg.GetTimeout(),
	}), nil
}

// SetOnError sets a callback to be invoked when a batch write fails.
//
// Since writes happen on flush, errors are delivered via this callback
// rather than returned from Add.
func (b *Batcher) SetOnError(callback func(err error)) {
	b.errMu.Lock()
	defer b.errMu.Unlock()
	b.onError = callback
}

// Add renders p and enqueues it. When the buffer reaches the batch size the
// batch is handed to the writer goroutine.
//
// Returns:
//   - error: ErrInvalidPoint (wrapped) if p has no writable field, ErrClosed after Close
func (b *Batcher) Add(p Point) error {
	line, err := p.Line()
	if err != nil {
		return err
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return ErrClosed
	}

	b.buf = append(b.buf, line)
	if len(b.buf) == 1 {
		gen := b.gen
		b.timer = time.AfterFunc(b.interval, func() { b.flushGen(gen) })
	}

	var batch []string
	if len(b.buf) >= b.size {
		batch = b.swapLocked()
	}
	b.mu.Unlock()

	b.enqueue(batch)
	return nil
}

// Pending returns the number of buffered points not yet handed to the writer.
func (b *Batcher) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buf)
}

// Close flushes remaining points, waits for queued batches to be written and
// rejects further adds. Calling Close more than once is a no-op.
func (b *Batcher) Close() error {
	if b == nil {
		return nil
	}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	batch := b.swapLocked()
	b.mu.Unlock()

	b.enqueue(batch)
	b.sending.Wait()
	close(b.queue)
	<-b.done
	return nil
}

// flushGen is the timer path: it only flushes the buffer generation the
// timer was armed for.
func (b *Batcher) flushGen(gen uint64) {
	b.mu.Lock()
	if b.gen != gen {
		b.mu.Unlock()
		return
	}
	batch := b.swapLocked()
	b.mu.Unlock()

	b.enqueue(batch)
}

// swapLocked takes ownership of the buffer and registers the pending send.
// Caller holds b.mu.
func (b *Batcher) swapLocked() []string {
	if b.timer != nil {
		b.timer.Stop()
		b.timer = nil
	}
	if len(b.buf) == 0 {
		return nil
	}
	batch := b.buf
	b.buf = make([]string, 0, b.size)
	b.gen++
	b.sending.Add(1)
	return batch
}

// enqueue hands a swapped batch to the writer goroutine.
func (b *Batcher) enqueue(batch []string) {
	if len(batch) == 0 {
		return
	}
	b.queue <- batch
	b.sending.Done()
}

// run writes queued batches until Close closes the queue.
func (b *Batcher) run() {
	defer close(b.done)
	for batch := range b.queue {
		b.write(batch)
	}
}

func (b *Batcher) write(lines []string) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()

	if err := b.writer.WriteLines(ctx, lines); err != nil {
		b.reportError(err)
	}
}

// reportError delivers an error to the onError callback if set.
func (b *Batcher) reportError(err error) {
	b.errMu.RLock()
	callback := b.onError
	b.errMu.RUnlock()

	if callback != nil {
		callback(err)
	}
}

// HealthCheck probes the underlying store when the writer supports it.
func (b *Batcher) HealthCheck(ctx context.Context) error {
	hc, ok := b.writer.(interface {
		HealthCheck(ctx context.Context) error
	})
	if !ok {
		return nil
	}
	return hc.HealthCheck(ctx)
}
