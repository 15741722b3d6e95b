package consumer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/stats"
)

// Default timings.
const (
	DefaultReconnectDelay = 5 * time.Second
	DefaultConnectTimeout = 5 * time.Second
)

// Connector dials the broker.
type Connector interface {
	// Connect opens one connection. lost is invoked if the connection later drops.
	Connect(ctx context.Context, lost func(err error)) (Connection, error)
}

// Connection is one broker connection.
type Connection interface {
	// Subscribe opens the telemetry subscription. deliver is called
	// sequentially in arrival order; closed is invoked if the subscription
	// ends while the connection stays up. Subscribing again replaces the
	// previous subscription.
	Subscribe(ctx context.Context, deliver func(Message), closed func(err error)) error

	// Alive reports whether the connection is still usable.
	Alive() bool

	Close() error
}

// Handler receives every decoded message.
type Handler interface {
	Consume(annotations map[string]any, body string) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(annotations map[string]any, body string) error

// Consume implements Handler.
func (f HandlerFunc) Consume(annotations map[string]any, body string) error {
	return f(annotations, body)
}

// Logger is the subset of logging.Logger the consumer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Timer is a pending single-shot callback.
type Timer interface {
	Stop() bool
}

// Options configures a Consumer.
type Options struct {
	Connector Connector
	// Handler is optional; without one messages are counted and discarded.
	Handler  Handler
	Counters *stats.Counters
	Logger   Logger

	ReconnectDelay time.Duration
	ConnectTimeout time.Duration

	// AfterFunc schedules reconnect attempts. Defaults to time.AfterFunc.
	AfterFunc func(d time.Duration, f func()) Timer
}

// Consumer owns one logical subscription to a tenant's telemetry stream.
//
// Lifecycle:
//
//	Disconnected -> Connecting -> Consuming
//	Consuming -> Disconnected          (connection lost or subscription closed;
//	                                    one reconnect scheduled after the delay)
//	Disconnected -> Connecting         (reconnect timer fired)
//	any -> Closing                     (Close or Run's context cancelled)
//
// A failed initial connect ends Run with ErrConnectFailed and is not retried.
// Failed reconnects after startup are rescheduled indefinitely.
//
// Thread Safety: all methods are safe for concurrent use.
type Consumer struct {
	connector      Connector
	handler        Handler
	counters       *stats.Counters
	logger         Logger
	reconnectDelay time.Duration
	connectTimeout time.Duration
	afterFunc      func(d time.Duration, f func()) Timer

	mu      sync.Mutex
	state   State
	started bool
	conn    Connection
	connGen uint64 // bumped per dial; stale lost callbacks compare against it
	subGen  uint64 // bumped per subscribe; stale closed callbacks compare against it
	timer   Timer
	runCtx  context.Context
	done    chan struct{}
}

// New creates a Consumer in the Disconnected state.
func New(opts Options) *Consumer {
	if opts.ReconnectDelay <= 0 {
		opts.ReconnectDelay = DefaultReconnectDelay
	}
	if opts.ConnectTimeout <= 0 {
		opts.ConnectTimeout = DefaultConnectTimeout
	}
	if opts.Counters == nil {
		opts.Counters = new(stats.Counters)
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = func(d time.Duration, f func()) Timer { return time.AfterFunc(d, f) }
	}

	return &Consumer{
		connector:      opts.Connector,
		handler:        opts.Handler,
		counters:       opts.Counters,
		logger:         opts.Logger,
		reconnectDelay: opts.ReconnectDelay,
		connectTimeout: opts.ConnectTimeout,
		afterFunc:      opts.AfterFunc,
		state:          Disconnected,
		done:           make(chan struct{}),
	}
}

// State returns the current connection state.
func (c *Consumer) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// HealthCheck reports whether the consumer is subscribed over a live
// connection. It returns ErrNotConsuming in any other state.
func (c *Consumer) HealthCheck(ctx context.Context) error {
	c.mu.Lock()
	state, conn := c.state, c.conn
	c.mu.Unlock()

	if state != Consuming {
		return fmt.Errorf("%w: %s", ErrNotConsuming, state)
	}
	if hc, ok := conn.(interface {
		HealthCheck(ctx context.Context) error
	}); ok {
		return hc.HealthCheck(ctx)
	}
	return nil
}

// Run connects, subscribes, and consumes until ctx is cancelled or Close is
// called, then releases the connection and returns nil.
//
// If the initial connect or subscribe fails, Run returns an error wrapping
// ErrConnectFailed without retrying.
func (c *Consumer) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.state != Disconnected {
		c.mu.Unlock()
		return ErrClosed
	}
	c.started = true
	c.runCtx = ctx
	c.state = Connecting
	c.mu.Unlock()

	c.logger.Info("connecting to broker")

	if err := c.attempt(ctx); err != nil {
		c.mu.Lock()
		closed := c.state == Closing
		c.mu.Unlock()
		if closed {
			return nil
		}
		c.Close() //nolint:errcheck // Close always returns nil
		return fmt.Errorf("%w: %w", ErrConnectFailed, err)
	}

	select {
	case <-ctx.Done():
	case <-c.done:
	}
	return c.Close()
}

// Close moves the consumer to Closing from any state: it cancels a pending
// reconnect, releases the connection, and unblocks Run. Safe to call more
// than once.
func (c *Consumer) Close() error {
	c.mu.Lock()
	if c.state == Closing {
		c.mu.Unlock()
		return nil
	}
	c.state = Closing
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	conn := c.conn
	c.conn = nil
	close(c.done)
	c.mu.Unlock()

	if conn != nil {
		if err := conn.Close(); err != nil {
			c.logger.Debug("closing broker connection", "error", err)
		}
	}
	c.logger.Info("consumer closed")
	return nil
}

// attempt performs one Connecting phase: reuse a live connection or dial a
// new one, then subscribe. On success the consumer is Consuming. On failure
// the connection is released when dead and the error is returned; the state
// is left to the caller.
func (c *Consumer) attempt(ctx context.Context) error {
	c.mu.Lock()
	conn := c.conn
	connGen := c.connGen
	c.mu.Unlock()

	attemptCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	if conn == nil || !conn.Alive() {
		if conn != nil {
			_ = conn.Close()
		}

		c.mu.Lock()
		c.conn = nil
		c.connGen++
		connGen = c.connGen
		c.mu.Unlock()

		dialed, err := c.connector.Connect(attemptCtx, func(err error) {
			c.connectionLost(connGen, err)
		})
		if err != nil {
			return err
		}
		conn = dialed
	}

	c.mu.Lock()
	c.subGen++
	subGen := c.subGen
	c.mu.Unlock()

	err := conn.Subscribe(attemptCtx, c.deliver, func(err error) {
		c.subscriptionClosed(connGen, subGen, err)
	})

	c.mu.Lock()
	defer c.mu.Unlock()

	// A loss reported while Connecting is ignored by connectionLost, so
	// liveness is checked here under the lock instead.
	if err == nil && !conn.Alive() {
		err = errors.New("connection dropped while subscribing")
	}

	if c.state == Closing {
		_ = conn.Close()
		return errors.New("consumer closed while connecting")
	}
	if err != nil {
		if conn.Alive() {
			c.conn = conn
		} else {
			_ = conn.Close()
			c.conn = nil
		}
		return err
	}

	c.conn = conn
	c.state = Consuming
	c.logger.Info("consuming telemetry")
	return nil
}

// connectionLost handles a broker-initiated disconnect.
func (c *Consumer) connectionLost(connGen uint64, err error) {
	c.mu.Lock()
	if connGen != c.connGen || c.state != Consuming {
		c.mu.Unlock()
		return
	}

	c.logger.Warn("broker connection lost", "error", err)
	dead := c.conn
	c.conn = nil
	c.disconnectLocked()
	c.mu.Unlock()

	if dead != nil {
		_ = dead.Close()
	}
}

// subscriptionClosed handles the subscription ending while the connection stays up.
func (c *Consumer) subscriptionClosed(connGen, subGen uint64, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if connGen != c.connGen || subGen != c.subGen || c.state != Consuming {
		return
	}

	c.logger.Warn("subscription closed", "error", err)
	c.disconnectLocked()
}

// disconnectLocked moves to Disconnected and schedules a reconnect unless one
// is already pending. Caller holds c.mu.
func (c *Consumer) disconnectLocked() {
	c.state = Disconnected
	if c.timer != nil {
		return
	}
	c.logger.Info("scheduling reconnect", "delay", c.reconnectDelay)
	c.timer = c.afterFunc(c.reconnectDelay, c.reconnect)
}

// reconnect is the reconnect timer callback.
func (c *Consumer) reconnect() {
	c.mu.Lock()
	c.timer = nil
	if c.state != Disconnected {
		c.mu.Unlock()
		return
	}
	c.state = Connecting
	ctx := c.runCtx
	c.mu.Unlock()

	if ctx == nil {
		ctx = context.Background()
	}

	if err := c.attempt(ctx); err != nil {
		c.mu.Lock()
		defer c.mu.Unlock()
		if c.state != Connecting {
			return
		}
		c.logger.Warn("reconnect failed", "error", err)
		c.disconnectLocked()
	}
}

// deliver handles one message on the connection's delivery context.
func (c *Consumer) deliver(msg Message) {
	c.counters.Processed.Add(1)

	body, err := DecodeBody(msg.Body)
	if err != nil {
		c.counters.Dropped.Add(1)
		c.logger.Warn("dropping message", "error", err)
		return
	}

	if c.handler == nil {
		return
	}
	if err := c.handler.Consume(msg.Annotations, body); err != nil {
		c.counters.Dropped.Add(1)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
