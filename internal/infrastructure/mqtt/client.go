package mqtt

import (
	"context"
	"fmt"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
)

// Client is a single broker connection.
//
// Unlike a long-lived service connection, a Client never reconnects on its
// own: when the connection drops, the lost callback fires once and the
// Client is finished. The owner decides when to dial a new one.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Client struct {
	client pahomqtt.Client

	// subscriptions tracks active topic filters.
	subscriptions map[string]byte
	subMu         sync.RWMutex

	connected bool
	connMu    sync.RWMutex

	onLost func(err error)

	// logger for handler panics (optional, set via SetLogger).
	logger   Logger
	loggerMu sync.RWMutex
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Connect dials the broker once.
//
// It performs the following setup:
//  1. Builds TLS settings from the trust material (if TLS is enabled)
//  2. Builds connection options with auto-reconnect disabled
//  3. Attempts the connection, bounded by the connect timeout and ctx
//
// Parameters:
//   - ctx: Context for cancellation of the connect attempt
//   - cfg: Broker configuration
//   - onLost: Invoked once if the established connection drops (may be nil)
//
// Returns:
//   - *Client: Connected client ready for Subscribe
//   - error: ErrConnectionFailed (wrapped) if the attempt fails or times out
func Connect(ctx context.Context, cfg config.BrokerConfig, onLost func(err error)) (*Client, error) {
	tlsConfig, err := buildTLSConfig(cfg.TLS, cfg.TrustedCerts)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	opts := buildClientOptions(cfg, tlsConfig)

	c := &Client{
		subscriptions: make(map[string]byte),
		onLost:        onLost,
	}
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		c.handleConnectionLost(err)
	})

	c.client = pahomqtt.NewClient(opts)
	if err := c.connect(ctx, opts.ConnectTimeout); err != nil {
		return nil, err
	}
	return c, nil
}

// newClient wraps an already constructed paho client (tests).
func newClient(pc pahomqtt.Client, onLost func(err error)) *Client {
	return &Client{
		client:        pc,
		subscriptions: make(map[string]byte),
		onLost:        onLost,
	}
}

// connect performs the connect handshake and marks the client connected.
func (c *Client) connect(ctx context.Context, timeout time.Duration) error {
	if err := waitToken(ctx, c.client.Connect(), timeout); err != nil {
		c.client.Disconnect(0)
		return fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	c.connMu.Lock()
	c.connected = true
	c.connMu.Unlock()
	return nil
}

// handleConnectionLost is called by paho when the connection drops.
func (c *Client) handleConnectionLost(err error) {
	c.connMu.Lock()
	wasConnected := c.connected
	c.connected = false
	c.connMu.Unlock()

	if wasConnected && c.onLost != nil {
		c.onLost(err)
	}
}

// Close disconnects from the broker. The lost callback is not invoked.
//
// Returns:
//   - error: nil (connection already closed is not an error)
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.connMu.Lock()
	c.connected = false
	c.connMu.Unlock()

	c.client.Disconnect(defaultDisconnectQuiesce)
	return nil
}

// HealthCheck verifies the MQTT connection is alive.
func (c *Client) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("mqtt health check: %w", ctx.Err())
	default:
	}

	if !c.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (c *Client) IsConnected() bool {
	if c.client == nil {
		return false
	}
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected && c.client.IsConnected()
}

// SetLogger sets a logger for handler panics.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	c.logger = logger
	c.loggerMu.Unlock()
}

func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// waitToken waits for a paho token bounded by timeout and ctx.
func waitToken(ctx context.Context, token pahomqtt.Token, timeout time.Duration) error {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return fmt.Errorf("%w after %v", ErrTimeout, timeout)
	case <-ctx.Done():
		return ctx.Err()
	}
}
