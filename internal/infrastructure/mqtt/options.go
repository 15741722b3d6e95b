package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is used when the configuration leaves it unset.
	defaultConnectTimeout = 5 * time.Second

	// defaultOperationTimeout bounds subscribe and unsubscribe acknowledgements.
	defaultOperationTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 250 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 30 * time.Second

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2
)

// buildClientOptions creates paho MQTT options from the broker config.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID (a random one when unset, so several consumers can share a broker)
//   - Authentication credentials (if provided)
//   - Auto-reconnect OFF: reconnection is owned by the caller
//   - Ordered, sequential message delivery
//   - TLS configuration (if enabled)
func buildClientOptions(cfg config.BrokerConfig, tlsConfig *tls.Config) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))

	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "telemetry-soak-" + uuid.NewString()
	}
	opts.SetClientID(clientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	opts.SetAutoReconnect(false)
	opts.SetConnectRetry(false)

	// Handlers run one at a time in arrival order.
	opts.SetOrderMatters(true)

	connectTimeout := cfg.GetConnectTimeout()
	if connectTimeout <= 0 {
		connectTimeout = defaultConnectTimeout
	}
	opts.SetConnectTimeout(connectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if tlsConfig != nil {
		opts.SetTLSConfig(tlsConfig)
	}

	return opts
}
