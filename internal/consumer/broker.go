package consumer

import (
	"context"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/mqtt"
)

// MQTTConnector dials the MQTT broker and subscribes to the tenant's
// telemetry topics. Payloads are delivered as DataSection bodies with the
// topic-derived annotations.
type MQTTConnector struct {
	cfg    config.BrokerConfig
	logger mqtt.Logger
}

// NewMQTTConnector creates a connector for the configured broker and tenant.
func NewMQTTConnector(cfg config.BrokerConfig, logger mqtt.Logger) *MQTTConnector {
	return &MQTTConnector{cfg: cfg, logger: logger}
}

// Connect implements Connector.
func (m *MQTTConnector) Connect(ctx context.Context, lost func(err error)) (Connection, error) {
	client, err := mqtt.Connect(ctx, m.cfg, lost)
	if err != nil {
		return nil, err
	}
	if m.logger != nil {
		client.SetLogger(m.logger)
	}
	return &mqttConnection{
		client: client,
		filter: mqtt.TelemetryFilter(m.cfg.Tenant),
		qos:    byte(m.cfg.QoS), //nolint:gosec // QoS validated by config
	}, nil
}

// mqttConnection adapts an mqtt.Client to Connection.
//
// MQTT has no per-subscription close notification; a subscription lives as
// long as its connection, so the closed callback is never invoked.
type mqttConnection struct {
	client *mqtt.Client
	filter string
	qos    byte
}

// Subscribe replaces any earlier subscription to the telemetry filter on this
// connection.
func (c *mqttConnection) Subscribe(ctx context.Context, deliver func(Message), _ func(err error)) error {
	return c.client.Resubscribe(ctx, c.filter, c.qos, func(msg mqtt.Message) {
		deliver(Message{
			Body:        DataSection(msg.Payload),
			Annotations: msg.Annotations(),
		})
	})
}

func (c *mqttConnection) HealthCheck(ctx context.Context) error {
	return c.client.HealthCheck(ctx)
}

func (c *mqttConnection) Alive() bool {
	return c.client.IsConnected()
}

func (c *mqttConnection) Close() error {
	return c.client.Close()
}
