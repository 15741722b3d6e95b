package mqtt

import (
	"context"
	"fmt"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"
)

// Message is one received MQTT message with its delivery metadata.
type Message struct {
	Topic     string
	Payload   []byte
	QoS       byte
	Retained  bool
	Duplicate bool
	MessageID uint16
}

// Annotations returns the message metadata as a flat map.
//
// tenant_id and device_id are present when the topic follows the
// telemetry/{tenant}/{device} layout. topic, tenant_id and device_id are
// strings; qos and message_id are ints; retained is a bool.
func (m Message) Annotations() map[string]any {
	a := map[string]any{
		"topic":      m.Topic,
		"qos":        int(m.QoS),
		"retained":   m.Retained,
		"message_id": int(m.MessageID),
	}
	if tenant, device, ok := ParseTelemetryTopic(m.Topic); ok {
		a["tenant_id"] = tenant
		a["device_id"] = device
	}
	return a
}

// MessageHandler is the callback signature for received messages.
//
// Handlers are invoked sequentially in arrival order. A slow handler delays
// every following message on the connection.
type MessageHandler func(msg Message)

// Subscribe registers a handler for messages on the specified topic filter.
//
// Parameters:
//   - ctx: Context for cancellation while waiting for the SUBACK
//   - topic: The topic filter (wildcards allowed)
//   - qos: Maximum QoS level for received messages (0, 1, or 2)
//   - handler: Callback invoked for each message
//
// Returns:
//   - error: nil on success, or wrapped ErrSubscribeFailed
func (c *Client) Subscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if qos > maxQoS {
		return ErrInvalidQoS
	}
	if handler == nil {
		return fmt.Errorf("%w: handler cannot be nil", ErrSubscribeFailed)
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	token := c.client.Subscribe(topic, qos, c.wrapHandler(handler))
	if err := waitToken(ctx, token, defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrSubscribeFailed, err)
	}

	c.subMu.Lock()
	c.subscriptions[topic] = qos
	c.subMu.Unlock()
	return nil
}

// Unsubscribe removes a subscription.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	if topic == "" {
		return ErrInvalidTopic
	}
	if !c.IsConnected() {
		return ErrNotConnected
	}

	c.subMu.Lock()
	delete(c.subscriptions, topic)
	c.subMu.Unlock()

	if err := waitToken(ctx, c.client.Unsubscribe(topic), defaultOperationTimeout); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsubscribeFailed, err)
	}
	return nil
}

// Resubscribe replaces any existing subscription to topic with handler.
//
// A tracked subscription is removed with UNSUBSCRIBE first, so the broker
// does not keep delivering to the old handler while the new one is set up.
func (c *Client) Resubscribe(ctx context.Context, topic string, qos byte, handler MessageHandler) error {
	if c.HasSubscription(topic) {
		if err := c.Unsubscribe(ctx, topic); err != nil {
			return err
		}
	}
	return c.Subscribe(ctx, topic, qos, handler)
}

// HasSubscription checks if a subscription exists for the given topic filter.
func (c *Client) HasSubscription(topic string) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	_, exists := c.subscriptions[topic]
	return exists
}

// wrapHandler converts paho messages and recovers handler panics.
func (c *Client) wrapHandler(handler MessageHandler) pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := c.getLogger(); logger != nil {
					logger.Error("MQTT handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		handler(Message{
			Topic:     msg.Topic(),
			Payload:   msg.Payload(),
			QoS:       msg.Qos(),
			Retained:  msg.Retained(),
			Duplicate: msg.Duplicate(),
			MessageID: msg.MessageID(),
		})
	}
}
