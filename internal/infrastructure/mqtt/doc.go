// Package mqtt provides the broker connection used by the telemetry consumer.
//
// It wraps paho.mqtt.golang with one deliberate difference from a typical
// service client: automatic reconnection is disabled. A Client represents
// exactly one connection; when it drops, the lost callback fires and the
// owner (the consumer state machine) decides when to dial again.
//
// # Topics
//
// Devices publish telemetry to telemetry/{tenant}/{device}. The consumer
// subscribes to TelemetryFilter(tenant) and derives message annotations
// (tenant_id, device_id, topic, qos, retained, message_id) from each
// delivery via Message.Annotations.
//
// # Usage
//
//	client, err := mqtt.Connect(ctx, cfg.Broker, func(err error) {
//	    log.Warn("broker connection lost", "error", err)
//	})
//	if err != nil {
//	    return err
//	}
//	defer client.Close()
//
//	err = client.Subscribe(ctx, mqtt.TelemetryFilter(cfg.Broker.Tenant), 1,
//	    func(msg mqtt.Message) {
//	        handle(msg.Annotations(), msg.Payload)
//	    })
//
// # TLS
//
// When TLS is enabled and trusted certificates are configured, the broker
// chain is verified against them without checking the hostname.
package mqtt
