// Package consumer subscribes to a tenant's telemetry stream and forwards
// every decoded message to a Handler (normally the sink writer).
//
// The Consumer owns the connection lifecycle. It connects once at startup
// and gives up if that fails; after a successful start, every disconnect
// schedules a single reconnect attempt after a fixed delay and retries
// indefinitely. Messages are handled sequentially on the connection's
// delivery context, so the handler sees them in arrival order.
//
// The broker is abstracted behind Connector and Connection; MQTTConnector
// is the production implementation.
package consumer
