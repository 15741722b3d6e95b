// Package influxdb provides the InfluxDB metrics sink for the soak harness.
//
// It wraps the official influxdb-client-go v2 library and implements
// stats.Sink, so the per-second counter diffs of the simulator and the
// consumer can be written next to the telemetry they describe.
//
// # Usage
//
//	client, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Metrics)
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // run without the metrics sink
//	}
//	defer client.Close()
//
//	reporter := stats.NewReporter(counters, stats.ReporterOptions{Sink: client, ...})
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// The underlying write API uses non-blocking batched writes.
//
// # Error Handling
//
// Write errors are delivered through the SetOnError callback, wrapped in
// ErrWriteFailed. Connection and health check errors are returned directly.
package influxdb
