// Package stats holds the shared telemetry tallies and the periodic
// diff-and-report loop that both the simulator and the consumer run.
//
// Counters replaces hidden process-wide globals: it is constructed once in
// main and handed by pointer to producers, the consumer, and the sink writer.
// Reporter reads it once per interval, logs the per-interval change, and
// optionally forwards it to a metrics Sink. Register exposes the same
// counters to Prometheus.
package stats
