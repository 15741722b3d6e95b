// Package producer simulates devices sending telemetry over HTTP.
//
// Each Device posts a fixed JSON payload to <endpoint>/telemetry with HTTP
// Basic credentials user@tenant:password. A Device is driven externally:
// the simulator calls Tick on a per-device cadence, and Tick either blocks
// for the call (synchronous mode) or dispatches it to a goroutine
// (asynchronous mode). Outcomes are tallied in shared stats.Counters.
package producer
