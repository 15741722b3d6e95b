// Package sink writes consumed telemetry into the time-series store.
//
// A Writer decodes each JSON payload together with its broker annotations
// into one tsdb.Point and hands it to a batch (normally a *tsdb.Batcher),
// which owns the flush policy.
package sink
