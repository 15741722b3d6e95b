package tsdb

import "errors"

// Sentinel errors for time-series store operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, tsdb.ErrWriteFailed) {
//	    // Batch was lost, points are not re-enqueued
//	}
var (
	// ErrConnectionFailed indicates the store could not be reached or prepared at startup.
	ErrConnectionFailed = errors.New("tsdb: connection failed")

	// ErrWriteFailed indicates a batch write was rejected or could not be sent.
	ErrWriteFailed = errors.New("tsdb: write failed")

	// ErrInvalidPoint indicates a point has no field the line protocol can carry.
	ErrInvalidPoint = errors.New("tsdb: invalid point")

	// ErrClosed indicates a point was added after Close.
	ErrClosed = errors.New("tsdb: batcher closed")
)
