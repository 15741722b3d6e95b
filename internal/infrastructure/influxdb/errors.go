package influxdb

import "errors"

// Sentinel errors for InfluxDB metrics operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influxdb.ErrDisabled) {
//	    // Run without the metrics sink
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed wraps errors delivered asynchronously by the write API.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrDisabled indicates the metrics sink is disabled in config.
	ErrDisabled = errors.New("influxdb: disabled in configuration")
)
