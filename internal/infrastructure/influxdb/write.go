package influxdb

import (
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Report writes one per-interval statistic. It implements stats.Sink.
//
// The component ("producer", "consumer") is the measurement and the metric
// name is the field, so each reporting side lands in its own series:
//
//	consumer messageCount=1200i 1700000000000
//
// The write is non-blocking; data is batched and sent asynchronously.
func (c *Client) Report(at time.Time, component, name string, value int64) {
	if !c.IsConnected() {
		return
	}

	c.writeAPI.WritePoint(NewStatPoint(at, component, name, value))
}

// NewStatPoint builds the point Report writes.
func NewStatPoint(at time.Time, component, name string, value int64) *write.Point {
	return write.NewPoint(
		component,
		nil,
		map[string]any{name: value},
		at,
	)
}
