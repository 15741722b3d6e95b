package tsdb

import (
	"bytes"
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
	lp "github.com/influxdata/line-protocol"
)

// Point is one time-series data point.
type Point struct {
	Measurement string
	// Time is written with millisecond precision.
	Time   time.Time
	Tags   map[string]string
	Fields map[string]any
}

// Line renders the point as one line of InfluxDB line protocol with a
// millisecond timestamp and no trailing newline. Tags and fields are emitted
// in key order.
//
// Fields the protocol cannot carry (NaN, ±Inf, unsupported types) are
// skipped. A point left with no fields cannot be written and yields
// ErrInvalidPoint.
func (p Point) Line() (string, error) {
	var buf bytes.Buffer
	enc := lp.NewEncoder(&buf)
	enc.SetFieldSortOrder(lp.SortFields)
	enc.SetFieldTypeSupport(lp.UintSupport)
	enc.SetPrecision(time.Millisecond)

	if _, err := enc.Encode(write.NewPoint(p.Measurement, p.Tags, p.Fields, p.Time)); err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidPoint, err)
	}
	return string(bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})), nil
}
