// Package tsdb writes telemetry data points to an InfluxDB 1.x compatible
// store using line protocol over HTTP.
//
// Points are buffered by a Batcher and flushed as one POST to
// /write?db=<name>&precision=ms when the batch window closes: 20 points or
// one second after the oldest buffered point, whichever comes first.
//
// Usage:
//
//	batcher, err := tsdb.Connect(ctx, cfg.InfluxDB)
//	if err != nil {
//	    return err
//	}
//	defer batcher.Close()
//
//	batcher.SetOnError(func(err error) {
//	    log.Warn("batch write failed", "error", err)
//	})
//
//	batcher.Add(tsdb.Point{
//	    Measurement: "P",
//	    Time:        time.Now(),
//	    Tags:        map[string]string{"device_id": "device-1"},
//	    Fields:      map[string]any{"temp": 21.5},
//	})
package tsdb
