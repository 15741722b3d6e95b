package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// namespace prefixes every exported metric.
const namespace = "soak"

// Register exposes counters to Prometheus as monotonic counter functions.
// Values are read at scrape time, so no extra bookkeeping happens on the hot path.
func Register(reg prometheus.Registerer, counters *Counters) error {
	collectors := []prometheus.Collector{
		counterFunc("sent_total", "Telemetry calls dispatched by producers.", counters.Sent.Load),
		counterFunc("success_total", "Telemetry calls answered with a 2xx status.", counters.Success.Load),
		counterFunc("failure_total", "Telemetry calls that failed or were rejected.", counters.Failure.Load),
		counterFunc("processed_total", "Messages delivered to the consumer.", counters.Processed.Load),
		counterFunc("persisted_total", "Data points handed to the store batcher.", counters.Persisted.Load),
		counterFunc("dropped_total", "Messages dropped because they could not be decoded.", counters.Dropped.Load),
	}

	for _, c := range collectors {
		if err := reg.Register(c); err != nil {
			return err
		}
	}
	return nil
}

func counterFunc(name, help string, load func() int64) prometheus.CounterFunc {
	return prometheus.NewCounterFunc(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      name,
		Help:      help,
	}, func() float64 {
		return float64(load())
	})
}
