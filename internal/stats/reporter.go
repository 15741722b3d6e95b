package stats

import (
	"context"
	"sync"
	"time"
)

// DefaultInterval is the reporting period used by both binaries.
const DefaultInterval = time.Second

// Metric selects one counter from a Snapshot for reporting.
type Metric struct {
	Name string
	Read func(Snapshot) int64
}

// ProducerMetrics are the counters the simulator reports.
var ProducerMetrics = []Metric{
	{Name: "sent", Read: func(s Snapshot) int64 { return s.Sent }},
	{Name: "success", Read: func(s Snapshot) int64 { return s.Success }},
	{Name: "failure", Read: func(s Snapshot) int64 { return s.Failure }},
}

// ConsumerMetrics are the counters the consumer reports.
var ConsumerMetrics = []Metric{
	{Name: "messageCount", Read: func(s Snapshot) int64 { return s.Processed }},
	{Name: "persisted", Read: func(s Snapshot) int64 { return s.Persisted }},
	{Name: "dropped", Read: func(s Snapshot) int64 { return s.Dropped }},
}

// Sink receives per-interval diffs, e.g. the InfluxDB metrics writer.
type Sink interface {
	Report(at time.Time, component, name string, value int64)
}

// Logger is the subset of logging.Logger the reporter needs.
type Logger interface {
	Info(msg string, args ...any)
}

// Reporter periodically diffs Counters against the previous observation and
// reports the per-interval change. Each side of the pipeline runs its own.
type Reporter struct {
	counters  *Counters
	component string
	metrics   []Metric
	interval  time.Duration
	sink      Sink
	logger    Logger

	mu   sync.Mutex
	last map[string]int64
}

// ReporterOptions configures a Reporter.
type ReporterOptions struct {
	// Component tags every report ("producer", "consumer").
	Component string
	Metrics   []Metric
	// Interval defaults to DefaultInterval.
	Interval time.Duration
	// Sink is optional.
	Sink   Sink
	Logger Logger
}

// NewReporter creates a reporter over counters.
func NewReporter(counters *Counters, opts ReporterOptions) *Reporter {
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	return &Reporter{
		counters:  counters,
		component: opts.Component,
		metrics:   opts.Metrics,
		interval:  opts.Interval,
		sink:      opts.Sink,
		logger:    opts.Logger,
		last:      make(map[string]int64, len(opts.Metrics)),
	}
}

// Run reports every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Report(now)
		}
	}
}

// Report takes one observation, logs the diffs, forwards them to the sink,
// and returns them keyed by metric name.
func (r *Reporter) Report(now time.Time) map[string]int64 {
	snap := r.counters.Snapshot()

	r.mu.Lock()
	diffs := make(map[string]int64, len(r.metrics))
	args := make([]any, 0, 2+2*len(r.metrics))
	args = append(args, "component", r.component)
	for _, m := range r.metrics {
		v := m.Read(snap)
		diffs[m.Name] = v - r.last[m.Name]
		r.last[m.Name] = v
		args = append(args, m.Name, diffs[m.Name])
	}
	r.mu.Unlock()

	if r.logger != nil {
		r.logger.Info("stats", args...)
	}
	if r.sink != nil {
		for _, m := range r.metrics {
			r.sink.Report(now, r.component, m.Name, diffs[m.Name])
		}
	}
	return diffs
}
