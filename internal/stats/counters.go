package stats

import "sync/atomic"

// Counters holds the process-wide tallies shared by every producer and
// consumer worker. Build one with new(Counters) at startup and pass the
// pointer to each component that updates or reports it.
//
// All fields are lock-free and safe for concurrent use.
type Counters struct {
	// Sent counts telemetry calls dispatched by producers.
	Sent atomic.Int64
	// Success counts calls answered with a 2xx status.
	Success atomic.Int64
	// Failure counts calls answered otherwise or failed in transport.
	Failure atomic.Int64
	// Processed counts messages delivered to the consumer.
	Processed atomic.Int64
	// Persisted counts data points handed to the store batcher.
	Persisted atomic.Int64
	// Dropped counts messages discarded because they could not be decoded.
	Dropped atomic.Int64
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Sent      int64
	Success   int64
	Failure   int64
	Processed int64
	Persisted int64
	Dropped   int64
}

// Snapshot reads every counter. Individual loads are atomic but the set is
// not, so a concurrent tick may be half-visible. Sent is loaded last so the
// sent >= success+failure relation holds in every snapshot.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		Success:   c.Success.Load(),
		Failure:   c.Failure.Load(),
		Processed: c.Processed.Load(),
		Persisted: c.Persisted.Load(),
		Dropped:   c.Dropped.Load(),
	}
	s.Sent = c.Sent.Load()
	return s
}

// InFlight returns the number of sent calls without a recorded outcome.
func (s Snapshot) InFlight() int64 {
	return s.Sent - s.Success - s.Failure
}
