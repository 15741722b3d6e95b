package sink

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"strconv"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/tsdb"
	"github.com/nerrad567/telemetry-soak/internal/stats"
)

// Measurement is the measurement name of every telemetry point.
const Measurement = "P"

// ErrDecode is returned when a payload is not a JSON object or carries no
// numeric field.
var ErrDecode = errors.New("sink: payload is not a JSON object")

// Batch receives built points. *tsdb.Batcher implements it.
type Batch interface {
	Add(p tsdb.Point) error
}

// Logger is the subset of logging.Logger the writer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Writer turns telemetry messages into data points.
//
// Each message becomes one point in measurement "P", timestamped with the
// processing time. String annotations become tags. Numeric payload values
// become fields as-is; string values become fields when they parse as a
// finite float. Everything else is ignored, and a message left without any
// field is dropped.
//
// Thread Safety: safe for concurrent use if the Batch is.
type Writer struct {
	batch    Batch
	counters *stats.Counters
	logger   Logger
	now      func() time.Time
}

// NewWriter creates a writer feeding batch.
func NewWriter(batch Batch, counters *stats.Counters, logger Logger) *Writer {
	if counters == nil {
		counters = new(stats.Counters)
	}
	if logger == nil {
		logger = nopLogger{}
	}
	return &Writer{
		batch:    batch,
		counters: counters,
		logger:   logger,
		now:      time.Now,
	}
}

// Consume decodes one message and enqueues the resulting point.
//
// Parameters:
//   - annotations: Broker metadata; string values become tags
//   - body: JSON payload, must be an object
//
// Returns:
//   - error: ErrDecode (wrapped) for a malformed payload, or the batch error
func (w *Writer) Consume(annotations map[string]any, body string) error {
	point, err := w.Decode(annotations, body)
	if err != nil {
		w.logger.Warn("dropping undecodable payload", "error", err)
		return err
	}

	if err := w.batch.Add(point); err != nil {
		return fmt.Errorf("enqueueing point: %w", err)
	}
	w.counters.Persisted.Add(1)
	return nil
}

// Close flushes and releases the batch when it supports closing.
func (w *Writer) Close() error {
	if c, ok := w.batch.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

// Decode builds the point for one message without enqueueing it.
func (w *Writer) Decode(annotations map[string]any, body string) (tsdb.Point, error) {
	values, err := decodeObject(body)
	if err != nil {
		return tsdb.Point{}, err
	}

	tags := make(map[string]string, len(annotations))
	for k, v := range annotations {
		if s, ok := v.(string); ok {
			tags[k] = s
		}
	}

	fields := make(map[string]any, len(values))
	for k, v := range values {
		switch val := v.(type) {
		case json.Number:
			if n, ok := numberField(val); ok {
				fields[k] = n
			}
		case string:
			f, err := strconv.ParseFloat(val, 64)
			if err != nil {
				w.logger.Debug("dropping non-numeric field", "field", k, "error", err)
				continue
			}
			if math.IsNaN(f) || math.IsInf(f, 0) {
				w.logger.Debug("dropping non-finite field", "field", k, "value", val)
				continue
			}
			fields[k] = f
		}
	}
	if len(fields) == 0 {
		return tsdb.Point{}, fmt.Errorf("%w: no numeric fields", ErrDecode)
	}

	return tsdb.Point{
		Measurement: Measurement,
		Time:        w.now().Truncate(time.Millisecond),
		Tags:        tags,
		Fields:      fields,
	}, nil
}

// decodeObject parses body as a single JSON object, keeping numbers exact.
func decodeObject(body string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewBufferString(body))
	dec.UseNumber()

	var values map[string]any
	if err := dec.Decode(&values); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if values == nil {
		return nil, fmt.Errorf("%w: null", ErrDecode)
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("%w: trailing data", ErrDecode)
	}
	return values, nil
}

// numberField keeps integers as int64 and everything else as float64.
func numberField(n json.Number) (any, bool) {
	if i, err := n.Int64(); err == nil {
		return i, true
	}
	if f, err := n.Float64(); err == nil {
		return f, true
	}
	return nil, false
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
