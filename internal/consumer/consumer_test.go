package consumer

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/stats"
)

// --- fakes ---

type fakeConn struct {
	alive        atomic.Bool
	mu           sync.Mutex
	deliver      func(Message)
	closed       func(error)
	subscribeErr error
	healthErr    error
	subscribes   int
	closeCalls   int
}

func (f *fakeConn) HealthCheck(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthErr
}

func (f *fakeConn) Subscribe(_ context.Context, deliver func(Message), closed func(error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.subscribes++
	if f.subscribeErr != nil {
		return f.subscribeErr
	}
	f.deliver = deliver
	f.closed = closed
	return nil
}

func (f *fakeConn) Alive() bool { return f.alive.Load() }

func (f *fakeConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closeCalls++
	f.alive.Store(false)
	return nil
}

func (f *fakeConn) send(msg Message) {
	f.mu.Lock()
	deliver := f.deliver
	f.mu.Unlock()
	deliver(msg)
}

func (f *fakeConn) closeSubscription(err error) {
	f.mu.Lock()
	closed := f.closed
	f.mu.Unlock()
	closed(err)
}

type fakeConnector struct {
	mu    sync.Mutex
	err   error
	conns []*fakeConn
	lost  []func(error)
}

func (f *fakeConnector) Connect(_ context.Context, lost func(error)) (Connection, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	conn := &fakeConn{}
	conn.alive.Store(true)
	f.conns = append(f.conns, conn)
	f.lost = append(f.lost, lost)
	return conn, nil
}

func (f *fakeConnector) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

func (f *fakeConnector) dials() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.conns)
}

func (f *fakeConnector) last() (*fakeConn, func(error)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1], f.lost[len(f.lost)-1]
}

type fakeTimer struct {
	f       func()
	d       time.Duration
	stopped bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	timers []*fakeTimer
}

func (c *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := &fakeTimer{f: f, d: d}
	c.timers = append(c.timers, t)
	return t
}

func (c *fakeClock) scheduled() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.timers)
}

func (c *fakeClock) pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped {
			n++
		}
	}
	return n
}

// fireLast runs the most recently scheduled timer callback.
func (c *fakeClock) fireLast() {
	c.mu.Lock()
	t := c.timers[len(c.timers)-1]
	t.stopped = true
	c.mu.Unlock()
	t.f()
}

// waitForState polls until c reaches want or a second has passed.
func waitForState(t *testing.T, c *Consumer, want State) {
	t.Helper()
	deadline := time.Now().Add(time.Second)
	for c.State() != want {
		if time.Now().After(deadline) {
			t.Fatalf("State() = %s after 1s, want %s", c.State(), want)
		}
		time.Sleep(time.Millisecond)
	}
}

func checkState(t *testing.T, c *Consumer, want State) {
	t.Helper()
	if got := c.State(); got != want {
		t.Errorf("State() = %s, want %s", got, want)
	}
}

func receive(t *testing.T, ch <-chan string) string {
	t.Helper()
	select {
	case body := <-ch:
		return body
	case <-time.After(time.Second):
		t.Fatal("no message handed to the handler")
		return ""
	}
}

type harness struct {
	consumer  *Consumer
	connector *fakeConnector
	clock     *fakeClock
	counters  *stats.Counters
	received  chan string
	cancel    context.CancelFunc
	runErr    chan error
}

func startConsumer(t *testing.T) *harness {
	t.Helper()

	h := &harness{
		connector: &fakeConnector{},
		clock:     &fakeClock{},
		counters:  new(stats.Counters),
		received:  make(chan string, 16),
		runErr:    make(chan error, 1),
	}
	h.consumer = New(Options{
		Connector: h.connector,
		Handler: HandlerFunc(func(_ map[string]any, body string) error {
			h.received <- body
			return nil
		}),
		Counters:       h.counters,
		ReconnectDelay: 5 * time.Second,
		AfterFunc:      h.clock.AfterFunc,
	})

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.runErr <- h.consumer.Run(ctx) }()

	waitForState(t, h.consumer, Consuming)
	t.Cleanup(func() {
		cancel()
		h.consumer.Close() //nolint:errcheck // Test cleanup
	})
	return h
}

// --- lifecycle ---

func TestRun_InitialConnectFailureIsTerminal(t *testing.T) {
	connector := &fakeConnector{err: errors.New("connection refused")}
	clock := &fakeClock{}
	c := New(Options{Connector: connector, AfterFunc: clock.AfterFunc})

	err := c.Run(context.Background())

	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Run() error = %v, want ErrConnectFailed", err)
	}
	checkState(t, c, Closing)
	if got := clock.scheduled(); got != 0 {
		t.Errorf("scheduled reconnects = %d, want 0 after an initial failure", got)
	}
}

func TestRun_InitialSubscribeFailureReleasesConnection(t *testing.T) {
	connector := &subscribeFailConnector{}
	c := New(Options{Connector: connector})

	err := c.Run(context.Background())

	if !errors.Is(err, ErrConnectFailed) {
		t.Fatalf("Run() error = %v, want ErrConnectFailed", err)
	}
	if connector.conn == nil {
		t.Fatal("no connection dialled")
	}
	if connector.conn.closeCalls != 1 {
		t.Errorf("close calls = %d, want 1", connector.conn.closeCalls)
	}
}

type subscribeFailConnector struct{ conn *fakeConn }

func (s *subscribeFailConnector) Connect(context.Context, func(error)) (Connection, error) {
	s.conn = &fakeConn{subscribeErr: errors.New("not authorized")}
	s.conn.alive.Store(true)
	return s.conn, nil
}

func TestRun_ConsumesUntilCancelled(t *testing.T) {
	h := startConsumer(t)
	conn, _ := h.connector.last()

	conn.send(Message{Body: DataSection(`{"temp":21.5}`)})
	if got := receive(t, h.received); got != `{"temp":21.5}` {
		t.Errorf("handled body = %q", got)
	}

	h.cancel()
	select {
	case err := <-h.runErr:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
	checkState(t, h.consumer, Closing)
	if conn.closeCalls != 1 {
		t.Errorf("close calls = %d, want 1", conn.closeCalls)
	}
}

func TestRun_Twice(t *testing.T) {
	h := startConsumer(t)
	if err := h.consumer.Run(context.Background()); !errors.Is(err, ErrClosed) {
		t.Errorf("second Run() error = %v, want ErrClosed", err)
	}
}

func TestClose_UnblocksRun(t *testing.T) {
	h := startConsumer(t)

	for i := 0; i < 2; i++ {
		if err := h.consumer.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}

	select {
	case err := <-h.runErr:
		if err != nil {
			t.Fatalf("Run() error = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after Close")
	}
}

// --- reconnect protocol ---

func TestDisconnect_SchedulesSingleReconnect(t *testing.T) {
	h := startConsumer(t)
	conn, lost := h.connector.last()

	conn.alive.Store(false)
	lost(errors.New("connection reset"))

	checkState(t, h.consumer, Disconnected)
	if got := h.clock.scheduled(); got != 1 {
		t.Fatalf("scheduled reconnects = %d, want 1", got)
	}
	if d := h.clock.timers[0].d; d != 5*time.Second {
		t.Errorf("reconnect delay = %v, want 5s", d)
	}

	// A second disconnect before the timer fires must not stack a timer.
	lost(errors.New("connection reset"))
	conn.closeSubscription(errors.New("detached"))
	if got := h.clock.scheduled(); got != 1 {
		t.Errorf("scheduled reconnects = %d, want 1", got)
	}

	h.clock.fireLast()

	checkState(t, h.consumer, Consuming)
	if got := h.connector.dials(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}

	// The old connection's callbacks are stale now.
	lost(errors.New("late"))
	checkState(t, h.consumer, Consuming)
	if got := h.clock.scheduled(); got != 1 {
		t.Errorf("scheduled reconnects = %d, want 1", got)
	}
}

func TestReconnectFailure_RetriesForever(t *testing.T) {
	h := startConsumer(t)
	_, lost := h.connector.last()

	lost(errors.New("broker restart"))
	h.connector.setErr(errors.New("connection refused"))

	for i := 1; i <= 3; i++ {
		h.clock.fireLast()
		checkState(t, h.consumer, Disconnected)
		if got := h.clock.scheduled(); got != i+1 {
			t.Errorf("attempt %d: scheduled = %d, want %d", i, got, i+1)
		}
		if got := h.clock.pending(); got != 1 {
			t.Errorf("attempt %d: pending timers = %d, want 1", i, got)
		}
	}

	h.connector.setErr(nil)
	h.clock.fireLast()

	checkState(t, h.consumer, Consuming)
	if got := h.connector.dials(); got != 2 {
		t.Errorf("dials = %d, want 2", got)
	}
}

func TestSubscriptionClosed_ResubscribesOnLiveConnection(t *testing.T) {
	h := startConsumer(t)
	conn, _ := h.connector.last()

	conn.closeSubscription(errors.New("link detached"))
	checkState(t, h.consumer, Disconnected)
	if got := h.clock.scheduled(); got != 1 {
		t.Fatalf("scheduled reconnects = %d, want 1", got)
	}

	h.clock.fireLast()

	checkState(t, h.consumer, Consuming)
	if got := h.connector.dials(); got != 1 {
		t.Errorf("dials = %d, want 1 (live connection is reused)", got)
	}
	if conn.subscribes != 2 {
		t.Errorf("subscribes = %d, want 2", conn.subscribes)
	}

	conn.send(Message{Body: StringBody(`{}`)})
	if got := receive(t, h.received); got != `{}` {
		t.Errorf("handled body = %q", got)
	}
}

func TestClose_CancelsPendingReconnect(t *testing.T) {
	h := startConsumer(t)
	_, lost := h.connector.last()

	lost(errors.New("gone"))
	if got := h.clock.pending(); got != 1 {
		t.Fatalf("pending timers = %d, want 1", got)
	}

	if err := h.consumer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if got := h.clock.pending(); got != 0 {
		t.Errorf("pending timers = %d, want 0", got)
	}

	// A timer that fires despite Stop finds the consumer closing.
	h.clock.fireLast()
	checkState(t, h.consumer, Closing)
	if got := h.connector.dials(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
}

func TestDisconnectWhileClosing_Ignored(t *testing.T) {
	h := startConsumer(t)
	_, lost := h.connector.last()

	if err := h.consumer.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	lost(errors.New("eof"))

	if got := h.clock.scheduled(); got != 0 {
		t.Errorf("scheduled reconnects = %d, want 0", got)
	}
}

// --- health ---

func TestHealthCheck_FollowsState(t *testing.T) {
	h := startConsumer(t)
	conn, lost := h.connector.last()

	if err := h.consumer.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() while consuming error = %v", err)
	}

	conn.mu.Lock()
	conn.healthErr = errors.New("mqtt: not connected")
	conn.mu.Unlock()
	if err := h.consumer.HealthCheck(context.Background()); err == nil {
		t.Error("HealthCheck() should report the connection probe failure")
	}

	lost(errors.New("connection reset"))
	if err := h.consumer.HealthCheck(context.Background()); !errors.Is(err, ErrNotConsuming) {
		t.Errorf("HealthCheck() after disconnect error = %v, want ErrNotConsuming", err)
	}
}

func TestHealthCheck_BeforeRun(t *testing.T) {
	c := New(Options{Connector: &fakeConnector{}})
	if err := c.HealthCheck(context.Background()); !errors.Is(err, ErrNotConsuming) {
		t.Errorf("HealthCheck() error = %v, want ErrNotConsuming", err)
	}
}

// --- message handling ---

type bogusBody struct{}

func (bogusBody) isBody() {}

func TestDeliver_DecodesAndDrops(t *testing.T) {
	h := startConsumer(t)
	conn, _ := h.connector.last()

	conn.send(Message{Body: StringBody("a")})
	conn.send(Message{Body: BytesBody("b")})
	conn.send(Message{Body: DataSection("c")})
	conn.send(Message{Body: bogusBody{}})
	conn.send(Message{})

	for _, want := range []string{"a", "b", "c"} {
		if got := receive(t, h.received); got != want {
			t.Errorf("handled body = %q, want %q", got, want)
		}
	}
	if n := len(h.received); n != 0 {
		t.Errorf("%d unsupported bodies were forwarded", n)
	}

	snap := h.counters.Snapshot()
	if snap.Processed != 5 || snap.Dropped != 2 {
		t.Errorf("processed=%d dropped=%d, want 5 and 2", snap.Processed, snap.Dropped)
	}
}

func TestDeliver_HandlerErrorCountsDrop(t *testing.T) {
	connector := &fakeConnector{}
	counters := new(stats.Counters)
	c := New(Options{
		Connector: connector,
		Counters:  counters,
		Handler: HandlerFunc(func(map[string]any, string) error {
			return errors.New("decode failed")
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx) //nolint:errcheck // cancelled below
	waitForState(t, c, Consuming)

	conn, _ := connector.last()
	conn.send(Message{Body: StringBody("[1]")})

	if got := counters.Processed.Load(); got != 1 {
		t.Errorf("Processed = %d, want 1", got)
	}
	if got := counters.Dropped.Load(); got != 1 {
		t.Errorf("Dropped = %d, want 1", got)
	}
}

func TestDeliver_PreservesAnnotations(t *testing.T) {
	connector := &fakeConnector{}
	got := make(chan map[string]any, 1)
	c := New(Options{
		Connector: connector,
		Handler: HandlerFunc(func(a map[string]any, _ string) error {
			got <- a
			return nil
		}),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go c.Run(ctx) //nolint:errcheck // cancelled below
	waitForState(t, c, Consuming)

	conn, _ := connector.last()
	annotations := map[string]any{"loc": "room1", "zone": 7}
	conn.send(Message{Body: StringBody("{}"), Annotations: annotations})

	if a := <-got; !reflect.DeepEqual(a, annotations) {
		t.Errorf("annotations = %v, want %v", a, annotations)
	}
}

func TestDecodeBody(t *testing.T) {
	tests := []struct {
		name    string
		body    Body
		want    string
		wantErr bool
	}{
		{"string", StringBody(`{"a":1}`), `{"a":1}`, false},
		{"bytes", BytesBody(`{"a":1}`), `{"a":1}`, false},
		{"data section", DataSection("héllo"), "héllo", false},
		{"nil", nil, "", true},
		{"unsupported", bogusBody{}, "", true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			got, err := DecodeBody(tt.body)
			if tt.wantErr {
				if !errors.Is(err, ErrUnsupportedBody) {
					t.Errorf("DecodeBody() error = %v, want ErrUnsupportedBody", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("DecodeBody() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("DecodeBody() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestStateString(t *testing.T) {
	tests := []struct {
		state State
		want  string
	}{
		{Disconnected, "disconnected"},
		{Connecting, "connecting"},
		{Consuming, "consuming"},
		{Closing, "closing"},
		{State(42), "unknown"},
	}
	for _, tt := range tests {
		if got := tt.state.String(); got != tt.want {
			t.Errorf("State(%d).String() = %q, want %q", int(tt.state), got, tt.want)
		}
	}
}
