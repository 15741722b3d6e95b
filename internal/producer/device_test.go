package producer

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/registrar"
	"github.com/nerrad567/telemetry-soak/internal/stats"
)

var testIdentity = Identity{User: "device-0", DeviceID: "device-0", Tenant: "soak", Password: "hono-secret"}

type captured struct {
	method      string
	path        string
	auth        string
	contentType string
	body        string
}

// newEndpoint starts a telemetry endpoint answering every call with status.
func newEndpoint(t *testing.T, status int) (*httptest.Server, func() []captured) {
	t.Helper()
	var mu sync.Mutex
	var calls []captured
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		mu.Lock()
		calls = append(calls, captured{
			method:      r.Method,
			path:        r.URL.Path,
			auth:        r.Header.Get("Authorization"),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		})
		mu.Unlock()
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, func() []captured {
		mu.Lock()
		defer mu.Unlock()
		return append([]captured(nil), calls...)
	}
}

type countingRegistrar struct {
	calls atomic.Int32
	err   error
	last  [3]string
	mu    sync.Mutex
}

func (r *countingRegistrar) Register(_ context.Context, deviceID, user, password string) error {
	r.calls.Add(1)
	r.mu.Lock()
	r.last = [3]string{deviceID, user, password}
	r.mu.Unlock()
	return r.err
}

// checkCounts compares the producer counters with the expected totals.
func checkCounts(t *testing.T, counters *stats.Counters, sent, success, failure int64) {
	t.Helper()
	snap := counters.Snapshot()
	if snap.Sent != sent || snap.Success != success || snap.Failure != failure {
		t.Errorf("counters sent=%d success=%d failure=%d, want %d/%d/%d",
			snap.Sent, snap.Success, snap.Failure, sent, success, failure)
	}
}

func TestSend_Success(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusAccepted)
	counters := new(stats.Counters)
	d := NewDevice(testIdentity, Options{TelemetryURL: srv.URL + "/telemetry", Counters: counters})

	res := d.Send(context.Background())

	if res.Err != nil {
		t.Fatalf("Send() error = %v", res.Err)
	}
	if res.Status != http.StatusAccepted {
		t.Errorf("Status = %d, want %d", res.Status, http.StatusAccepted)
	}
	checkCounts(t, counters, 1, 1, 0)
}

func TestSend_RequestShape(t *testing.T) {
	srv, calls := newEndpoint(t, http.StatusOK)
	d := NewDevice(testIdentity, Options{TelemetryURL: srv.URL + "/telemetry"})

	for i := 0; i < 2; i++ {
		if res := d.Send(context.Background()); res.Err != nil {
			t.Fatalf("Send() error = %v", res.Err)
		}
	}

	got := calls()
	if len(got) != 2 {
		t.Fatalf("calls = %d, want 2", len(got))
	}
	want := "Basic " + base64.StdEncoding.EncodeToString([]byte("device-0@soak:hono-secret"))
	for _, c := range got {
		if c.method != http.MethodPost || c.path != "/telemetry" {
			t.Errorf("call = %s %s, want POST /telemetry", c.method, c.path)
		}
		if c.auth != want {
			t.Errorf("Authorization = %q, want %q", c.auth, want)
		}
		if c.contentType != "application/json" {
			t.Errorf("Content-Type = %q, want application/json", c.contentType)
		}
		if c.body != Payload {
			t.Errorf("body = %q, want %q", c.body, Payload)
		}
	}
}

func TestSend_UnauthorizedReregisters(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusUnauthorized)
	counters := new(stats.Counters)
	reg := &countingRegistrar{}
	d := NewDevice(testIdentity, Options{
		TelemetryURL: srv.URL + "/telemetry",
		AutoRegister: true,
		Registrar:    reg,
		Counters:     counters,
	})

	res := d.Send(context.Background())

	if !errors.Is(res.Err, ErrUnauthorized) {
		t.Errorf("Send() error = %v, want ErrUnauthorized", res.Err)
	}
	if res.Status != http.StatusUnauthorized {
		t.Errorf("Status = %d, want 401", res.Status)
	}
	if got := reg.calls.Load(); got != 1 {
		t.Errorf("registrations = %d, want 1", got)
	}
	if want := [3]string{"device-0", "device-0", "hono-secret"}; reg.last != want {
		t.Errorf("registered %v, want %v", reg.last, want)
	}
	checkCounts(t, counters, 1, 0, 1)
}

func TestSend_UnauthorizedWithoutAutoRegister(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusUnauthorized)
	reg := &countingRegistrar{}
	d := NewDevice(testIdentity, Options{TelemetryURL: srv.URL + "/telemetry", Registrar: reg})

	res := d.Send(context.Background())

	if !errors.Is(res.Err, ErrUnauthorized) {
		t.Errorf("Send() error = %v, want ErrUnauthorized", res.Err)
	}
	if got := reg.calls.Load(); got != 0 {
		t.Errorf("registrations = %d, want 0", got)
	}
}

func TestSend_RegistrationErrorSwallowed(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusUnauthorized)
	counters := new(stats.Counters)
	reg := &countingRegistrar{err: registrar.ErrRegistrationFailed}
	d := NewDevice(testIdentity, Options{
		TelemetryURL: srv.URL + "/telemetry",
		AutoRegister: true,
		Registrar:    reg,
		Counters:     counters,
	})

	res := d.Send(context.Background())

	if !errors.Is(res.Err, ErrUnauthorized) {
		t.Errorf("Send() error = %v, want ErrUnauthorized", res.Err)
	}
	if errors.Is(res.Err, registrar.ErrRegistrationFailed) {
		t.Error("registration error leaked into the call result")
	}
	if got := reg.calls.Load(); got != 1 {
		t.Errorf("registrations = %d, want 1", got)
	}
	checkCounts(t, counters, 1, 0, 1)
}

func TestSend_OtherFailureDoesNotRegister(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusServiceUnavailable)
	counters := new(stats.Counters)
	reg := &countingRegistrar{}
	d := NewDevice(testIdentity, Options{
		TelemetryURL: srv.URL + "/telemetry",
		AutoRegister: true,
		Registrar:    reg,
		Counters:     counters,
	})

	res := d.Send(context.Background())

	if !errors.Is(res.Err, ErrRejected) {
		t.Errorf("Send() error = %v, want ErrRejected", res.Err)
	}
	if res.Status != http.StatusServiceUnavailable {
		t.Errorf("Status = %d, want 503", res.Status)
	}
	if got := reg.calls.Load(); got != 0 {
		t.Errorf("registrations = %d, want 0", got)
	}
	checkCounts(t, counters, 1, 0, 1)
}

func TestSend_TransportFailure(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK)
	url := srv.URL + "/telemetry"
	srv.Close()

	counters := new(stats.Counters)
	d := NewDevice(testIdentity, Options{
		TelemetryURL: url,
		HTTPClient:   NewHTTPClient(time.Second, 0),
		Counters:     counters,
	})

	res := d.Send(context.Background())

	if !errors.Is(res.Err, ErrTransport) {
		t.Errorf("Send() error = %v, want ErrTransport", res.Err)
	}
	if res.Status != 0 {
		t.Errorf("Status = %d, want 0", res.Status)
	}
	checkCounts(t, counters, 1, 0, 1)
}

func TestSend_Disabled(t *testing.T) {
	counters := new(stats.Counters)
	d := NewDevice(testIdentity, Options{Counters: counters})

	if res := d.Send(context.Background()); !errors.Is(res.Err, ErrDisabled) {
		t.Errorf("Send() error = %v, want ErrDisabled", res.Err)
	}

	r, ok := <-d.SendAsync()
	if !ok {
		t.Fatal("SendAsync() channel closed without a result")
	}
	if !errors.Is(r.Err, ErrDisabled) {
		t.Errorf("SendAsync() error = %v, want ErrDisabled", r.Err)
	}

	d.Tick()
	if got := counters.Snapshot(); got != (stats.Snapshot{}) {
		t.Errorf("counters = %+v, want zero", got)
	}
}

func TestSendAsync_DeliversResult(t *testing.T) {
	srv, _ := newEndpoint(t, http.StatusOK)
	d := NewDevice(testIdentity, Options{TelemetryURL: srv.URL + "/telemetry"})

	select {
	case res := <-d.SendAsync():
		if res.Err != nil {
			t.Errorf("SendAsync() error = %v", res.Err)
		}
		if res.Status != http.StatusOK {
			t.Errorf("Status = %d, want 200", res.Status)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no async result")
	}
}

func TestTick_AsyncDoesNotBlock(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		<-release
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	counters := new(stats.Counters)
	d := NewDevice(testIdentity, Options{TelemetryURL: srv.URL + "/telemetry", Async: true, Counters: counters})

	returned := make(chan struct{})
	go func() {
		d.Tick()
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("async Tick blocked on the call")
	}
	if got := counters.Sent.Load(); got != 1 {
		t.Errorf("Sent = %d, want 1", got)
	}
	if got := counters.Snapshot().InFlight(); got != 1 {
		t.Errorf("InFlight() = %d, want 1", got)
	}

	close(release)
	d.Wait()
	if got := counters.Success.Load(); got != 1 {
		t.Errorf("Success = %d, want 1", got)
	}
}

func TestTick_AsyncConcurrentAccounting(t *testing.T) {
	var n atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if n.Add(1)%4 == 0 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	counters := new(stats.Counters)
	opts := Options{TelemetryURL: srv.URL + "/telemetry", Async: true, Counters: counters}
	devices := make([]*Device, 8)
	for i := range devices {
		devices[i] = NewDevice(testIdentity, opts)
	}

	for round := 0; round < 25; round++ {
		for _, d := range devices {
			d.Tick()
		}
	}
	for _, d := range devices {
		d.Wait()
	}

	checkCounts(t, counters, 200, 150, 50)
}

func TestRegister(t *testing.T) {
	reg := &countingRegistrar{}
	d := NewDevice(testIdentity, Options{Registrar: reg})
	if err := d.Register(context.Background()); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if got := reg.calls.Load(); got != 1 {
		t.Errorf("registrations = %d, want 1", got)
	}

	bare := NewDevice(testIdentity, Options{})
	if err := bare.Register(context.Background()); !errors.Is(err, registrar.ErrRegistrationFailed) {
		t.Errorf("Register() without registrar error = %v, want ErrRegistrationFailed", err)
	}
}

func TestIdentity_AuthID(t *testing.T) {
	if got := testIdentity.AuthID(); got != "device-0@soak" {
		t.Errorf("AuthID() = %q, want device-0@soak", got)
	}
	req := NewRequest("http://h/telemetry", testIdentity)
	if got := req.URL(); got != "http://h/telemetry" {
		t.Errorf("URL() = %q", got)
	}
}
