package producer

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/nerrad567/telemetry-soak/internal/registrar"
	"github.com/nerrad567/telemetry-soak/internal/stats"
)

// Default timeouts.
const (
	DefaultHTTPTimeout     = 10 * time.Second
	defaultRegisterTimeout = 10 * time.Second
)

// Logger is the subset of logging.Logger the producer needs.
type Logger interface {
	Debug(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Options configures a Device. One Options value is typically shared by
// every device of a process.
type Options struct {
	// TelemetryURL is the resolved telemetry endpoint; empty disables sending.
	TelemetryURL string

	// Async selects the asynchronous execution mode for Tick.
	Async bool

	// AutoRegister re-registers the device when the endpoint answers 401.
	AutoRegister bool

	HTTPClient *http.Client
	Registrar  registrar.Registrar
	Counters   *stats.Counters
	Logger     Logger

	// RegisterTimeout bounds one registration call.
	RegisterTimeout time.Duration
}

// Result is the outcome of one telemetry call.
type Result struct {
	// Status is the HTTP status, or 0 when no response arrived.
	Status int
	// Err is nil on success, otherwise wraps one of the package sentinels.
	Err error
}

// Device sends telemetry for one identity.
//
// Every call increments Sent before dispatch and exactly one of Success or
// Failure on completion. A failed call is never retried; the next tick is
// the retry. A 401 triggers a synchronous re-registration when AutoRegister
// is on; its failure is logged and otherwise ignored.
//
// Thread Safety: safe for concurrent use.
type Device struct {
	id       Identity
	request  *Request
	async    bool
	auto     bool
	client   *http.Client
	reg      registrar.Registrar
	counters *stats.Counters
	logger   Logger
	regTO    time.Duration

	inflight sync.WaitGroup
}

// NewDevice creates a device for id.
func NewDevice(id Identity, opts Options) *Device {
	if opts.HTTPClient == nil {
		opts.HTTPClient = NewHTTPClient(DefaultHTTPTimeout, 0)
	}
	if opts.Counters == nil {
		opts.Counters = new(stats.Counters)
	}
	if opts.Logger == nil {
		opts.Logger = nopLogger{}
	}
	if opts.RegisterTimeout <= 0 {
		opts.RegisterTimeout = defaultRegisterTimeout
	}

	d := &Device{
		id:       id,
		async:    opts.Async,
		auto:     opts.AutoRegister,
		client:   opts.HTTPClient,
		reg:      opts.Registrar,
		counters: opts.Counters,
		logger:   opts.Logger,
		regTO:    opts.RegisterTimeout,
	}
	if opts.TelemetryURL != "" {
		req := NewRequest(opts.TelemetryURL, id)
		d.request = &req
	}
	return d
}

// NewHTTPClient returns the client devices share: bounded per call, with
// idle connections kept per host for the whole fleet.
func NewHTTPClient(timeout time.Duration, maxConnsPerHost int) *http.Client {
	if timeout <= 0 {
		timeout = DefaultHTTPTimeout
	}
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		DialContext:         (&net.Dialer{Timeout: timeout, KeepAlive: 30 * time.Second}).DialContext,
		MaxIdleConns:        0,
		MaxIdleConnsPerHost: 256,
		MaxConnsPerHost:     maxConnsPerHost,
		IdleConnTimeout:     90 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

// Identity returns the device identity.
func (d *Device) Identity() Identity {
	return d.id
}

// Tick performs one telemetry call in the configured mode. In synchronous
// mode it blocks until the call completes; in asynchronous mode it returns
// immediately and the outcome is only visible through the counters.
func (d *Device) Tick() {
	if d.async {
		d.SendAsync()
		return
	}
	d.Send(context.Background())
}

// Send performs one telemetry call and blocks until it completes.
func (d *Device) Send(ctx context.Context) Result {
	if d.request == nil {
		return Result{Err: ErrDisabled}
	}

	d.counters.Sent.Add(1)
	return d.execute(ctx)
}

// SendAsync dispatches one telemetry call and returns immediately. The
// result is delivered on the returned channel, which is closed afterwards.
// In-flight calls are not cancelled on shutdown; use Wait to await them.
func (d *Device) SendAsync() <-chan Result {
	results := make(chan Result, 1)
	if d.request == nil {
		results <- Result{Err: ErrDisabled}
		close(results)
		return results
	}

	d.counters.Sent.Add(1)
	d.inflight.Add(1)
	go func() {
		defer d.inflight.Done()
		defer close(results)
		results <- d.execute(context.Background())
	}()
	return results
}

// Wait blocks until every asynchronous call of this device has completed.
func (d *Device) Wait() {
	d.inflight.Wait()
}

// Register registers the device identity with the registry.
func (d *Device) Register(ctx context.Context) error {
	if d.reg == nil {
		return fmt.Errorf("%w: no registrar configured", registrar.ErrRegistrationFailed)
	}

	ctx, cancel := context.WithTimeout(ctx, d.regTO)
	defer cancel()
	return d.reg.Register(ctx, d.id.DeviceID, d.id.User, d.id.Password)
}

// execute performs the HTTP call and classifies the outcome. Sent has
// already been counted by the caller.
func (d *Device) execute(ctx context.Context) Result {
	req, err := d.request.build(ctx)
	if err != nil {
		d.counters.Failure.Add(1)
		return Result{Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}

	resp, err := d.client.Do(req)
	if err != nil {
		d.counters.Failure.Add(1)
		d.logger.Debug("telemetry call failed", "device_id", d.id.DeviceID, "error", err)
		return Result{Err: fmt.Errorf("%w: %w", ErrTransport, err)}
	}
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		d.counters.Success.Add(1)
		return Result{Status: resp.StatusCode}
	}

	d.counters.Failure.Add(1)
	d.logger.Debug("telemetry call rejected",
		"device_id", d.id.DeviceID,
		"url", d.request.URL(),
		"status", resp.StatusCode,
	)

	if resp.StatusCode == http.StatusUnauthorized {
		d.handleUnauthorized(ctx)
		return Result{Status: resp.StatusCode, Err: ErrUnauthorized}
	}
	return Result{Status: resp.StatusCode, Err: fmt.Errorf("%w: HTTP %d", ErrRejected, resp.StatusCode)}
}

// handleUnauthorized re-registers the device when auto-registration is on.
func (d *Device) handleUnauthorized(ctx context.Context) {
	if !d.auto || d.reg == nil {
		return
	}
	if err := d.Register(ctx); err != nil {
		d.logger.Warn("re-registration failed", "device_id", d.id.DeviceID, "error", err)
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
