package tsdb

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultWriteTimeout = 5 * time.Second

// LineWriter delivers one batch of line protocol to the store.
type LineWriter interface {
	WriteLines(ctx context.Context, lines []string) error
}

// HTTPWriter writes line protocol to an InfluxDB 1.x compatible /write endpoint.
//
// Thread Safety: safe for concurrent use.
type HTTPWriter struct {
	url        string
	database   string
	username   string
	password   string
	httpClient *http.Client
}

// HTTPWriterOptions configures an HTTPWriter.
type HTTPWriterOptions struct {
	// URL is the store base URL (e.g. http://influxdb:8086).
	URL      string
	Database string
	Username string
	Password string
	Timeout  time.Duration
	// HTTPClient overrides the default client (tests).
	HTTPClient *http.Client
}

// NewHTTPWriter creates a writer for the given database.
func NewHTTPWriter(opts HTTPWriterOptions) *HTTPWriter {
	client := opts.HTTPClient
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = defaultWriteTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &HTTPWriter{
		url:        strings.TrimRight(opts.URL, "/"),
		database:   opts.Database,
		username:   opts.Username,
		password:   opts.Password,
		httpClient: client,
	}
}

// WriteLines implements LineWriter.
func (w *HTTPWriter) WriteLines(ctx context.Context, lines []string) error {
	if len(lines) == 0 {
		return nil
	}

	q := url.Values{}
	q.Set("db", w.database)
	q.Set("precision", "ms")

	body := strings.Join(lines, "\n")
	if err := w.post(ctx, "/write?"+q.Encode(), "text/plain; charset=utf-8", body); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// EnsureDatabase creates the database if it does not exist yet.
// CREATE DATABASE is idempotent on the server side.
func (w *HTTPWriter) EnsureDatabase(ctx context.Context) error {
	form := url.Values{}
	form.Set("q", fmt.Sprintf("CREATE DATABASE %q", w.database))

	if err := w.post(ctx, "/query", "application/x-www-form-urlencoded", form.Encode()); err != nil {
		return fmt.Errorf("creating database %s: %w", w.database, err)
	}
	return nil
}

// HealthCheck pings the store.
func (w *HTTPWriter) HealthCheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, w.url+"/ping", nil)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("tsdb health check: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("tsdb health check: status %d", resp.StatusCode)
	}
	return nil
}

func (w *HTTPWriter) post(ctx context.Context, path, contentType, body string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url+path, bytes.NewBufferString(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", contentType)
	if w.username != "" {
		req.SetBasicAuth(w.username, w.password)
	}

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode != http.StatusNoContent && resp.StatusCode != http.StatusOK {
		return fmt.Errorf("HTTP %d", resp.StatusCode)
	}
	return nil
}
