package tsdb

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
)

func TestHTTPWriter_WriteLines(t *testing.T) {
	var gotPath, gotQuery, gotBody, gotUser, gotPass string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		body, _ := io.ReadAll(r.Body)
		gotBody = string(body)
		gotUser, gotPass, _ = r.BasicAuth()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewHTTPWriter(HTTPWriterOptions{URL: srv.URL + "/", Database: "soak", Username: "u", Password: "p"})

	if err := w.WriteLines(context.Background(), []string{"P a=1 1", "P a=2 2"}); err != nil {
		t.Fatalf("WriteLines() error = %v", err)
	}

	if gotPath != "/write" {
		t.Errorf("path = %q, want /write", gotPath)
	}
	q, _ := url.ParseQuery(gotQuery)
	if q.Get("db") != "soak" || q.Get("precision") != "ms" {
		t.Errorf("query = %q, want db=soak&precision=ms", gotQuery)
	}
	if gotBody != "P a=1 1\nP a=2 2" {
		t.Errorf("body = %q", gotBody)
	}
	if gotUser != "u" || gotPass != "p" {
		t.Errorf("basic auth = %q:%q, want u:p", gotUser, gotPass)
	}
}

func TestHTTPWriter_WriteRejected(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewHTTPWriter(HTTPWriterOptions{URL: srv.URL, Database: "soak"})

	err := w.WriteLines(context.Background(), []string{"P a=1 1"})
	if !errors.Is(err, ErrWriteFailed) {
		t.Errorf("WriteLines() error = %v, want ErrWriteFailed", err)
	}
}

func TestConnect_CreatesDatabase(t *testing.T) {
	var gotQuery string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/query" {
			_ = r.ParseForm()
			gotQuery = r.PostForm.Get("q")
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	b, err := Connect(context.Background(), config.InfluxDBConfig{URL: srv.URL, Database: "soak"})
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer b.Close() //nolint:errcheck // Test cleanup

	if gotQuery != `CREATE DATABASE "soak"` {
		t.Errorf("query = %q", gotQuery)
	}
	if b.size != DefaultBatchSize || b.interval != DefaultFlushInterval {
		t.Errorf("batch window = %d/%v, want defaults", b.size, b.interval)
	}
}

func TestConnect_Unreachable(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	_, err := Connect(context.Background(), config.InfluxDBConfig{URL: base, Database: "soak"})
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestHTTPWriter_HealthCheck(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/ping" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewHTTPWriter(HTTPWriterOptions{URL: srv.URL})
	if err := w.HealthCheck(context.Background()); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}
