// Telemetry soak consumer.
//
// Subscribes to a tenant's telemetry stream on the messaging broker, decodes
// each JSON payload into a data point, and writes the points in batches to
// the time-series store. Processed messages are reported once a second.
//
// The process exits when the initial connection fails or when it receives a
// shutdown signal; connection losses after startup are retried indefinitely.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/telemetry-soak/internal/api"
	"github.com/nerrad567/telemetry-soak/internal/consumer"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/influxdb"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/tsdb"
	"github.com/nerrad567/telemetry-soak/internal/sink"
	"github.com/nerrad567/telemetry-soak/internal/stats"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const serviceName = "consumer"

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
//
// Parameters:
//   - ctx: Context for cancellation and shutdown signals
//
// Returns:
//   - error: nil on clean shutdown, or error describing failure
func run(ctx context.Context) error {
	log := logging.Default(serviceName)
	log.Info("starting telemetry consumer",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	log = logging.New(cfg.Logging, serviceName, version)
	log.Info("broker", "host", cfg.Broker.Host, "port", cfg.Broker.Port, "tenant", cfg.Broker.Tenant, "tls", cfg.Broker.TLS)

	counters := new(stats.Counters)
	checks := make(map[string]api.HealthChecker)

	handler, closeSink, err := buildHandler(ctx, cfg, counters, log)
	if err != nil {
		return err
	}
	defer closeSink()
	if hc, ok := handler.(api.HealthChecker); ok {
		checks["tsdb"] = hc
	}

	// Metrics sink (optional)
	var metricsSink stats.Sink
	metricsClient, err := influxdb.Connect(ctx, cfg.InfluxDB, cfg.Metrics)
	switch {
	case errors.Is(err, influxdb.ErrDisabled):
		log.Info("metrics sink disabled")
	case err != nil:
		return fmt.Errorf("connecting metrics sink: %w", err)
	default:
		defer func() {
			log.Info("closing metrics sink")
			if closeErr := metricsClient.Close(); closeErr != nil {
				log.Error("error closing metrics sink", "error", closeErr)
			}
		}()
		metricsClient.SetOnError(func(err error) {
			log.Warn("metrics write error", "error", err)
		})
		checks["influxdb"] = metricsClient
		metricsSink = metricsClient
		log.Info("recording metrics")
	}

	c := consumer.New(consumer.Options{
		Connector:      consumer.NewMQTTConnector(cfg.Broker, log.With("component", "mqtt")),
		Handler:        handler,
		Counters:       counters,
		Logger:         log.With("component", "consumer"),
		ReconnectDelay: cfg.Broker.GetReconnectDelay(),
		ConnectTimeout: cfg.Broker.GetConnectTimeout(),
	})

	checks["broker"] = c

	if cfg.Metrics.ListenAddr != "" {
		server, srvErr := api.New(api.Deps{
			Addr:      cfg.Metrics.ListenAddr,
			Logger:    log.With("component", "api"),
			Counters:  counters,
			Component: "consumer",
			Version:   version,
			Checks:    checks,
		})
		if srvErr != nil {
			return fmt.Errorf("creating API server: %w", srvErr)
		}
		if startErr := server.Start(ctx); startErr != nil {
			return fmt.Errorf("starting API server: %w", startErr)
		}
		defer server.Close() //nolint:errcheck // shutdown is best-effort
	}

	reporter := stats.NewReporter(counters, stats.ReporterOptions{
		Component: "consumer",
		Metrics:   stats.ConsumerMetrics,
		Sink:      metricsSink,
		Logger:    log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		return c.Run(gctx)
	})

	err = g.Wait()
	if err != nil {
		return fmt.Errorf("consuming telemetry: %w", err)
	}

	final := counters.Snapshot()
	log.Info("telemetry consumer stopped",
		"processed", final.Processed,
		"persisted", final.Persisted,
		"dropped", final.Dropped,
	)
	return nil
}

// getConfigPath returns the configuration file path from SOAK_CONFIG.
// An empty path means defaults and environment only.
func getConfigPath() string {
	return os.Getenv("SOAK_CONFIG")
}

// sinkHandler is the persistence path: decode into points, batch into the store.
type sinkHandler struct {
	*sink.Writer
	batcher *tsdb.Batcher
}

func (h sinkHandler) HealthCheck(ctx context.Context) error {
	return h.batcher.HealthCheck(ctx)
}

// buildHandler returns the message handler and a cleanup function. With
// persistence disabled messages are only counted.
func buildHandler(ctx context.Context, cfg *config.Config, counters *stats.Counters, log *logging.Logger) (consumer.Handler, func(), error) {
	if !cfg.Persistence.Enabled {
		log.Info("persistence disabled, messages are counted only")
		return nil, func() {}, nil
	}

	batcher, err := tsdb.Connect(ctx, cfg.InfluxDB)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting time-series store: %w", err)
	}
	batcher.SetOnError(func(err error) {
		log.Warn("batch write failed", "error", err)
	})
	log.Info("recording payload", "url", cfg.InfluxDB.StoreURL(), "database", cfg.InfluxDB.Database)

	writer := sink.NewWriter(batcher, counters, log.With("component", "sink"))
	closeFn := func() {
		log.Info("flushing time-series store")
		if closeErr := writer.Close(); closeErr != nil {
			log.Error("error closing time-series store", "error", closeErr)
		}
	}

	return sinkHandler{Writer: writer, batcher: batcher}, closeFn, nil
}
