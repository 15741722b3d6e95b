// Telemetry soak simulator.
//
// Simulates a fleet of devices posting telemetry to an HTTP adapter at a fixed
// per-device cadence, re-registering devices that are rejected with 401, and
// reporting sent/success/failure once a second.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nerrad567/telemetry-soak/internal/api"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/config"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/database"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/influxdb"
	"github.com/nerrad567/telemetry-soak/internal/infrastructure/logging"
	"github.com/nerrad567/telemetry-soak/internal/producer"
	"github.com/nerrad567/telemetry-soak/internal/registrar"
	"github.com/nerrad567/telemetry-soak/internal/stats"
	"github.com/nerrad567/telemetry-soak/migrations"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

const (
	serviceName = "simulator"

	// registrationWorkers bounds concurrent registrations at startup.
	registrationWorkers = 16
)

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
//   - error: nil on clean shutdown, or error describing a startup failure
func run(ctx context.Context) error {
	log := logging.Default(serviceName)
	log.Info("starting telemetry simulator",
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

	counters := new(stats.Counters)
	checks := make(map[string]api.HealthChecker)

	// Registrar (optional): registry client wrapped by the SQLite ledger
	var ledger *registrar.Ledger
	if cfg.Registry.URL != "" {
		db, dbErr := openLedgerDB(ctx, cfg.Database)
		if dbErr != nil {
			return dbErr
		}
		defer func() {
			log.Info("closing database")
			if closeErr := db.Close(); closeErr != nil {
				log.Error("error closing database", "error", closeErr)
			}
		}()
		checks["database"] = db

		client, regErr := registrar.NewHTTPClient(registrar.HTTPOptions{
			BaseURL:  cfg.Registry.URL,
			Tenant:   cfg.Producer.Tenant,
			Username: cfg.Registry.Username,
			Password: cfg.Registry.Password,
			Timeout:  cfg.Registry.GetTimeout(),
		})
		if regErr != nil {
			return fmt.Errorf("creating registrar: %w", regErr)
		}
		ledger = registrar.NewLedger(client, db, cfg.Producer.Tenant)
		log.Info("device registry configured", "url", cfg.Registry.URL)
	} else {
		log.Info("no device registry configured, registration disabled")
	}

	telemetryURL, enabled := cfg.Producer.TelemetryURL()
	if enabled {
		log.Info("telemetry endpoint", "url", telemetryURL, "async", cfg.Producer.Async)
	} else {
		log.Warn("no telemetry endpoint configured, sending disabled")
	}

	opts := producer.Options{
		TelemetryURL:    telemetryURL,
		Async:           cfg.Producer.Async,
		AutoRegister:    cfg.Producer.AutoRegister,
		HTTPClient:      producer.NewHTTPClient(cfg.Producer.GetHTTPTimeout(), cfg.Producer.MaxConnsPerHost),
		Counters:        counters,
		Logger:          log.With("component", "producer"),
		RegisterTimeout: cfg.Registry.GetTimeout(),
	}
	if ledger != nil {
		opts.Registrar = ledger
	}
	devices := buildDevices(cfg.Producer, opts)
	log.Info("devices created", "count", len(devices), "tenant", cfg.Producer.Tenant)

	if cfg.Producer.RegisterOnStartup && ledger != nil {
		registered := registerDevices(ctx, devices, ledger, log)
		log.Info("initial registration complete", "registered", registered, "devices", len(devices))
	}

	// Metrics sink (optional)
	var sink stats.Sink
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
		sink = metricsClient
	}

	// Operational endpoint (optional)
	if cfg.Metrics.ListenAddr != "" {
		server, srvErr := api.New(api.Deps{
			Addr:      cfg.Metrics.ListenAddr,
			Logger:    log.With("component", "api"),
			Counters:  counters,
			Component: "producer",
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
		Component: "producer",
		Metrics:   stats.ProducerMetrics,
		Sink:      sink,
		Logger:    log,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})
	interval := cfg.Producer.GetTickInterval()
	for i, d := range devices {
		i, d := i, d
		offset := stagger(i, len(devices), interval)
		g.Go(func() error {
			drive(gctx, d, offset, interval)
			return nil
		})
	}

	log.Info("simulation running", "tick_interval", interval)
	_ = g.Wait()

	log.Info("shutdown signal received, waiting for in-flight calls")
	for _, d := range devices {
		d.Wait()
	}

	final := counters.Snapshot()
	log.Info("telemetry simulator stopped",
		"sent", final.Sent,
		"success", final.Success,
		"failure", final.Failure,
	)
	return nil
}

// getConfigPath returns the configuration file path from SOAK_CONFIG.
// An empty path means defaults and environment only.
func getConfigPath() string {
	return os.Getenv("SOAK_CONFIG")
}

// openLedgerDB opens the registration ledger database and applies migrations.
func openLedgerDB(ctx context.Context, cfg config.DatabaseConfig) (*database.DB, error) {
	db, err := database.Open(ctx, database.Config{
		Path:        cfg.Path,
		WALMode:     cfg.WALMode,
		BusyTimeout: cfg.BusyTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Migrate(ctx, migrations.FS); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return db, nil
}

// buildDevices creates the simulated fleet: <prefix>-<index>, with the
// device ID doubling as the auth user.
func buildDevices(cfg config.ProducerConfig, opts producer.Options) []*producer.Device {
	devices := make([]*producer.Device, 0, cfg.Devices)
	for i := 0; i < cfg.Devices; i++ {
		id := fmt.Sprintf("%s-%d", cfg.DevicePrefix, i)
		devices = append(devices, producer.NewDevice(producer.Identity{
			User:     id,
			DeviceID: id,
			Tenant:   cfg.Tenant,
			Password: cfg.DevicePassword,
		}, opts))
	}
	return devices
}

// registerDevices registers every device the ledger does not already know.
// Failures are logged and skipped; the 401 path retries them later.
func registerDevices(ctx context.Context, devices []*producer.Device, ledger *registrar.Ledger, log *logging.Logger) int {
	var g errgroup.Group
	g.SetLimit(registrationWorkers)

	results := make([]bool, len(devices))
	for i, d := range devices {
		i, d := i, d
		g.Go(func() error {
			id := d.Identity()
			known, err := ledger.IsRegistered(ctx, id.DeviceID, id.User)
			if err != nil {
				log.Warn("ledger lookup failed", "device_id", id.DeviceID, "error", err)
			}
			if known {
				attempts, err := ledger.Attempts(ctx, id.DeviceID)
				if err != nil {
					log.Warn("ledger lookup failed", "device_id", id.DeviceID, "error", err)
				}
				log.Debug("device already registered", "device_id", id.DeviceID, "registrations", attempts)
				results[i] = true
				return nil
			}
			if err := d.Register(ctx); err != nil {
				log.Warn("initial registration failed", "device_id", id.DeviceID, "error", err)
				return nil
			}
			results[i] = true
			return nil
		})
	}
	_ = g.Wait()

	n := 0
	for _, ok := range results {
		if ok {
			n++
		}
	}
	return n
}

// stagger spreads first ticks evenly across one interval.
func stagger(i, n int, interval time.Duration) time.Duration {
	if n <= 1 {
		return 0
	}
	return time.Duration(int64(interval) * int64(i) / int64(n))
}

// drive ticks d every interval, after offset, until ctx is cancelled.
// In synchronous mode a slow call delays the device's next tick.
func drive(ctx context.Context, d *producer.Device, offset, interval time.Duration) {
	if offset > 0 {
		timer := time.NewTimer(offset)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		d.Tick()
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
