package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// telemetryPath is the resource the producer posts to, resolved against the endpoint base URL.
const telemetryPath = "/telemetry"

// Config is the root configuration structure for the soak harness.
// Both binaries (simulator and consumer) load the same structure and use the
// sections that concern them. All configuration is loaded from YAML and can be
// overridden by environment variables.
type Config struct {
	Producer    ProducerConfig    `yaml:"producer"`
	Registry    RegistryConfig    `yaml:"registry"`
	Broker      BrokerConfig      `yaml:"broker"`
	Persistence PersistenceConfig `yaml:"persistence"`
	InfluxDB    InfluxDBConfig    `yaml:"influxdb"`
	Metrics     MetricsConfig     `yaml:"metrics"`
	Database    DatabaseConfig    `yaml:"database"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ProducerConfig contains the HTTP telemetry producer settings.
type ProducerConfig struct {
	// URL is the full base URL of the HTTP adapter. When empty, Proto/Host/Port
	// are combined instead. If neither resolves, sending is disabled.
	URL   string `yaml:"url"`
	Proto string `yaml:"proto"`
	Host  string `yaml:"host"`
	Port  int    `yaml:"port"`

	// Async selects the asynchronous execution mode for the whole process.
	Async bool `yaml:"async"`

	// AutoRegister re-registers a device when the endpoint answers 401.
	AutoRegister bool `yaml:"auto_register"`

	// RegisterOnStartup registers every simulated device before the first tick.
	RegisterOnStartup bool `yaml:"register_on_startup"`

	Tenant         string `yaml:"tenant"`
	Devices        int    `yaml:"devices"`
	DevicePrefix   string `yaml:"device_prefix"`
	DevicePassword string `yaml:"device_password"`

	// TickInterval is the per-device send cadence in milliseconds.
	TickInterval int `yaml:"tick_interval"`

	// HTTPTimeout bounds a single telemetry call in milliseconds.
	HTTPTimeout int `yaml:"http_timeout"`

	// MaxConnsPerHost caps concurrent connections to the endpoint (0 = unlimited).
	MaxConnsPerHost int `yaml:"max_conns_per_host"`
}

// RegistryConfig contains the device registry (registrar) settings.
type RegistryConfig struct {
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	// Timeout bounds a registration call in milliseconds.
	Timeout int `yaml:"timeout"`
}

// BrokerConfig contains the messaging broker settings used by the consumer.
type BrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	ClientID string `yaml:"client_id"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Tenant   string `yaml:"tenant"`
	QoS      int    `yaml:"qos"`

	TLS          bool   `yaml:"tls"`
	TrustedCerts string `yaml:"trusted_certs"`

	// ConnectTimeout bounds the connect and subscribe calls in milliseconds.
	ConnectTimeout int `yaml:"connect_timeout"`

	// ReconnectDelay is the fixed delay before a reconnect attempt in milliseconds.
	ReconnectDelay int `yaml:"reconnect_delay"`
}

// PersistenceConfig toggles the sink writer.
type PersistenceConfig struct {
	Enabled bool `yaml:"enabled"`
}

// InfluxDBConfig contains the time-series store connection settings.
// The same server backs both the payload sink and the metrics sink.
type InfluxDBConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`

	// BatchSize is the number of buffered points that forces a flush.
	BatchSize int `yaml:"batch_size"`

	// FlushInterval is the maximum age of the oldest buffered point in milliseconds.
	FlushInterval int `yaml:"flush_interval"`

	// Timeout bounds a single write request in milliseconds.
	Timeout int `yaml:"timeout"`
}

// MetricsConfig contains the stats reporting settings.
type MetricsConfig struct {
	// Enabled turns on the parallel InfluxDB metrics sink.
	Enabled bool `yaml:"enabled"`

	// ListenAddr exposes /metrics and /healthz when non-empty (e.g. ":9090").
	ListenAddr string `yaml:"listen_addr"`
}

// DatabaseConfig contains SQLite settings for the registration ledger.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), skipped when path is empty
//  3. Environment variables (override file values)
//
// Environment variable names follow the ones used by the existing deployment
// manifests (HONO_HTTP_URL, INFLUXDB_NAME, ...) plus SOAK_* for harness-only settings.
//
// Parameters:
//   - path: Path to the YAML configuration file, or "" for defaults and environment only
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, an override is malformed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := applyEnvOverrides(cfg, os.LookupEnv); err != nil {
		return nil, fmt.Errorf("applying environment: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Producer: ProducerConfig{
			Proto:        "http",
			AutoRegister: true,
			Tenant:       "DEFAULT_TENANT",
			Devices:      10,
			DevicePrefix: "device",
			TickInterval: 1000,
			HTTPTimeout:  10000,
		},
		Registry: RegistryConfig{
			Timeout: 10000,
		},
		Broker: BrokerConfig{
			Host:           "localhost",
			Port:           1883,
			ClientID:       "telemetry-soak-consumer",
			Tenant:         "DEFAULT_TENANT",
			QoS:            1,
			ConnectTimeout: 5000,
			ReconnectDelay: 5000,
		},
		Persistence: PersistenceConfig{
			Enabled: true,
		},
		InfluxDB: InfluxDBConfig{
			Database:      "soak",
			BatchSize:     20,
			FlushInterval: 1000,
			Timeout:       5000,
		},
		Metrics: MetricsConfig{
			Enabled: true,
		},
		Database: DatabaseConfig{
			Path:        "./data/registrations.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// lookupFunc matches os.LookupEnv so tests can supply a fixed environment.
type lookupFunc func(key string) (string, bool)

// applyEnvOverrides applies environment variable overrides to the configuration.
// Empty values are treated as unset. Malformed booleans and integers are
// collected and reported together.
func applyEnvOverrides(cfg *Config, lookup lookupFunc) error {
	o := envOverrider{lookup: lookup}

	// Producer
	o.str("HONO_HTTP_URL", &cfg.Producer.URL)
	o.str("HONO_HTTP_PROTO", &cfg.Producer.Proto)
	o.str("HONO_HTTP_HOST", &cfg.Producer.Host)
	o.integer("HONO_HTTP_PORT", &cfg.Producer.Port)
	o.boolean("HTTP_ASYNC", &cfg.Producer.Async)
	o.boolean("AUTO_REGISTER", &cfg.Producer.AutoRegister)
	o.boolean("REGISTER_ON_STARTUP", &cfg.Producer.RegisterOnStartup)
	o.str("HONO_TENANT", &cfg.Producer.Tenant)
	o.str("HONO_TENANT", &cfg.Broker.Tenant)
	o.integer("NUM_DEVICES", &cfg.Producer.Devices)
	o.str("DEVICE_PREFIX", &cfg.Producer.DevicePrefix)
	o.str("DEVICE_PASSWORD", &cfg.Producer.DevicePassword)
	o.integer("TICK_INTERVAL_MS", &cfg.Producer.TickInterval)
	o.integer("HTTP_TIMEOUT_MS", &cfg.Producer.HTTPTimeout)

	// Registry
	o.str("DEVICE_REGISTRY_URL", &cfg.Registry.URL)
	o.str("DEVICE_REGISTRY_USER", &cfg.Registry.Username)
	o.str("DEVICE_REGISTRY_PASSWORD", &cfg.Registry.Password)

	// Broker
	o.str("MESSAGING_SERVICE_HOST", &cfg.Broker.Host)
	o.integer("MESSAGING_SERVICE_PORT", &cfg.Broker.Port)
	o.str("HONO_USER", &cfg.Broker.Username)
	o.str("HONO_PASSWORD", &cfg.Broker.Password)
	o.str("HONO_TRUSTED_CERTS", &cfg.Broker.TrustedCerts)
	if v, ok := lookup("HONO_TRUSTED_CERTS"); ok && v != "" {
		cfg.Broker.TLS = true
	}
	// DISABLE_TLS wins over trust material, matching the deployment manifests.
	if v, ok := lookup("DISABLE_TLS"); ok && v != "" {
		cfg.Broker.TLS = false
	}

	// Sinks
	o.boolean("ENABLE_PERSISTENCE", &cfg.Persistence.Enabled)
	o.boolean("ENABLE_METRICS", &cfg.Metrics.Enabled)
	o.str("SOAK_METRICS_ADDR", &cfg.Metrics.ListenAddr)

	// InfluxDB
	o.str("INFLUXDB_URL", &cfg.InfluxDB.URL)
	o.str("INFLUXDB_SERVICE_HOST", &cfg.InfluxDB.Host)
	o.integer("INFLUXDB_SERVICE_PORT_API", &cfg.InfluxDB.Port)
	o.str("INFLUXDB_USER", &cfg.InfluxDB.Username)
	o.str("INFLUXDB_PASSWORD", &cfg.InfluxDB.Password)
	o.str("INFLUXDB_NAME", &cfg.InfluxDB.Database)

	// Database and logging
	o.str("SOAK_DATABASE_PATH", &cfg.Database.Path)
	o.str("SOAK_LOG_LEVEL", &cfg.Logging.Level)
	o.str("SOAK_LOG_FORMAT", &cfg.Logging.Format)

	if len(o.errs) > 0 {
		return fmt.Errorf("invalid environment: %s", strings.Join(o.errs, "; "))
	}
	return nil
}

// envOverrider applies typed overrides and remembers parse failures.
type envOverrider struct {
	lookup lookupFunc
	errs   []string
}

func (o *envOverrider) str(key string, dst *string) {
	if v, ok := o.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (o *envOverrider) integer(key string, dst *int) {
	v, ok := o.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		o.errs = append(o.errs, fmt.Sprintf("%s=%q is not an integer", key, v))
		return
	}
	*dst = n
}

func (o *envOverrider) boolean(key string, dst *bool) {
	v, ok := o.lookup(key)
	if !ok || v == "" {
		return
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		o.errs = append(o.errs, fmt.Sprintf("%s=%q is not a boolean", key, v))
		return
	}
	*dst = b
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Producer.Devices < 0 {
		errs = append(errs, "producer.devices must not be negative")
	}
	if c.Producer.TickInterval <= 0 {
		errs = append(errs, "producer.tick_interval must be positive")
	}
	if c.Producer.HTTPTimeout <= 0 {
		errs = append(errs, "producer.http_timeout must be positive")
	}
	if _, _, err := c.Producer.resolveEndpoint(); err != nil {
		errs = append(errs, err.Error())
	}

	if c.Broker.Port < 1 || c.Broker.Port > 65535 {
		errs = append(errs, "broker.port must be between 1 and 65535")
	}
	if c.Broker.QoS < 0 || c.Broker.QoS > 2 {
		errs = append(errs, "broker.qos must be 0, 1, or 2")
	}
	if c.Broker.ConnectTimeout <= 0 {
		errs = append(errs, "broker.connect_timeout must be positive")
	}
	if c.Broker.ReconnectDelay <= 0 {
		errs = append(errs, "broker.reconnect_delay must be positive")
	}

	if c.InfluxDB.BatchSize <= 0 {
		errs = append(errs, "influxdb.batch_size must be positive")
	}
	if c.InfluxDB.FlushInterval <= 0 {
		errs = append(errs, "influxdb.flush_interval must be positive")
	}
	if (c.Persistence.Enabled || c.Metrics.Enabled) && c.InfluxDB.Database == "" {
		errs = append(errs, "influxdb.database is required when persistence or metrics are enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// TelemetryURL returns the producer's resolved telemetry endpoint.
// The boolean is false when no endpoint is configured, which disables sending.
func (p ProducerConfig) TelemetryURL() (string, bool) {
	u, ok, err := p.resolveEndpoint()
	if err != nil || !ok {
		return "", false
	}
	return u, true
}

// resolveEndpoint builds <base>/telemetry from either the full URL or host/port.
func (p ProducerConfig) resolveEndpoint() (string, bool, error) {
	base := p.URL
	if base == "" && p.Host != "" && p.Port != 0 {
		proto := p.Proto
		if proto == "" {
			proto = "http"
		}
		base = fmt.Sprintf("%s://%s:%d", proto, p.Host, p.Port)
	}
	if base == "" {
		return "", false, nil
	}

	parsed, err := url.Parse(base)
	if err != nil || parsed.Scheme == "" || parsed.Host == "" {
		return "", false, fmt.Errorf("producer endpoint %q is not an absolute URL", base)
	}
	return parsed.ResolveReference(&url.URL{Path: telemetryPath}).String(), true, nil
}

// StoreURL returns the InfluxDB base URL, preferring the explicit URL over host/port.
func (c InfluxDBConfig) StoreURL() string {
	if c.URL != "" {
		return strings.TrimRight(c.URL, "/")
	}
	return fmt.Sprintf("http://%s:%d", c.Host, c.Port)
}

// GetTickInterval returns the per-device send cadence as a Duration.
func (p ProducerConfig) GetTickInterval() time.Duration {
	return time.Duration(p.TickInterval) * time.Millisecond
}

// GetHTTPTimeout returns the telemetry call timeout as a Duration.
func (p ProducerConfig) GetHTTPTimeout() time.Duration {
	return time.Duration(p.HTTPTimeout) * time.Millisecond
}

// GetTimeout returns the registration call timeout as a Duration.
func (r RegistryConfig) GetTimeout() time.Duration {
	return time.Duration(r.Timeout) * time.Millisecond
}

// GetConnectTimeout returns the broker connect timeout as a Duration.
func (b BrokerConfig) GetConnectTimeout() time.Duration {
	return time.Duration(b.ConnectTimeout) * time.Millisecond
}

// GetReconnectDelay returns the broker reconnect delay as a Duration.
func (b BrokerConfig) GetReconnectDelay() time.Duration {
	return time.Duration(b.ReconnectDelay) * time.Millisecond
}

// GetFlushInterval returns the batch window age limit as a Duration.
func (c InfluxDBConfig) GetFlushInterval() time.Duration {
	return time.Duration(c.FlushInterval) * time.Millisecond
}

// GetTimeout returns the store write timeout as a Duration.
func (c InfluxDBConfig) GetTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Millisecond
}
