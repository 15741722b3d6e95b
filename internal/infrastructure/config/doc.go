// Package config handles loading and validating the soak harness configuration.
//
// This package manages:
//   - Loading configuration from an optional YAML file
//   - Overriding with environment variables (deployment manifests set these)
//   - Validation of ranges and required fields
//   - Default value handling
//
// One Config value is built at startup and passed down to every component
// constructor. Nothing reads the environment after Load returns.
//
// Usage:
//
//	cfg, err := config.Load(os.Getenv("SOAK_CONFIG"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	endpoint, enabled := cfg.Producer.TelemetryURL()
package config
