// Package logging provides structured logging for the soak harness.
//
// This package wraps Go's standard log/slog package so both binaries emit
// the same structured entries.
//
// # Features
//
//   - JSON output for log collection
//   - Text output for local runs
//   - Default fields (service, version) on all log entries
//   - Level-based filtering (debug, info, warn, error)
//
// # Configuration
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr
//
// # Usage
//
//	logger := logging.New(cfg.Logging, "consumer", "1.0.0")
//	logger.Info("subscribed", "tenant", tenant)
//	logger.Error("initial connect failed", "error", err)
//
// Never log device passwords or broker credentials.
package logging
