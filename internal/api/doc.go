// Package api serves the operational HTTP endpoints of the soak harness
// binaries.
//
//	GET /healthz   component health probes (200 or 503)
//	GET /metrics   Prometheus exposition of the shared counters
//	GET /stats     cumulative counters as JSON
//
// The server follows the same lifecycle pattern as other infrastructure components:
//
//	server, err := api.New(deps)
//	server.Start(ctx)
//	defer server.Close()
//
// Thread Safety: All methods are safe for concurrent use from multiple goroutines.
package api
