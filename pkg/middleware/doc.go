// Package middleware provides the observability layer for the collaboration
// server.
//
// This package includes:
//   - Prometheus metrics for HTTP routes, websocket connections, broadcast
//     fan-out, the cross-process relay, and the lock manager
//   - OpenTelemetry tracing for HTTP requests
//
// # Prometheus Metrics
//
// Call Init once from the composition root. The Record* helpers are no-ops
// until then, which keeps unit tests free of global registration:
//
//	middleware.Init(middleware.WithNamespace("collab"))
//	r.Use(middleware.Prometheus())
//	r.Handle("/metrics", promhttp.Handler())
//
// # OpenTelemetry
//
// OpenTelemetry wraps each HTTP request in a server span named after the chi
// route pattern. The tracer comes from the global provider, so configure it in
// main() before starting the server.
package middleware
