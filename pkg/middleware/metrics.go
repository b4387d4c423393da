package middleware

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsConfig configures the Prometheus collectors.
type MetricsConfig struct {
	// Namespace is the metrics namespace (default: "collab").
	Namespace string

	// Subsystem is the metrics subsystem (default: "").
	Subsystem string

	// ConstLabels are constant labels added to all metrics.
	ConstLabels prometheus.Labels

	// Buckets are the histogram buckets for durations.
	// Default: prometheus.DefBuckets
	Buckets []float64

	// Registry is the Prometheus registry to use.
	// Default: prometheus.DefaultRegisterer
	Registry prometheus.Registerer
}

// MetricsOption configures the Prometheus collectors.
type MetricsOption func(*MetricsConfig)

// WithNamespace sets the metrics namespace.
func WithNamespace(namespace string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Namespace = namespace
	}
}

// WithSubsystem sets the metrics subsystem.
func WithSubsystem(subsystem string) MetricsOption {
	return func(c *MetricsConfig) {
		c.Subsystem = subsystem
	}
}

// WithConstLabels sets constant labels for all metrics.
func WithConstLabels(labels prometheus.Labels) MetricsOption {
	return func(c *MetricsConfig) {
		c.ConstLabels = labels
	}
}

// WithBuckets sets the histogram buckets.
func WithBuckets(buckets []float64) MetricsOption {
	return func(c *MetricsConfig) {
		c.Buckets = buckets
	}
}

// WithRegistry sets the Prometheus registry.
func WithRegistry(registry prometheus.Registerer) MetricsOption {
	return func(c *MetricsConfig) {
		c.Registry = registry
	}
}

func defaultMetricsConfig() MetricsConfig {
	return MetricsConfig{
		Namespace: "collab",
		Buckets:   prometheus.DefBuckets,
		Registry:  prometheus.DefaultRegisterer,
	}
}

type metrics struct {
	httpRequests      *prometheus.CounterVec
	httpDuration      *prometheus.HistogramVec
	activeConnections *prometheus.GaugeVec
	connectionsTotal  *prometheus.CounterVec
	messagesReceived  *prometheus.CounterVec
	bytesReceived     *prometheus.CounterVec
	deliveries        *prometheus.CounterVec
	sendErrors        *prometheus.CounterVec
	relayPublishes    *prometheus.CounterVec
	relayDeliveries   *prometheus.CounterVec
	relayReconnects   *prometheus.CounterVec
	lockOps           *prometheus.CounterVec
	lockDuration      *prometheus.HistogramVec
}

var (
	globalMetrics   *metrics
	globalMetricsMu sync.RWMutex
)

func current() *metrics {
	globalMetricsMu.RLock()
	defer globalMetricsMu.RUnlock()
	return globalMetrics
}

func initMetrics(config MetricsConfig) *metrics {
	factory := promauto.With(config.Registry)

	counter := func(name, help string, labels ...string) *prometheus.CounterVec {
		return factory.NewCounterVec(prometheus.CounterOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
		}, labels)
	}
	histogram := func(name, help string, labels ...string) *prometheus.HistogramVec {
		return factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        name,
			Help:        help,
			ConstLabels: config.ConstLabels,
			Buckets:     config.Buckets,
		}, labels)
	}

	return &metrics{
		httpRequests: counter("http_requests_total", "Total HTTP requests by route, method and status", "route", "method", "status"),
		httpDuration: histogram("http_request_duration_seconds", "HTTP request duration in seconds", "route"),
		activeConnections: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   config.Namespace,
			Subsystem:   config.Subsystem,
			Name:        "active_connections",
			Help:        "Number of open websocket connections per channel",
			ConstLabels: config.ConstLabels,
		}, []string{"channel"}),
		connectionsTotal: counter("connections_total", "Total websocket connections accepted per channel", "channel"),
		messagesReceived: counter("messages_received_total", "Inbound frames by channel and kind", "channel", "kind"),
		bytesReceived:    counter("bytes_received_total", "Inbound payload bytes by channel", "channel"),
		deliveries:       counter("broadcast_deliveries_total", "Per-connection broadcast outcomes", "channel", "result"),
		sendErrors:       counter("send_errors_total", "Per-connection send failures by reason", "channel", "reason"),
		relayPublishes:   counter("relay_publishes_total", "Relay bus publishes by topic and status", "topic", "status"),
		relayDeliveries:  counter("relay_deliveries_total", "Messages received from the relay bus by topic", "topic"),
		relayReconnects:  counter("relay_reconnects_total", "Relay subscriber reconnect attempts by topic", "topic"),
		lockOps:          counter("lock_operations_total", "Lock manager operations by op and result", "op", "result"),
		lockDuration:     histogram("lock_operation_duration_seconds", "Lock manager operation latency", "op"),
	}
}

// Init registers the collectors. Subsequent calls return the existing
// collectors and ignore the options.
func Init(opts ...MetricsOption) {
	config := defaultMetricsConfig()
	for _, opt := range opts {
		opt(&config)
	}

	globalMetricsMu.Lock()
	defer globalMetricsMu.Unlock()
	if globalMetrics == nil {
		globalMetrics = initMetrics(config)
	}
}

// Prometheus returns HTTP middleware that counts requests and observes their
// duration, labelled by chi route pattern.
func Prometheus() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			m := current()
			if m == nil {
				next.ServeHTTP(w, r)
				return
			}

			start := time.Now()
			sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(sw, r)

			route := routePattern(r)
			m.httpDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
			m.httpRequests.WithLabelValues(route, r.Method, strconv.Itoa(sw.status)).Inc()
		})
	}
}

// routePattern keeps label cardinality bounded to registered routes.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return "unmatched"
}

// statusWriter records the response status. It forwards Hijack so websocket
// upgrades still work behind the middleware.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("middleware: response writer does not support hijacking")
	}
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

// =============================================================================
// Metrics Recording Functions
// =============================================================================

// RecordConnectionOpen records a websocket connection joining a channel.
func RecordConnectionOpen(channel string) {
	if m := current(); m != nil {
		m.activeConnections.WithLabelValues(channel).Inc()
		m.connectionsTotal.WithLabelValues(channel).Inc()
	}
}

// RecordConnectionClose records a websocket connection leaving a channel.
func RecordConnectionClose(channel string) {
	if m := current(); m != nil {
		m.activeConnections.WithLabelValues(channel).Dec()
	}
}

// RecordMessageReceived records one inbound frame.
func RecordMessageReceived(channel, kind string, size int) {
	if m := current(); m != nil {
		m.messagesReceived.WithLabelValues(channel, kind).Inc()
		m.bytesReceived.WithLabelValues(channel).Add(float64(size))
	}
}

// RecordBroadcast records the outcome of one fan-out.
func RecordBroadcast(channel string, delivered, failed int) {
	if m := current(); m != nil {
		if delivered > 0 {
			m.deliveries.WithLabelValues(channel, "delivered").Add(float64(delivered))
		}
		if failed > 0 {
			m.deliveries.WithLabelValues(channel, "failed").Add(float64(failed))
		}
	}
}

// RecordSendError records a per-connection send failure.
func RecordSendError(channel, reason string) {
	if m := current(); m != nil {
		m.sendErrors.WithLabelValues(channel, reason).Inc()
	}
}

// RecordRelayPublish records a publish to the relay bus.
func RecordRelayPublish(topic string, err error) {
	if m := current(); m != nil {
		status := "ok"
		if err != nil {
			status = "error"
		}
		m.relayPublishes.WithLabelValues(topic, status).Inc()
	}
}

// RecordRelayDelivery records a message received from the relay bus.
func RecordRelayDelivery(topic string) {
	if m := current(); m != nil {
		m.relayDeliveries.WithLabelValues(topic).Inc()
	}
}

// RecordRelayReconnect records a subscriber reconnect attempt.
func RecordRelayReconnect(topic string) {
	if m := current(); m != nil {
		m.relayReconnects.WithLabelValues(topic).Inc()
	}
}

// RecordLockOp records a lock manager operation and its latency.
// result is one of "ok", "miss", or "error".
func RecordLockOp(op, result string, d time.Duration) {
	if m := current(); m != nil {
		m.lockOps.WithLabelValues(op, result).Inc()
		m.lockDuration.WithLabelValues(op).Observe(d.Seconds())
	}
}
