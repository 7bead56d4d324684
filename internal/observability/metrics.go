package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics stores Prometheus collectors used by the API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	alertsDispatchedTotal *prometheus.CounterVec
	deliveriesSentTotal   *prometheus.CounterVec
	deliveriesFailedTotal *prometheus.CounterVec
	deliveryDuration      *prometheus.HistogramVec
	batchesProcessedTotal prometheus.Counter
	retryRunsTotal        prometheus.Counter
	dispatchInFlight      prometheus.Gauge
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_engine",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "alert_engine",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		alertsDispatchedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_engine",
				Name:      "alerts_dispatched_total",
				Help:      "Total number of alert dispatch runs by final delivery status.",
			},
			[]string{"status"},
		),
		deliveriesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_engine",
				Name:      "deliveries_sent_total",
				Help:      "Total number of successful channel deliveries.",
			},
			[]string{"channel"},
		),
		deliveriesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "alert_engine",
				Name:      "deliveries_failed_total",
				Help:      "Total number of failed channel delivery attempts.",
			},
			[]string{"channel", "reason"},
		),
		deliveryDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "alert_engine",
				Name:      "delivery_send_duration_seconds",
				Help:      "Gateway send duration in seconds grouped by channel.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"channel"},
		),
		batchesProcessedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "alert_engine",
				Name:      "batches_processed_total",
				Help:      "Total number of recipient batches fanned out.",
			},
		),
		retryRunsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "alert_engine",
				Name:      "retry_runs_total",
				Help:      "Total number of retry-failed-deliveries runs.",
			},
		),
		dispatchInFlight: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: "alert_engine",
				Name:      "dispatch_inflight",
				Help:      "Current number of in-flight dispatch runs.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.alertsDispatchedTotal,
		m.deliveriesSentTotal,
		m.deliveriesFailedTotal,
		m.deliveryDuration,
		m.batchesProcessedTotal,
		m.retryRunsTotal,
		m.dispatchInFlight,
	)

	return m
}

func (m *Metrics) Handler() http.Handler {
	if m == nil || m.registry == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) HTTPMiddleware() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := routePath(c)
		// Avoid self-scrape noise for request counters.
		if path == "/metrics" {
			return err
		}

		m.recordHTTPRequest(c.Method(), path, statusFromResult(c, err), time.Since(start))
		return err
	}
}

func (m *Metrics) IncAlertDispatched(status string) {
	if m == nil {
		return
	}
	statusLabel := strings.ToLower(strings.TrimSpace(status))
	if statusLabel == "" {
		statusLabel = "unknown"
	}
	m.alertsDispatchedTotal.WithLabelValues(statusLabel).Inc()
}

func (m *Metrics) IncDeliverySent(channel string) {
	if m == nil {
		return
	}
	m.deliveriesSentTotal.WithLabelValues(normalizeChannel(channel)).Inc()
}

func (m *Metrics) IncDeliveryFailed(channel string, reason string) {
	if m == nil {
		return
	}
	reasonLabel := strings.TrimSpace(strings.ToLower(reason))
	if reasonLabel == "" {
		reasonLabel = "unknown"
	}
	// Failure reasons come from gateway diagnostics; cap them to keep label
	// cardinality sane.
	if len(reasonLabel) > 64 {
		reasonLabel = reasonLabel[:64]
	}
	m.deliveriesFailedTotal.WithLabelValues(normalizeChannel(channel), reasonLabel).Inc()
}

func (m *Metrics) ObserveDeliveryDuration(channel string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.deliveryDuration.WithLabelValues(normalizeChannel(channel)).Observe(seconds)
}

func (m *Metrics) IncBatchProcessed() {
	if m == nil {
		return
	}
	m.batchesProcessedTotal.Inc()
}

func (m *Metrics) IncRetryRun() {
	if m == nil {
		return
	}
	m.retryRunsTotal.Inc()
}

func (m *Metrics) IncDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Inc()
}

func (m *Metrics) DecDispatchInFlight() {
	if m == nil {
		return
	}
	m.dispatchInFlight.Dec()
}

func (m *Metrics) recordHTTPRequest(method string, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}

	methodLabel := strings.ToUpper(strings.TrimSpace(method))
	if methodLabel == "" {
		methodLabel = "UNKNOWN"
	}
	pathLabel := strings.TrimSpace(path)
	if pathLabel == "" {
		pathLabel = "unmatched"
	}

	m.httpRequestsTotal.WithLabelValues(methodLabel, pathLabel, strconv.Itoa(status)).Inc()
	m.httpRequestDuration.WithLabelValues(methodLabel, pathLabel).Observe(duration.Seconds())
}

func routePath(c *fiber.Ctx) string {
	if c == nil {
		return "unmatched"
	}

	if route := c.Route(); route != nil {
		if path := strings.TrimSpace(route.Path); path != "" {
			return path
		}
	}
	return "unmatched"
}

func statusFromResult(c *fiber.Ctx, err error) int {
	if err != nil {
		if fiberErr, ok := err.(*fiber.Error); ok {
			return fiberErr.Code
		}
		return fiber.StatusInternalServerError
	}

	if c == nil {
		return fiber.StatusOK
	}

	status := c.Response().StatusCode()
	if status == 0 {
		return fiber.StatusOK
	}
	return status
}

func normalizeChannel(channel string) string {
	normalized := strings.ToLower(strings.TrimSpace(channel))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
