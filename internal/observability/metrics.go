package observability

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/kursadbilgin/reminder-dispatch/internal/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "reminder_dispatch"

// CountersReader exposes live rate-limit window state.
type CountersReader interface {
	Counters() ratelimit.Counters
}

// Metrics stores Prometheus collectors used by API and dispatch flows.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal      *prometheus.CounterVec
	httpRequestDuration    *prometheus.HistogramVec
	messagesSentTotal      *prometheus.CounterVec
	messagesFailedTotal    *prometheus.CounterVec
	messageSendDuration    *prometheus.HistogramVec
	rateLimitRejectedTotal *prometheus.CounterVec
	batchesTotal           *prometheus.CounterVec
	batchSize              prometheus.Histogram
	duplicatesRemovedTotal prometheus.Counter
}

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		messagesSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_sent_total",
				Help:      "Total number of messages accepted by the mail transport.",
			},
			[]string{"transport"},
		),
		messagesFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "messages_failed_total",
				Help:      "Total number of recipients that were not delivered, by error kind.",
			},
			[]string{"kind"},
		),
		messageSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "message_send_duration_seconds",
				Help:      "Transport open+send duration in seconds grouped by transport.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"transport"},
		),
		rateLimitRejectedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rate_limit_rejected_total",
				Help:      "Total number of batches rejected by the hourly or daily limit.",
			},
			[]string{"kind"},
		),
		batchesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "batches_total",
				Help:      "Total number of dispatched batches by final status.",
			},
			[]string{"status"},
		),
		batchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "batch_size",
				Help:      "Recipients per batch after de-duplication.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 11),
			},
		),
		duplicatesRemovedTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "duplicates_removed_total",
				Help:      "Total number of duplicate recipients dropped before dispatch.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.messagesSentTotal,
		m.messagesFailedTotal,
		m.messageSendDuration,
		m.rateLimitRejectedTotal,
		m.batchesTotal,
		m.batchSize,
		m.duplicatesRemovedTotal,
	)

	return m
}

// RegisterRateLimitGauges exports the limiter windows, read at scrape time.
func (m *Metrics) RegisterRateLimitGauges(reader CountersReader) {
	if m == nil || reader == nil {
		return
	}

	gauge := func(name, help string, value func(ratelimit.Counters) int) prometheus.GaugeFunc {
		return prometheus.NewGaugeFunc(
			prometheus.GaugeOpts{Namespace: namespace, Name: name, Help: help},
			func() float64 { return float64(value(reader.Counters())) },
		)
	}

	m.registry.MustRegister(
		gauge("sent_this_hour", "Messages sent in the current hour window.", func(c ratelimit.Counters) int { return c.SentThisHour }),
		gauge("sent_today", "Messages sent in the current day window.", func(c ratelimit.Counters) int { return c.SentToday }),
		gauge("remaining_this_hour", "Messages still allowed in the current hour window.", func(c ratelimit.Counters) int { return c.RemainingThisHour }),
		gauge("remaining_today", "Messages still allowed in the current day window.", func(c ratelimit.Counters) int { return c.RemainingToday }),
	)
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

func (m *Metrics) IncMessageSent(transport string) {
	if m == nil {
		return
	}
	m.messagesSentTotal.WithLabelValues(normalizeLabel(transport)).Inc()
}

func (m *Metrics) IncMessageFailed(kind string) {
	if m == nil {
		return
	}
	m.messagesFailedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

func (m *Metrics) ObserveSendDuration(transport string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.messageSendDuration.WithLabelValues(normalizeLabel(transport)).Observe(seconds)
}

func (m *Metrics) IncRateLimitRejected(kind string) {
	if m == nil {
		return
	}
	m.rateLimitRejectedTotal.WithLabelValues(normalizeLabel(kind)).Inc()
}

// ObserveBatch records one dispatched batch.
func (m *Metrics) ObserveBatch(status string, size int, duplicatesRemoved int) {
	if m == nil {
		return
	}
	m.batchesTotal.WithLabelValues(normalizeLabel(status)).Inc()
	m.batchSize.Observe(float64(size))
	if duplicatesRemoved > 0 {
		m.duplicatesRemovedTotal.Add(float64(duplicatesRemoved))
	}
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

func normalizeLabel(value string) string {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if normalized == "" {
		return "unknown"
	}
	return normalized
}
