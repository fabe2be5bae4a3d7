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

// Metrics stores Prometheus collectors used by the API and the scheduler.
type Metrics struct {
	registry *prometheus.Registry

	httpRequestsTotal     *prometheus.CounterVec
	httpRequestDuration   *prometheus.HistogramVec
	schedulerWakesTotal   *prometheus.CounterVec
	dueBatchSize          prometheus.Histogram
	mailsSentTotal        *prometheus.CounterVec
	mailsFailedTotal      *prometheus.CounterVec
	mailSendDuration      *prometheus.HistogramVec
	scheduledSendsCreated prometheus.Counter
}

// Label values for the source of a send.
const (
	SourceScheduled = "scheduled"
	SourceImmediate = "immediate"
)

// Label values for a scheduler wake result.
const (
	WakeIdle         = "idle"
	WakeDispatched   = "dispatched"
	WakeNoCapability = "no_capability"
	WakeAborted      = "aborted"
)

func NewMetrics() *Metrics {
	registry := prometheus.NewRegistry()

	m := &Metrics{
		registry: registry,
		httpRequestsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "investor_mailer",
				Name:      "http_requests_total",
				Help:      "Total number of HTTP requests processed by method, path, and status.",
			},
			[]string{"method", "path", "status"},
		),
		httpRequestDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "investor_mailer",
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request duration in seconds by method and path.",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"method", "path"},
		),
		schedulerWakesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "investor_mailer",
				Name:      "scheduler_wakes_total",
				Help:      "Total number of scheduler wakes grouped by result.",
			},
			[]string{"result"},
		),
		dueBatchSize: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: "investor_mailer",
				Name:      "scheduler_due_batch_size",
				Help:      "Number of due scheduled sends found per non-empty wake.",
				Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
			},
		),
		mailsSentTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "investor_mailer",
				Name:      "mails_sent_total",
				Help:      "Total number of mails delivered successfully.",
			},
			[]string{"source"},
		),
		mailsFailedTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: "investor_mailer",
				Name:      "mails_failed_total",
				Help:      "Total number of mails that ended in failed state.",
			},
			[]string{"source", "reason"},
		),
		mailSendDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: "investor_mailer",
				Name:      "mail_send_duration_seconds",
				Help:      "Transport send duration in seconds grouped by source.",
				Buckets:   prometheus.ExponentialBuckets(0.01, 2, 12),
			},
			[]string{"source"},
		),
		scheduledSendsCreated: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: "investor_mailer",
				Name:      "scheduled_sends_created_total",
				Help:      "Total number of scheduled sends enqueued.",
			},
		),
	}

	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.httpRequestsTotal,
		m.httpRequestDuration,
		m.schedulerWakesTotal,
		m.dueBatchSize,
		m.mailsSentTotal,
		m.mailsFailedTotal,
		m.mailSendDuration,
		m.scheduledSendsCreated,
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

func (m *Metrics) IncSchedulerWake(result string) {
	if m == nil {
		return
	}
	m.schedulerWakesTotal.WithLabelValues(normalizeLabel(result)).Inc()
}

func (m *Metrics) ObserveDueBatch(size int) {
	if m == nil {
		return
	}
	m.dueBatchSize.Observe(float64(size))
}

func (m *Metrics) IncMailSent(source string) {
	if m == nil {
		return
	}
	m.mailsSentTotal.WithLabelValues(normalizeLabel(source)).Inc()
}

func (m *Metrics) IncMailFailed(source string, reason string) {
	if m == nil {
		return
	}
	m.mailsFailedTotal.WithLabelValues(normalizeLabel(source), normalizeLabel(reason)).Inc()
}

func (m *Metrics) ObserveMailSendDuration(source string, duration time.Duration) {
	if m == nil {
		return
	}
	seconds := duration.Seconds()
	if seconds < 0 {
		seconds = 0
	}
	m.mailSendDuration.WithLabelValues(normalizeLabel(source)).Observe(seconds)
}

func (m *Metrics) IncScheduledSendCreated() {
	if m == nil {
		return
	}
	m.scheduledSendsCreated.Inc()
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
