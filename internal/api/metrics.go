// Package api holds the HTTP plumbing shared by every handler: middleware,
// rate limiting, and Prometheus metrics.
package api

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	requestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchaser_http_requests_total",
		Help: "Total HTTP requests by method, path, and response status.",
	}, []string{"method", "path", "status"})

	requestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "docchaser_http_request_duration_seconds",
		Help:    "Request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})

	messagesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchaser_messages_total",
		Help: "Total outbound messages by channel and outcome.",
	}, []string{"channel", "outcome"})

	sweepsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchaser_sweeps_total",
		Help: "Total reminder sweeps by result.",
	}, []string{"result"})

	sweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "docchaser_sweep_duration_seconds",
		Help:    "Reminder sweep duration in seconds.",
		Buckets: prometheus.DefBuckets,
	})

	sweepRecordsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchaser_sweep_records_total",
		Help: "Requests handled by reminder sweeps, by action.",
	}, []string{"action"})

	webhookDeliveriesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchaser_webhook_deliveries_total",
		Help: "Total webhook deliveries by success status.",
	}, []string{"status"})

	dependencyProbesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "docchaser_dependency_probes_total",
		Help: "Total dependency health probes by component and result.",
	}, []string{"component", "result"})
)

// PrometheusMiddleware returns a Gin middleware that records per-request metrics.
func PrometheusMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(c.Writer.Status())
		method := c.Request.Method
		path := c.FullPath()
		if path == "" {
			path = "unmatched"
		}

		requestsTotal.WithLabelValues(method, path, status).Inc()
		requestDuration.WithLabelValues(method, path).Observe(duration)
	}
}

// MetricsHandler returns a Gin handler that serves Prometheus metrics.
func MetricsHandler() gin.HandlerFunc {
	h := promhttp.Handler()
	return func(c *gin.Context) {
		h.ServeHTTP(c.Writer, c.Request)
	}
}

// RecordMessage records one gateway send.
func RecordMessage(channel, outcome string) {
	messagesTotal.WithLabelValues(channel, outcome).Inc()
}

// RecordSweep records a finished sweep. result is "ok", "skipped" or "error".
func RecordSweep(result string, d time.Duration, remindersSent, expired, errors int) {
	sweepsTotal.WithLabelValues(result).Inc()
	sweepDuration.Observe(d.Seconds())
	sweepRecordsTotal.WithLabelValues("reminded").Add(float64(remindersSent))
	sweepRecordsTotal.WithLabelValues("expired").Add(float64(expired))
	sweepRecordsTotal.WithLabelValues("error").Add(float64(errors))
}

// RecordWebhookDelivery records a webhook delivery attempt.
func RecordWebhookDelivery(success bool) {
	if success {
		webhookDeliveriesTotal.WithLabelValues("success").Inc()
	} else {
		webhookDeliveriesTotal.WithLabelValues("failure").Inc()
	}
}

// RecordDependencyProbe records one health probe of a backing dependency.
func RecordDependencyProbe(component string, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	dependencyProbesTotal.WithLabelValues(component, result).Inc()
}
