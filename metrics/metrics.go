package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dailycheckin",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dailycheckin",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "dailycheckin",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10),
		},
		[]string{"method", "route"},
	)

	checkIns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dailycheckin",
			Subsystem: "checkins",
			Name:      "total",
			Help:      "Check-in attempts by outcome.",
		},
		[]string{"outcome"},
	)

	images = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dailycheckin",
			Subsystem: "media",
			Name:      "images_total",
			Help:      "Processed image attachments by outcome.",
		},
		[]string{"outcome"},
	)

	notifications = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "dailycheckin",
			Subsystem: "notify",
			Name:      "messages_total",
			Help:      "Push notifications by outcome.",
		},
		[]string{"outcome"},
	)

	notifyQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "dailycheckin",
			Subsystem: "notify",
			Name:      "queue_depth",
			Help:      "Notifications waiting to be sent.",
		},
	)
)

func init() {
	Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		httpInFlight,
		httpRequests,
		httpDuration,
		checkIns,
		images,
		notifications,
		notifyQueueDepth,
	)
}

// Handler exposes the registry in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// RequestStarted tracks an in-flight request and returns its completion callback.
func RequestStarted() func(method, route, status string) {
	start := time.Now()
	httpInFlight.Inc()
	return func(method, route, status string) {
		httpInFlight.Dec()
		httpRequests.WithLabelValues(method, route, status).Inc()
		httpDuration.WithLabelValues(method, route).Observe(time.Since(start).Seconds())
	}
}

// CheckIn counts a check-in attempt ("created", "duplicate", "rejected", "deleted").
func CheckIn(outcome string) {
	checkIns.WithLabelValues(outcome).Inc()
}

// Image counts an attachment outcome ("stored", "invalid", "failed").
func Image(outcome string) {
	images.WithLabelValues(outcome).Inc()
}

// Notification counts a push outcome ("sent", "failed", "dropped").
func Notification(outcome string) {
	notifications.WithLabelValues(outcome).Inc()
}

// SetNotifyQueueDepth records the notification backlog.
func SetNotifyQueueDepth(n int) {
	notifyQueueDepth.Set(float64(n))
}
