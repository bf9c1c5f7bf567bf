package observability

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_http_requests_total",
			Help: "Total number of HTTP requests processed by the messaging relay.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "messaging_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	wsActiveConnections = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "messaging_ws_active_connections",
			Help: "Number of active realtime connections.",
		},
		[]string{"side"},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_ws_events_total",
			Help: "Total number of realtime channel events.",
		},
		[]string{"side", "event"},
	)
	sendOutcomesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "messaging_send_outcomes_total",
			Help: "Message send reconciliation outcomes (confirmed or rolled_back).",
		},
		[]string{"outcome"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "messaging_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		wsActiveConnections,
		wsEventsTotal,
		sendOutcomesTotal,
		amqpPublishErrorsTotal,
	)
}

func HTTPMetricsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		route := c.FullPath()
		if route == "" {
			route = c.Request.URL.Path
		}
		status := c.Writer.Status()

		httpRequestsTotal.WithLabelValues(c.Request.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(route).Observe(time.Since(start).Seconds())
	}
}

func IncWSActive(side string) {
	wsActiveConnections.WithLabelValues(side).Inc()
}

func DecWSActive(side string) {
	wsActiveConnections.WithLabelValues(side).Dec()
}

func IncWSEvent(side, event string) {
	wsEventsTotal.WithLabelValues(side, event).Inc()
}

func IncSendOutcome(outcome string) {
	sendOutcomesTotal.WithLabelValues(outcome).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
