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
			Name: "msgsync_http_requests_total",
			Help: "Total number of HTTP requests processed by the sync daemon.",
		},
		[]string{"method", "route", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "msgsync_http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	syncBatchesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgsync_sync_batches_total",
			Help: "Total number of sync batches processed.",
		},
		[]string{"kind"},
	)
	syncItemsSavedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgsync_sync_items_saved_total",
			Help: "Total number of rows saved by the sync engine.",
		},
		[]string{"kind"},
	)
	syncItemErrorsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgsync_sync_item_errors_total",
			Help: "Total number of per-item errors skipped inside sync batches.",
		},
		[]string{"kind"},
	)
	sendAttemptsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgsync_send_attempts_total",
			Help: "Total number of outbound dispatch attempts by outcome.",
		},
		[]string{"outcome"},
	)
	sendQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msgsync_send_queue_depth",
			Help: "Messages currently waiting in the send queue.",
		},
	)
	flushDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "msgsync_flush_duration_seconds",
			Help:    "Duration of one send-queue flush pass.",
			Buckets: prometheus.DefBuckets,
		},
	)
	slowOperationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgsync_slow_operations_total",
			Help: "Operations that exceeded the slow-operation threshold.",
		},
		[]string{"operation"},
	)
	wsActiveConnections = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "msgsync_ws_active_connections",
			Help: "Number of active websocket connections.",
		},
	)
	wsEventsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "msgsync_ws_events_total",
			Help: "Total number of websocket events.",
		},
		[]string{"event"},
	)
	amqpPublishErrorsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "msgsync_amqp_publish_errors_total",
			Help: "Total number of AMQP publish errors.",
		},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		syncBatchesTotal,
		syncItemsSavedTotal,
		syncItemErrorsTotal,
		sendAttemptsTotal,
		sendQueueDepth,
		flushDuration,
		slowOperationsTotal,
		wsActiveConnections,
		wsEventsTotal,
		amqpPublishErrorsTotal,
	)
}

// SlowOperationThreshold flags long-running sync operations for telemetry;
// it never aborts them.
const SlowOperationThreshold = 3 * time.Second

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

func IncSyncBatch(kind string) {
	syncBatchesTotal.WithLabelValues(kind).Inc()
}

func AddSyncItemsSaved(kind string, n int) {
	syncItemsSavedTotal.WithLabelValues(kind).Add(float64(n))
}

func IncSyncItemError(kind string) {
	syncItemErrorsTotal.WithLabelValues(kind).Inc()
}

func IncSendAttempt(outcome string) {
	sendAttemptsTotal.WithLabelValues(outcome).Inc()
}

func SetSendQueueDepth(depth int) {
	sendQueueDepth.Set(float64(depth))
}

func ObserveFlush(elapsed time.Duration) {
	flushDuration.Observe(elapsed.Seconds())
	if elapsed > SlowOperationThreshold {
		slowOperationsTotal.WithLabelValues("flush").Inc()
	}
}

func IncSlowOperation(operation string) {
	slowOperationsTotal.WithLabelValues(operation).Inc()
}

func IncWSActive() {
	wsActiveConnections.Inc()
}

func DecWSActive() {
	wsActiveConnections.Dec()
}

func IncWSEvent(event string) {
	wsEventsTotal.WithLabelValues(event).Inc()
}

func IncAMQPPublishError() {
	amqpPublishErrorsTotal.Inc()
}
