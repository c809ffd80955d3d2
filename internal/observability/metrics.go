package observability

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Outcome labels shared by interaction and inbound call metrics.
const (
	OutcomeOK       = "ok"
	OutcomeError    = "error"
	OutcomeCanceled = "canceled"
	OutcomeSkipped  = "not_connected"
)

var (
	registerOnce sync.Once

	clientInteractions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamshell",
			Subsystem: "client",
			Name:      "interactions_total",
			Help:      "Client interactions by route and outcome.",
		},
		[]string{"route", "outcome"},
	)
	clientInteractionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamshell",
			Subsystem: "client",
			Name:      "interaction_duration_seconds",
			Help:      "Time until a blocking interaction returned or a subscription was set up.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"route"},
	)
	activeSubscriptions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "streamshell",
			Subsystem: "client",
			Name:      "active_subscriptions",
			Help:      "Streaming subscriptions currently delivering.",
		},
	)
	inboundCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamshell",
			Subsystem: "transport",
			Name:      "inbound_calls_total",
			Help:      "Peer-initiated calls by route and outcome.",
		},
		[]string{"route", "outcome"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "streamshell",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Requests served by the metrics endpoint.",
		},
		[]string{"method", "path", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "streamshell",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Metrics endpoint request duration.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			clientInteractions,
			clientInteractionDuration,
			activeSubscriptions,
			inboundCalls,
			httpRequests,
			httpRequestDuration,
		)
	})
}

func RecordInteraction(route, outcome string, duration time.Duration) {
	RegisterMetrics()
	clientInteractions.WithLabelValues(route, outcome).Inc()
	if outcome != OutcomeSkipped {
		clientInteractionDuration.WithLabelValues(route).Observe(duration.Seconds())
	}
}

func SubscriptionOpened() {
	RegisterMetrics()
	activeSubscriptions.Inc()
}

func SubscriptionClosed() {
	RegisterMetrics()
	activeSubscriptions.Dec()
}

func RecordInboundCall(route, outcome string) {
	RegisterMetrics()
	inboundCalls.WithLabelValues(route, outcome).Inc()
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	httpRequests.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// Handler serves the default registry in the Prometheus text format.
func Handler() http.Handler {
	RegisterMetrics()
	return promhttp.Handler()
}
