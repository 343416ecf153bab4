package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics exposes application metrics that are safe to scrape via Prometheus.
type Metrics struct {
	registry            *prometheus.Registry
	httpRequests        *prometheus.CounterVec
	httpRequestDuration *prometheus.HistogramVec
	polls               *prometheus.CounterVec
	pollDuration        *prometheus.HistogramVec
	notices             *prometheus.CounterVec
	renders             *prometheus.CounterVec
	trackedServers      prometheus.Gauge
	playersOnline       prometheus.Gauge
}

// New creates a fresh Metrics registry with HTTP, poll, notification and
// board metrics registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()

	httpRequests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tstats",
		Name:      "http_requests_total",
		Help:      "Count of HTTP requests served",
	}, []string{"method", "path", "status"})

	httpRequestDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tstats",
		Name:      "http_request_duration_seconds",
		Help:      "Duration of HTTP requests served",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "path", "status"})

	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tstats",
		Name:      "polls_total",
		Help:      "Poll cycles by query kind and outcome (online, offline, error)",
	}, []string{"kind", "outcome"})

	pollDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "tstats",
		Name:      "poll_duration_seconds",
		Help:      "Duration of poll cycles including retries",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 20},
	}, []string{"kind"})

	notices := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tstats",
		Name:      "notices_total",
		Help:      "Notification notices by subscription kind and delivery result",
	}, []string{"kind", "result"})

	renders := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "tstats",
		Name:      "board_renders_total",
		Help:      "Status message renders by outcome (edited, sent, failed)",
	}, []string{"outcome"})

	trackedServers := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tstats",
		Name:      "tracked_servers",
		Help:      "Number of servers being polled",
	})

	playersOnline := prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: "tstats",
		Name:      "players_online",
		Help:      "Players online across every tracked server",
	})

	registry.MustRegister(
		httpRequests,
		httpRequestDuration,
		polls,
		pollDuration,
		notices,
		renders,
		trackedServers,
		playersOnline,
	)

	return &Metrics{
		registry:            registry,
		httpRequests:        httpRequests,
		httpRequestDuration: httpRequestDuration,
		polls:               polls,
		pollDuration:        pollDuration,
		notices:             notices,
		renders:             renders,
		trackedServers:      trackedServers,
		playersOnline:       playersOnline,
	}
}

// ObserveHTTPRequest records a single HTTP request/response cycle.
func (m *Metrics) ObserveHTTPRequest(method, path string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	labels := prometheus.Labels{
		"method": method,
		"path":   path,
		"status": strconv.Itoa(status),
	}
	m.httpRequests.With(labels).Inc()
	m.httpRequestDuration.With(labels).Observe(duration.Seconds())
}

// ObservePoll records one poll cycle.
func (m *Metrics) ObservePoll(kind, outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.polls.WithLabelValues(kind, outcome).Inc()
	m.pollDuration.WithLabelValues(kind).Observe(took.Seconds())
}

// ObserveNotice records one notice delivery attempt.
func (m *Metrics) ObserveNotice(kind string, delivered bool) {
	if m == nil {
		return
	}
	result := "delivered"
	if !delivered {
		result = "failed"
	}
	m.notices.WithLabelValues(kind, result).Inc()
}

// ObserveRender records one status message render.
func (m *Metrics) ObserveRender(outcome string) {
	if m == nil {
		return
	}
	m.renders.WithLabelValues(outcome).Inc()
}

// SetTotals updates the player and server gauges.
func (m *Metrics) SetTotals(players, servers int) {
	if m == nil {
		return
	}
	m.playersOnline.Set(float64(players))
	m.trackedServers.Set(float64(servers))
}

// Handler exposes the Prometheus registry over HTTP.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("metrics unavailable"))
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
