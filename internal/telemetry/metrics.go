package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Registry = prometheus.NewRegistry()

	ProbesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersentry",
			Name:      "probes_total",
			Help:      "Outbound peer probes by channel and result.",
		},
		[]string{"channel", "result"},
	)

	IncomingPingsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersentry",
			Name:      "incoming_pings_total",
			Help:      "Incoming peer pings observed per listening channel.",
		},
		[]string{"channel"},
	)

	OfflinePeers = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "peersentry",
			Name:      "offline_peers",
			Help:      "Peers currently tracked with at least one failing channel.",
		},
	)

	ReportsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersentry",
			Name:      "reports_total",
			Help:      "Status reports sent to the authority by type and outcome.",
		},
		[]string{"type", "outcome"},
	)

	SelfChannelUp = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peersentry",
			Name:      "self_channel_up",
			Help:      "Whether our own listening channel looks reachable (1) or not (0).",
		},
		[]string{"channel"},
	)

	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "peersentry",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests.",
		},
		[]string{"op", "status"},
	)

	RequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "peersentry",
			Name:      "request_duration_seconds",
			Help:      "Latency of HTTP requests.",
			// Tune buckets to your SLOs. This covers 1ms .. ~4s.
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 13),
		},
		[]string{"op"},
	)

	// ---- Process / build info ----
	buildInfo = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "peersentry",
			Name:      "build_info",
			Help:      "Build info (constant 1, labeled by version and git_sha).",
		},
		[]string{"version", "git_sha"},
	)

	startTime = time.Now()
	uptime    = prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Namespace: "peersentry",
			Name:      "uptime_seconds",
			Help:      "Process uptime in seconds.",
		},
		func() float64 { return time.Since(startTime).Seconds() },
	)
)

func init() {
	Registry.MustRegister(
		ProbesTotal, IncomingPingsTotal, OfflinePeers, ReportsTotal, SelfChannelUp,
		RequestsTotal, RequestDuration, buildInfo, uptime,
	)
}

// MetricsHandler exposes /metrics. Mount it with mux.Handle("/metrics", telemetry.MetricsHandler()).
func MetricsHandler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// SetBuildInfo should be called once at startup, e.g. with ldflags-provided values.
func SetBuildInfo(version, gitSHA string) {
	buildInfo.WithLabelValues(version, gitSHA).Set(1)
}

// SetChannelUp records the derived health of one of our own channels.
func SetChannelUp(channel string, up bool) {
	v := 0.0
	if up {
		v = 1.0
	}
	SelfChannelUp.WithLabelValues(channel).Set(v)
}

// ---- Middleware instrumentation ----

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Instrument wraps an http.Handler to record metrics under the provided "op" label.
// Example:
//
//	mux.HandleFunc("/info", telemetry.Instrument("info", http.HandlerFunc(s.info)).ServeHTTP)
func Instrument(op string, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: 200}
		start := time.Now()

		next.ServeHTTP(sw, r)

		class := strconv.Itoa(sw.status/100) + "xx"
		RequestsTotal.WithLabelValues(op, class).Inc()
		RequestDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
	})
}
