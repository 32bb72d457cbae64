package metrics

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/gustycube/certprobe/internal/health"
)

var (
	ProbesTotal   = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "certprobe_probes_total", Help: "probes by outcome (validity class or error kind)"}, []string{"outcome"})
	RetriesTotal  = prometheus.NewCounter(prometheus.CounterOpts{Name: "certprobe_retries_total", Help: "probe retries after transient failures"})
	ProbeDuration = prometheus.NewHistogram(prometheus.HistogramOpts{Name: "certprobe_probe_duration_seconds", Help: "connect and handshake time", Buckets: prometheus.DefBuckets})
	RemainingDays = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "certprobe_cert_remaining_days", Help: "whole days until the leaf certificate expires"}, []string{"host", "port"})
)

func init() {
	prometheus.MustRegister(ProbesTotal, RetriesTotal, ProbeDuration, RemainingDays)
}

// ObserveCert records the remaining lifetime for an endpoint.
func ObserveCert(host string, port int, days int) {
	RemainingDays.WithLabelValues(host, strconv.Itoa(port)).Set(float64(days))
}

// Handler serves /metrics next to the health endpoints.
func Handler(healthHandler *health.Handler) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", healthHandler.HealthHandler)
	mux.HandleFunc("/ready", healthHandler.ReadinessHandler)
	mux.HandleFunc("/live", healthHandler.LivenessHandler)
	return mux
}

func ServeWithHealth(addr string, healthHandler *health.Handler, log *zap.SugaredLogger) {
	if err := http.ListenAndServe(addr, Handler(healthHandler)); err != nil {
		log.Warnw("metrics server stopped", "err", err)
	}
}
