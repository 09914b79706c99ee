// Package metrics exposes Prometheus collectors for the scoring service.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder is what the rest of the service reports to.
type Recorder interface {
	ObserveEvent(kind, result string)
	AddPoints(kind string, points float64)
	IncStoreError(op string)
	IncRequest(route string, status int)
	ObserveRequest(route string, d time.Duration)
	IncCache(hit bool)
}

// Event results.
const (
	ResultApplied = "applied"
	ResultSkipped = "skipped"
	ResultFailed  = "failed"
	ResultGated   = "gated"
)

type prom struct {
	events          *prometheus.CounterVec
	points          *prometheus.CounterVec
	storeErrors     *prometheus.CounterVec
	requests        *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	cache           *prometheus.CounterVec
}

// New registers the collectors on reg. When enabled is false it returns a
// no-op recorder. leaderboardSize, if set, backs a gauge.
func New(reg prometheus.Registerer, enabled bool, leaderboardSize func() float64) Recorder {
	if !enabled {
		return Nop()
	}
	f := promauto.With(reg)
	m := &prom{
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_events_total",
			Help: "Ingested engagement events by kind and result",
		}, []string{"kind", "result"}),
		points: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_points_total",
			Help: "Points awarded by event kind",
		}, []string{"kind"}),
		storeErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_store_errors_total",
			Help: "Failed store operations",
		}, []string{"op"}),
		requests: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_http_requests_total",
			Help: "HTTP requests by route and status class",
		}, []string{"route", "status"}),
		requestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "scoring_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"route"}),
		cache: f.NewCounterVec(prometheus.CounterOpts{
			Name: "scoring_response_cache_total",
			Help: "Leaderboard response cache lookups",
		}, []string{"outcome"}),
	}
	if leaderboardSize != nil {
		f.NewGaugeFunc(prometheus.GaugeOpts{
			Name: "scoring_leaderboard_size",
			Help: "Members on the current session leaderboard",
		}, leaderboardSize)
	}
	return m
}

func (m *prom) ObserveEvent(kind, result string) { m.events.WithLabelValues(kind, result).Inc() }

func (m *prom) AddPoints(kind string, points float64) {
	if points > 0 {
		m.points.WithLabelValues(kind).Add(points)
	}
}

func (m *prom) IncStoreError(op string) { m.storeErrors.WithLabelValues(op).Inc() }

func (m *prom) IncRequest(route string, status int) {
	m.requests.WithLabelValues(route, statusClass(status)).Inc()
}

func (m *prom) ObserveRequest(route string, d time.Duration) {
	m.requestDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (m *prom) IncCache(hit bool) {
	outcome := "miss"
	if hit {
		outcome = "hit"
	}
	m.cache.WithLabelValues(outcome).Inc()
}

func statusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

type nop struct{}

// Nop discards everything.
func Nop() Recorder { return nop{} }

func (nop) ObserveEvent(string, string)          {}
func (nop) AddPoints(string, float64)            {}
func (nop) IncStoreError(string)                 {}
func (nop) IncRequest(string, int)               {}
func (nop) ObserveRequest(string, time.Duration) {}
func (nop) IncCache(bool)                        {}
