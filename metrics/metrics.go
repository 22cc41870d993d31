package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the Prometheus collectors of one service instance. Each
// instance owns its registry so several can coexist in tests. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	// Cascade metrics
	CascadeStageCandidates *prometheus.HistogramVec
	CascadeStageDuration   *prometheus.HistogramVec
	CascadeTheta           prometheus.Histogram
	CascadeDegraded        prometheus.Counter

	// Negotiation metrics
	NegotiationsActive  prometheus.Gauge
	NegotiationsTotal   *prometheus.CounterVec
	NegotiationRounds   prometheus.Histogram
	AggregationDuration prometheus.Histogram
	AggregationRetries  prometheus.Counter
	OffersTotal         *prometheus.CounterVec

	// Echo metrics
	EchoEvents *prometheus.CounterVec

	// WebSocket metrics
	WebSocketConnections prometheus.Gauge
}

// New creates and registers all collectors on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		CascadeStageCandidates: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resonance_cascade_stage_candidates",
			Help:    "Candidates surviving each cascade stage",
			Buckets: prometheus.ExponentialBuckets(1, 4, 10),
		}, []string{"stage"}),

		CascadeStageDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "resonance_cascade_stage_duration_seconds",
			Help:    "Wall time spent in each cascade stage",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
		}, []string{"stage"}),

		CascadeTheta: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "resonance_cascade_theta",
			Help:    "Similarity cutoff applied by the hypervector filter",
			Buckets: prometheus.LinearBuckets(0.4, 0.05, 12),
		}),

		CascadeDegraded: f.NewCounter(prometheus.CounterOpts{
			Name: "resonance_cascade_degraded_total",
			Help: "Cascade runs that returned a best-effort partial set",
		}),

		NegotiationsActive: f.NewGauge(prometheus.GaugeOpts{
			Name: "resonance_negotiations_active",
			Help: "Negotiations not yet terminal",
		}),

		NegotiationsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_negotiations_total",
			Help: "Terminal negotiations by final state and result kind",
		}, []string{"state", "result"}),

		NegotiationRounds: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "resonance_negotiation_rounds",
			Help:    "Collection rounds per negotiation",
			Buckets: []float64{1, 2},
		}),

		AggregationDuration: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "resonance_aggregation_duration_seconds",
			Help:    "Aggregation pass latency",
			Buckets: []float64{0.01, 0.1, 0.5, 1, 2, 5, 10, 30, 60},
		}),

		AggregationRetries: f.NewCounter(prometheus.CounterOpts{
			Name: "resonance_aggregation_retries_total",
			Help: "Aggregation attempts retried after a transient failure",
		}),

		OffersTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_offers_total",
			Help: "Offers by disposition",
		}, []string{"disposition"}), // accepted, late, declined

		EchoEvents: f.NewCounterVec(prometheus.CounterOpts{
			Name: "resonance_echo_events_total",
			Help: "Echo events by outcome kind and disposition",
		}, []string{"kind", "disposition"}),

		WebSocketConnections: f.NewGauge(prometheus.GaugeOpts{
			Name: "resonance_websocket_connections_active",
			Help: "Number of active WebSocket connections",
		}),
	}
}

// Handler exposes the instance registry for scraping.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// Registry returns the instance registry.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// ObserveStage records one cascade stage.
func (m *Metrics) ObserveStage(stage string, survivors int, d time.Duration) {
	if m == nil {
		return
	}
	m.CascadeStageCandidates.WithLabelValues(stage).Observe(float64(survivors))
	m.CascadeStageDuration.WithLabelValues(stage).Observe(d.Seconds())
}

// ObserveTheta records the applied cutoff and whether the run degraded.
func (m *Metrics) ObserveTheta(theta float64, degraded bool) {
	if m == nil {
		return
	}
	m.CascadeTheta.Observe(theta)
	if degraded {
		m.CascadeDegraded.Inc()
	}
}

// NegotiationStarted increments the active gauge.
func (m *Metrics) NegotiationStarted() {
	if m == nil {
		return
	}
	m.NegotiationsActive.Inc()
}

// NegotiationFinished records a terminal negotiation.
func (m *Metrics) NegotiationFinished(state, result string, rounds int) {
	if m == nil {
		return
	}
	m.NegotiationsActive.Dec()
	m.NegotiationsTotal.WithLabelValues(state, result).Inc()
	m.NegotiationRounds.Observe(float64(rounds))
}

// ObserveAggregation records one aggregation attempt.
func (m *Metrics) ObserveAggregation(d time.Duration, retried bool) {
	if m == nil {
		return
	}
	m.AggregationDuration.Observe(d.Seconds())
	if retried {
		m.AggregationRetries.Inc()
	}
}

// Offer counts an offer by disposition.
func (m *Metrics) Offer(disposition string) {
	if m == nil {
		return
	}
	m.OffersTotal.WithLabelValues(disposition).Inc()
}

// Echo counts an echo event by disposition.
func (m *Metrics) Echo(kind, disposition string) {
	if m == nil {
		return
	}
	m.EchoEvents.WithLabelValues(kind, disposition).Inc()
}

// WebSocket adjusts the connection gauge by delta.
func (m *Metrics) WebSocket(delta int) {
	if m == nil {
		return
	}
	m.WebSocketConnections.Add(float64(delta))
}
