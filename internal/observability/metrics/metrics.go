package metrics

import "github.com/prometheus/client_golang/prometheus"

// BookingMetrics exposes counters/histograms for the booking flow.
type BookingMetrics struct {
	fetchTotal      *prometheus.CounterVec
	fetchLatency    prometheus.Histogram
	slotsSkipped    prometheus.Counter
	transitionTotal *prometheus.CounterVec
	paymentTotal    *prometheus.CounterVec
	paymentLatency  prometheus.Histogram
	activeSessions  prometheus.Gauge
}

func NewBookingMetrics(reg prometheus.Registerer) *BookingMetrics {
	m := &BookingMetrics{
		fetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "availability_fetch_total",
			Help:      "Availability fetches by outcome (ok, failed, stale)",
		}, []string{"outcome"}),
		fetchLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "availability_fetch_seconds",
			Help:      "Latency of availability reads against the marketplace backend",
			Buckets:   prometheus.DefBuckets,
		}),
		slotsSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "slots_skipped_total",
			Help:      "Backend availability records dropped during normalization",
		}),
		transitionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "selection_events_total",
			Help:      "Selection events by result (applied, rejected)",
		}, []string{"event", "result"}),
		paymentTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "checkout_total",
			Help:      "Checkout attempts by outcome and failure category",
		}, []string{"outcome", "category"}),
		paymentLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "checkout_seconds",
			Help:      "End to end latency of the checkout handoff",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 20},
		}),
		activeSessions: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "urbanassist",
			Subsystem: "booking",
			Name:      "sessions_open",
			Help:      "Booking sessions held in memory by this instance",
		}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(m.fetchTotal, m.fetchLatency, m.slotsSkipped, m.transitionTotal, m.paymentTotal, m.paymentLatency, m.activeSessions)
	return m
}

func (m *BookingMetrics) ObserveFetch(outcome string, seconds float64) {
	if m == nil {
		return
	}
	m.fetchTotal.WithLabelValues(outcome).Inc()
	if seconds > 0 {
		m.fetchLatency.Observe(seconds)
	}
}

func (m *BookingMetrics) ObserveSkipped(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.slotsSkipped.Add(float64(n))
}

func (m *BookingMetrics) ObserveTransition(event string, applied bool) {
	if m == nil {
		return
	}
	result := "applied"
	if !applied {
		result = "rejected"
	}
	m.transitionTotal.WithLabelValues(event, result).Inc()
}

func (m *BookingMetrics) ObservePayment(outcome, category string, seconds float64) {
	if m == nil {
		return
	}
	m.paymentTotal.WithLabelValues(outcome, category).Inc()
	m.paymentLatency.Observe(seconds)
}

// SetLiveSessions records how many sessions this instance currently tracks.
func (m *BookingMetrics) SetLiveSessions(n int) {
	if m == nil {
		return
	}
	m.activeSessions.Set(float64(n))
}
