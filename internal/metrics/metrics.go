// Package metrics exposes prometheus collectors for controller traffic.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "luxord"

// Metrics holds the collectors. All methods are safe on a nil receiver so
// components can be built without metrics in tests.
type Metrics struct {
	requests        *prometheus.CounterVec
	fallbacks       *prometheus.CounterVec
	transportErrors *prometheus.CounterVec
	quirks          prometheus.Counter
	polls           *prometheus.CounterVec
	accessories     *prometheus.GaugeVec
	reg             prometheus.Registerer
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		requests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_requests_total",
			Help:      "Requests sent to the controller by endpoint and controller status.",
		}, []string{"endpoint", "status"}),
		fallbacks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_fallbacks_total",
			Help:      "Responses answered from last-known state after a failed status or timeout.",
		}, []string{"endpoint"}),
		transportErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_transport_errors_total",
			Help:      "Requests that failed at the transport level.",
		}, []string{"endpoint"}),
		quirks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_reset_suppressed_total",
			Help:      "Connection resets on theme illumination treated as success.",
		}),
		polls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "controller_polls_total",
			Help:      "Controller poll cycles by result.",
		}, []string{"result"}),
		accessories: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "accessories",
			Help:      "Accessories known after the last reconciliation, by kind.",
		}, []string{"kind"}),
		reg: reg,
	}

	reg.MustRegister(m.requests, m.fallbacks, m.transportErrors, m.quirks, m.polls, m.accessories)
	return m
}

// RegisterQueueDepth exposes the length of a request queue as a gauge.
func (m *Metrics) RegisterQueueDepth(depth func() int) {
	if m == nil {
		return
	}
	m.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "request_queue_depth",
		Help:      "Controller requests waiting in the serial queue.",
	}, func() float64 {
		return float64(depth())
	}))
}

func (m *Metrics) ObserveRequest(endpoint, status string) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(endpoint, status).Inc()
}

func (m *Metrics) ObserveFallback(endpoint string) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveTransportError(endpoint string) {
	if m == nil {
		return
	}
	m.transportErrors.WithLabelValues(endpoint).Inc()
}

func (m *Metrics) ObserveResetSuppressed() {
	if m == nil {
		return
	}
	m.quirks.Inc()
}

func (m *Metrics) ObservePoll(err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.polls.WithLabelValues(result).Inc()
}

// SetAccessories records the accessory count for a kind.
func (m *Metrics) SetAccessories(kind string, n int) {
	if m == nil {
		return
	}
	m.accessories.WithLabelValues(kind).Set(float64(n))
}
