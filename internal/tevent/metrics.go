package tevent

import "github.com/prometheus/client_golang/prometheus"

// Fire reasons used as the "reason" label on the fired counter.
const (
	reasonThreadStop  = "thread_stop"
	reasonContextStop = "context_stop"
	reasonTeardown    = "teardown"
)

// Metrics holds the Prometheus collectors for a registry. A nil *Metrics is
// valid and records nothing.
type Metrics struct {
	slots        prometheus.Gauge
	handlers     prometheus.Gauge
	registered   prometheus.Counter
	fired        *prometheus.CounterVec
	deregistered prometheus.Counter
	failures     *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		slots: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tevent",
			Subsystem: "registry",
			Name:      "slots",
			Help:      "Threads currently holding a handler slot",
		}),
		handlers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "tevent",
			Subsystem: "registry",
			Name:      "handlers",
			Help:      "Handlers currently registered across all slots",
		}),
		registered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tevent",
			Subsystem: "registry",
			Name:      "handlers_registered_total",
			Help:      "Total handlers registered",
		}),
		fired: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tevent",
			Subsystem: "registry",
			Name:      "handlers_fired_total",
			Help:      "Total handlers fired, by reason",
		}, []string{"reason"}),
		deregistered: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "tevent",
			Subsystem: "registry",
			Name:      "handlers_deregistered_total",
			Help:      "Total handlers removed without firing",
		}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "tevent",
			Subsystem: "registry",
			Name:      "start_failures_total",
			Help:      "Total failed registrations, by reason",
		}, []string{"reason"}),
	}
	for _, c := range []prometheus.Collector{m.slots, m.handlers, m.registered, m.fired, m.deregistered, m.failures} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *Metrics) slotAdded() {
	if m != nil {
		m.slots.Inc()
	}
}

func (m *Metrics) slotRemoved() {
	if m != nil {
		m.slots.Dec()
	}
}

func (m *Metrics) handlerRegistered() {
	if m != nil {
		m.registered.Inc()
		m.handlers.Inc()
	}
}

func (m *Metrics) handlersFired(reason string, n int) {
	if m != nil && n > 0 {
		m.fired.WithLabelValues(reason).Add(float64(n))
		m.handlers.Sub(float64(n))
	}
}

func (m *Metrics) handlersDeregistered(n int) {
	if m != nil && n > 0 {
		m.deregistered.Add(float64(n))
		m.handlers.Sub(float64(n))
	}
}

func (m *Metrics) startFailed(err error) {
	if m == nil {
		return
	}
	reason := "other"
	switch {
	case IsCapacity(err):
		reason = "capacity"
	case IsDestroyed(err):
		reason = "destroyed"
	case IsUninitialized(err):
		reason = "uninitialized"
	case IsThreadExited(err):
		reason = "thread_exited"
	case IsContextNotComparable(err):
		reason = "not_comparable"
	}
	m.failures.WithLabelValues(reason).Inc()
}
