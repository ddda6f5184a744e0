package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/timzifer/regimen/events"
)

// Dose outcomes reported through IncDose.
const (
	OutcomeRejected = "rejected"
	OutcomeAccepted = "accepted"
	OutcomeInWindow = "in_window"
)

// Collector captures telemetry emitted by the simulation.
//
// Implementations should be inexpensive to call because hooks are executed
// inline with dose handling and adherence ticks.
type Collector interface {
	IncNotification(kind, disease string)
	IncDose(treatment, outcome string)
	SetInWindow(treatment string, count int)
}

type noopCollector struct{}

// Noop returns a collector that discards all metrics.
func Noop() Collector {
	return noopCollector{}
}

func (noopCollector) IncNotification(string, string) {}
func (noopCollector) IncDose(string, string)         {}
func (noopCollector) SetInWindow(string, int)        {}

// PrometheusCollector exposes telemetry via Prometheus.
type PrometheusCollector struct {
	notifications *prometheus.CounterVec
	doses         *prometheus.CounterVec
	inWindow      *prometheus.GaugeVec
}

var (
	metricsMu           sync.Mutex
	notificationCounter *prometheus.CounterVec
	doseCounter         *prometheus.CounterVec
	inWindowGauge       *prometheus.GaugeVec
)

// NewPrometheusCollector registers the required metrics with the provided
// registerer. Metrics registered earlier are reused.
func NewPrometheusCollector(reg prometheus.Registerer) (*PrometheusCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	metricsMu.Lock()
	defer metricsMu.Unlock()

	if notificationCounter == nil {
		counter, err := registerCounterVec(reg, prometheus.CounterOpts{
			Name: "regimen_disease_notifications_total",
			Help: "Number of disease notifications raised per kind and disease.",
		}, []string{"kind", "disease"})
		if err != nil {
			return nil, err
		}
		notificationCounter = counter
	}
	if doseCounter == nil {
		counter, err := registerCounterVec(reg, prometheus.CounterOpts{
			Name: "regimen_treatment_doses_total",
			Help: "Number of appliance uses seen by a treatment, by outcome.",
		}, []string{"treatment", "outcome"})
		if err != nil {
			return nil, err
		}
		doseCounter = counter
	}
	if inWindowGauge == nil {
		gauge := prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "regimen_treatment_in_window_doses",
			Help: "Doses taken inside the tolerance window for the running regimen.",
		}, []string{"treatment"})
		if err := reg.Register(gauge); err != nil {
			already, ok := err.(prometheus.AlreadyRegisteredError)
			if !ok {
				return nil, err
			}
			existing, ok := already.ExistingCollector.(*prometheus.GaugeVec)
			if !ok {
				return nil, err
			}
			gauge = existing
		}
		inWindowGauge = gauge
	}

	return &PrometheusCollector{
		notifications: notificationCounter,
		doses:         doseCounter,
		inWindow:      inWindowGauge,
	}, nil
}

func registerCounterVec(reg prometheus.Registerer, opts prometheus.CounterOpts, labels []string) (*prometheus.CounterVec, error) {
	counter := prometheus.NewCounterVec(opts, labels)
	if err := reg.Register(counter); err != nil {
		already, ok := err.(prometheus.AlreadyRegisteredError)
		if !ok {
			return nil, err
		}
		existing, ok := already.ExistingCollector.(*prometheus.CounterVec)
		if !ok {
			return nil, err
		}
		return existing, nil
	}
	return counter, nil
}

// IncNotification counts a disease notification.
func (p *PrometheusCollector) IncNotification(kind, disease string) {
	if p == nil || p.notifications == nil {
		return
	}
	p.notifications.WithLabelValues(kind, disease).Inc()
}

// IncDose counts an appliance use seen by a treatment.
func (p *PrometheusCollector) IncDose(treatment, outcome string) {
	if p == nil || p.doses == nil {
		return
	}
	p.doses.WithLabelValues(treatment, outcome).Inc()
}

// SetInWindow records the in-window dose count of a treatment.
func (p *PrometheusCollector) SetInWindow(treatment string, count int) {
	if p == nil || p.inWindow == nil {
		return
	}
	p.inWindow.WithLabelValues(treatment).Set(float64(count))
}

// NewEventSubscriber forwards bus notifications to c.
func NewEventSubscriber(c Collector) events.Handler {
	if c == nil {
		c = Noop()
	}
	return func(e events.Event) {
		c.IncNotification(e.Kind.String(), e.Disease)
	}
}
