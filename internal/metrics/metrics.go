package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"tecctl/internal/tec"
)

const namespace = "tecctl"

// Collector exports controller status as Prometheus series. It implements
// tec.Observer and keeps its own registry so tests can build many.
type Collector struct {
	registry *prometheus.Registry

	temp       *prometheus.GaugeVec
	duty       *prometheus.GaugeVec
	target     *prometheus.GaugeVec
	enabled    *prometheus.GaugeVec
	shutdown   *prometheus.GaugeVec
	cycles     *prometheus.CounterVec
	actErrors  *prometheus.CounterVec
	sensorErrs *prometheus.CounterVec

	mu   sync.Mutex
	seen map[string]tec.Status
}

func New() *Collector {
	c := &Collector{
		registry: prometheus.NewRegistry(),
		temp: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "temperature_celsius",
			Help:      "Last temperature read by the controller.",
		}, []string{"tec", "side"}),
		duty: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "duty_fraction",
			Help:      "Last duty fraction written to the actuator.",
		}, []string{"tec"}),
		target: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "target_celsius",
			Help:      "Operator target temperature.",
		}, []string{"tec"}),
		enabled: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "enabled",
			Help:      "1 when the operator has enabled the TEC.",
		}, []string{"tec", "control"}),
		shutdown: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "shutdown",
			Help:      "1 once the controller latched a fatal fault.",
		}, []string{"tec"}),
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cycles_total",
			Help:      "Control cycles run.",
		}, []string{"tec"}),
		actErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "actuator_errors_total",
			Help:      "Failed actuator writes.",
		}, []string{"tec"}),
		sensorErrs: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sensor_read_errors_total",
			Help:      "Failed background sensor reads.",
		}, []string{"sensor"}),
		seen: map[string]tec.Status{},
	}
	c.registry.MustRegister(
		c.temp, c.duty, c.target, c.enabled, c.shutdown, c.cycles, c.actErrors, c.sensorErrs,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Observe implements tec.Observer.
func (c *Collector) Observe(st tec.Status) {
	c.temp.WithLabelValues(st.Name, "cold").Set(st.ColdTemp)
	c.temp.WithLabelValues(st.Name, "hot").Set(st.HotTemp)
	c.duty.WithLabelValues(st.Name).Set(st.DutyFraction)
	c.target.WithLabelValues(st.Name).Set(st.TargetTemp)
	c.enabled.WithLabelValues(st.Name, st.Strategy).Set(b2f(st.Enabled))
	c.shutdown.WithLabelValues(st.Name).Set(b2f(st.Shutdown))

	// Status carries running totals; counters advance by the difference.
	c.mu.Lock()
	prev := c.seen[st.Name]
	c.seen[st.Name] = st
	c.mu.Unlock()
	if st.Cycles > prev.Cycles {
		c.cycles.WithLabelValues(st.Name).Add(float64(st.Cycles - prev.Cycles))
	}
	if st.ActuatorErrors > prev.ActuatorErrors {
		c.actErrors.WithLabelValues(st.Name).Add(float64(st.ActuatorErrors - prev.ActuatorErrors))
	}
}

// SensorError counts one failed read of the named sensor.
func (c *Collector) SensorError(sensor string) {
	c.sensorErrs.WithLabelValues(sensor).Inc()
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{Registry: c.registry})
}
