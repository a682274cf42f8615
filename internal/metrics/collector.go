// Package metrics exposes filtering counters to Prometheus
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bnema/wave-shield/internal/models"
)

const namespace = "wave_shield"

// Collector records decisions, normalization faults and reloads
type Collector struct {
	decisions  *prometheus.CounterVec
	faults     prometheus.Counter
	reloads    *prometheus.CounterVec
	rules      prometheus.Gauge
	generation prometheus.Gauge
}

// NewCollector creates the collectors and registers them with reg
func NewCollector(reg prometheus.Registerer) *Collector {
	f := promauto.With(reg)
	return &Collector{
		decisions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "decisions_total",
			Help:      "Requests evaluated, by decision.",
		}, []string{"decision"}),
		faults: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "normalize_faults_total",
			Help:      "Requests allowed because their URLs could not be parsed.",
		}),
		reloads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "reloads_total",
			Help:      "Filter reloads, by result.",
		}, []string{"result"}),
		rules: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_rules",
			Help:      "Rules in the active index.",
		}),
		generation: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "index_generation",
			Help:      "Generation of the active index.",
		}),
	}
}

// ObserveDecision counts one decision
func (c *Collector) ObserveDecision(d models.Decision) {
	c.decisions.WithLabelValues(d.String()).Inc()
}

// IncFault counts one normalization fault
func (c *Collector) IncFault() {
	c.faults.Inc()
}

// ObserveReload records the outcome of a reload
func (c *Collector) ObserveReload(rules int, generation uint64, err error) {
	if err != nil {
		c.reloads.WithLabelValues("error").Inc()
		return
	}
	c.reloads.WithLabelValues("ok").Inc()
	c.rules.Set(float64(rules))
	c.generation.Set(float64(generation))
}
