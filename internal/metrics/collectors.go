package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Outcomes of a pipeline run.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// Collectors are the Prometheus series exported at /metrics.
type Collectors struct {
	Registry    *prometheus.Registry
	generations *prometheus.CounterVec
	duration    prometheus.Histogram
	attempts    *prometheus.CounterVec
}

// NewCollectors registers the pipeline series, plus the Go runtime and
// process collectors, on a fresh registry.
func NewCollectors() *Collectors {
	c := &Collectors{
		Registry: prometheus.NewRegistry(),
		generations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiui",
			Name:      "plan_generations_total",
			Help:      "Plan generation runs by outcome and error kind.",
		}, []string{"outcome", "kind"}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kiui",
			Name:      "plan_generation_duration_seconds",
			Help:      "Wall time of plan generation runs.",
			Buckets:   []float64{1, 5, 10, 20, 30, 45, 60, 90, 120},
		}),
		attempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kiui",
			Name:      "llm_attempts_total",
			Help:      "Model call attempts by provider and result.",
		}, []string{"provider", "result"}),
	}
	c.Registry.MustRegister(
		c.generations,
		c.duration,
		c.attempts,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return c
}

// ObserveGeneration counts a finished run. kind is empty on success.
func (c *Collectors) ObserveGeneration(outcome, kind string, d time.Duration) {
	c.generations.WithLabelValues(outcome, kind).Inc()
	c.duration.Observe(d.Seconds())
}

// ObserveAttempt counts one model call attempt.
func (c *Collectors) ObserveAttempt(provider, result string) {
	c.attempts.WithLabelValues(provider, result).Inc()
}
