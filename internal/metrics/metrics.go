package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Recorder receives execution measurements from the engine. A nil-safe
// Nop implementation lets callers wire metrics only when they want them.
type Recorder interface {
	StepExecuted(workflow, kind, status string, d time.Duration)
	InstanceWaiting(delta int)
	InstanceCompleted(workflow string)
}

// Nop discards all measurements.
type Nop struct{}

func (Nop) StepExecuted(string, string, string, time.Duration) {}
func (Nop) InstanceWaiting(int)                                {}
func (Nop) InstanceCompleted(string)                           {}

// Prometheus records measurements into prometheus collectors.
type Prometheus struct {
	stepsExecuted      *prometheus.CounterVec
	stepDuration       *prometheus.HistogramVec
	instancesWaiting   prometheus.Gauge
	instancesCompleted *prometheus.CounterVec
}

// NewPrometheus builds a Prometheus recorder and registers its
// collectors on the given registerer.
func NewPrometheus(reg prometheus.Registerer) *Prometheus {
	p := &Prometheus{
		stepsExecuted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepline",
			Name:      "steps_executed_total",
			Help:      "Steps executed, by workflow, action kind and outcome status.",
		}, []string{"workflow", "kind", "status"}),
		stepDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "stepline",
			Name:      "step_duration_seconds",
			Help:      "Handler execution latency by action kind.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"kind"}),
		instancesWaiting: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "stepline",
			Name:      "instances_waiting",
			Help:      "Instances currently suspended on an elicit step.",
		}),
		instancesCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "stepline",
			Name:      "instances_completed_total",
			Help:      "Instances that reached the end of their step list.",
		}, []string{"workflow"}),
	}
	reg.MustRegister(p.stepsExecuted, p.stepDuration, p.instancesWaiting, p.instancesCompleted)
	return p
}

func (p *Prometheus) StepExecuted(workflow, kind, status string, d time.Duration) {
	p.stepsExecuted.WithLabelValues(workflow, kind, status).Inc()
	p.stepDuration.WithLabelValues(kind).Observe(d.Seconds())
}

func (p *Prometheus) InstanceWaiting(delta int) {
	p.instancesWaiting.Add(float64(delta))
}

func (p *Prometheus) InstanceCompleted(workflow string) {
	p.instancesCompleted.WithLabelValues(workflow).Inc()
}
