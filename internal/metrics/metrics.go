// ABOUTME: Prometheus collectors for executions, the work queue and jobs
// ABOUTME: Implements executor.Observer and scheduler.Metrics over one registry

// Package metrics provides Prometheus-based metrics recording for the engine.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Recorder holds the engine's collectors.
type Recorder struct {
	registry *prometheus.Registry

	executionsTotal   *prometheus.CounterVec
	executionDuration *prometheus.HistogramVec
	queueDepth        prometheus.Gauge
	requeuesTotal     prometheus.Counter
	dropsTotal        *prometheus.CounterVec
	jobsTotal         *prometheus.CounterVec
	agentsAvailable   *prometheus.GaugeVec
}

// NewRecorder creates a Recorder on its own registry, with Go and process collectors.
func NewRecorder() *Recorder {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	factory := promauto.With(reg)

	return &Recorder{
		registry: reg,
		executionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_executions_total",
				Help: "Total number of ability executions by agent and result status",
			},
			[]string{"agent_id", "status"},
		),
		executionDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "conclave_execution_duration_seconds",
				Help:    "Duration of ability executions including polling",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 20, 40, 80},
			},
			[]string{"agent_id"},
		),
		queueDepth: factory.NewGauge(prometheus.GaugeOpts{
			Name: "conclave_queue_depth",
			Help: "Number of work items waiting in the scheduler",
		}),
		requeuesTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "conclave_requeues_total",
			Help: "Total number of work items put back on the queue",
		}),
		dropsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_drops_total",
				Help: "Total number of work items dropped because no agent can serve them",
			},
			[]string{"ability"},
		),
		jobsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "conclave_jobs_total",
				Help: "Jobs by lifecycle event",
			},
			[]string{"event"},
		),
		agentsAvailable: factory.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "conclave_agents",
				Help: "Registered agents by role and state",
			},
			[]string{"role", "state"},
		),
	}
}

// ObserveExecution records one executor call.
func (r *Recorder) ObserveExecution(agentID string, status string, elapsed time.Duration) {
	r.executionsTotal.WithLabelValues(agentID, status).Inc()
	r.executionDuration.WithLabelValues(agentID).Observe(elapsed.Seconds())
}

// SetQueueDepth records the current queue length.
func (r *Recorder) SetQueueDepth(n int) {
	r.queueDepth.Set(float64(n))
}

// IncRequeue counts one requeue.
func (r *Recorder) IncRequeue() {
	r.requeuesTotal.Inc()
}

// IncDrop counts one dropped item.
func (r *Recorder) IncDrop(key string) {
	r.dropsTotal.WithLabelValues(key).Inc()
}

// Job lifecycle events.
const (
	JobSubmitted = "submitted"
	JobRejected  = "rejected"
	JobCancelled = "cancelled"
	JobFinalized = "finalized"
	JobRestored  = "restored"
)

// IncJob counts one job lifecycle event.
func (r *Recorder) IncJob(event string) {
	r.jobsTotal.WithLabelValues(event).Inc()
}

// SetAgents records the agent count for one role and state.
func (r *Recorder) SetAgents(role, state string, n int) {
	r.agentsAvailable.WithLabelValues(role, state).Set(float64(n))
}

// Registry exposes the underlying registry.
func (r *Recorder) Registry() *prometheus.Registry {
	return r.registry
}

// Handler serves the registry in the Prometheus exposition format.
func (r *Recorder) Handler() http.Handler {
	return promhttp.HandlerFor(r.registry, promhttp.HandlerOpts{})
}
