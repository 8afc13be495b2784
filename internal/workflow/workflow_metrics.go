package workflow

import "github.com/prometheus/client_golang/prometheus"

// Metrics holds Prometheus metrics for the workflow subsystem.
type Metrics struct {
	WorkflowsTotal       *prometheus.CounterVec
	WorkflowDuration     *prometheus.HistogramVec
	PriorityTotal        *prometheus.CounterVec
	InvestigationSkipped prometheus.Counter
	StagesTotal          *prometheus.CounterVec
	StageDuration        *prometheus.HistogramVec
	ReasonerCallsTotal   *prometheus.CounterVec
	ReasonerDuration     *prometheus.HistogramVec
	SubmitsTotal         *prometheus.CounterVec
	InFlight             prometheus.Gauge
	Queued               prometheus.Gauge
}

// NewMetrics registers and returns workflow metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		WorkflowsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_workflows_total",
			Help: "Total workflow runs by final status.",
		}, []string{"status"}),
		WorkflowDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_workflow_duration_seconds",
			Help:    "Duration of workflow runs in seconds.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 10), // 1s .. ~512s
		}, []string{"status", "enable_ai"}),
		PriorityTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_decisions_total",
			Help: "Completed workflows by decided priority and verdict.",
		}, []string{"priority", "verdict"}),
		InvestigationSkipped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "warden_investigations_skipped_total",
			Help: "Completed workflows where triage ruled out investigation.",
		}),
		StagesTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_stages_total",
			Help: "Stage executions by stage and outcome.",
		}, []string{"stage", "status"}),
		StageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_stage_duration_seconds",
			Help:    "Duration of stage executions in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"stage"}),
		ReasonerCallsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_reasoner_calls_total",
			Help: "Reasoner calls by stage and outcome.",
		}, []string{"stage", "status"}),
		ReasonerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "warden_reasoner_call_duration_seconds",
			Help:    "Duration of individual reasoner calls in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 8), // 0.5s .. ~64s
		}, []string{"stage"}),
		SubmitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "warden_submits_total",
			Help: "Total alert submissions by result.",
		}, []string{"result"}),
		InFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_workflows_in_flight",
			Help: "Workflow runs currently executing.",
		}),
		Queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "warden_workflows_queued",
			Help: "Workflow runs waiting for a concurrency slot.",
		}),
	}

	reg.MustRegister(
		m.WorkflowsTotal,
		m.WorkflowDuration,
		m.PriorityTotal,
		m.InvestigationSkipped,
		m.StagesTotal,
		m.StageDuration,
		m.ReasonerCallsTotal,
		m.ReasonerDuration,
		m.SubmitsTotal,
		m.InFlight,
		m.Queued,
	)

	return m
}

// Hooks returns an EngineHooks that records the corresponding metrics.
func (m *Metrics) Hooks() EngineHooks {
	return EngineHooks{
		OnReasonerCall: func(stage Stage, duration float64, err error) {
			status := "success"
			if err != nil {
				status = "error"
			}
			m.ReasonerCallsTotal.WithLabelValues(string(stage), status).Inc()
			m.ReasonerDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnStage: func(stage Stage, status EventStatus, duration float64) {
			m.StagesTotal.WithLabelValues(string(stage), string(status)).Inc()
			m.StageDuration.WithLabelValues(string(stage)).Observe(duration)
		},
		OnComplete: func(e *CompleteEvent) {
			enableAI := "false"
			if e.EnableAI {
				enableAI = "true"
			}
			m.WorkflowsTotal.WithLabelValues(string(e.Status)).Inc()
			m.WorkflowDuration.WithLabelValues(string(e.Status), enableAI).Observe(e.Duration)
			if e.Status == StatusCompleted {
				m.PriorityTotal.WithLabelValues(string(e.Priority), string(e.Verdict)).Inc()
			}
			if e.InvestigationSkipped {
				m.InvestigationSkipped.Inc()
			}
		},
	}
}
