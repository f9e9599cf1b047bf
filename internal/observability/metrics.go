package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// MetricsCollector holds all Prometheus metrics for Conductor.
type MetricsCollector struct {
	// Task metrics
	TasksTotal       *prometheus.CounterVec
	TaskDuration     *prometheus.HistogramVec
	TasksInFlight    prometheus.Gauge
	RemediationTasks prometheus.Counter

	// Delegation metrics
	DelegationsTotal     *prometheus.CounterVec
	DelegationConfidence prometheus.Histogram

	// Session pool metrics
	SessionsCreated    *prometheus.CounterVec
	SessionsReused     *prometheus.CounterVec
	SessionsEvicted    *prometheus.CounterVec
	PoolSize           *prometheus.GaugeVec
	CircuitBreakerOpen *prometheus.GaugeVec

	// Provider metrics
	ProviderCalls    *prometheus.CounterVec
	ProviderDuration *prometheus.HistogramVec
	ProviderErrors   *prometheus.CounterVec

	// Resource monitor metrics
	ResourceLimitViolations *prometheus.CounterVec
	AgentSuspensions        prometheus.Counter
	MonitoredAgents         prometheus.Gauge

	// Quality metrics
	QualityReviews *prometheus.CounterVec
	QualityScore   prometheus.Histogram
	IdentityDrift  prometheus.Counter

	// System metrics
	SystemStartTime prometheus.Gauge
}

// NewMetricsCollector creates and registers all Prometheus metrics.
func NewMetricsCollector(namespace string) *MetricsCollector {
	return NewMetricsCollectorWithRegistry(namespace, prometheus.DefaultRegisterer)
}

// NewMetricsCollectorWithRegistry creates metrics with a specific registry (for testing).
func NewMetricsCollectorWithRegistry(namespace string, reg prometheus.Registerer) *MetricsCollector {
	if namespace == "" {
		namespace = "conductor"
	}

	autoCounterVec := func(opts prometheus.CounterOpts, labelNames []string) *prometheus.CounterVec {
		return promauto.With(reg).NewCounterVec(opts, labelNames)
	}
	autoHistogramVec := func(opts prometheus.HistogramOpts, labelNames []string) *prometheus.HistogramVec {
		return promauto.With(reg).NewHistogramVec(opts, labelNames)
	}
	autoGaugeVec := func(opts prometheus.GaugeOpts, labelNames []string) *prometheus.GaugeVec {
		return promauto.With(reg).NewGaugeVec(opts, labelNames)
	}
	autoCounter := func(opts prometheus.CounterOpts) prometheus.Counter {
		return promauto.With(reg).NewCounter(opts)
	}
	autoHistogram := func(opts prometheus.HistogramOpts) prometheus.Histogram {
		return promauto.With(reg).NewHistogram(opts)
	}
	autoGauge := func(opts prometheus.GaugeOpts) prometheus.Gauge {
		return promauto.With(reg).NewGauge(opts)
	}

	return &MetricsCollector{
		TasksTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tasks_total",
				Help:      "Total number of tasks processed by role and outcome",
			},
			[]string{"role", "outcome"},
		),
		TaskDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "task_duration_seconds",
				Help:      "Task execution duration in seconds",
				Buckets:   []float64{.5, 1, 2.5, 5, 10, 30, 60, 120, 300},
			},
			[]string{"role"},
		),
		TasksInFlight: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tasks_in_flight",
				Help:      "Number of tasks currently executing",
			},
		),
		RemediationTasks: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "remediation_tasks_total",
				Help:      "Total number of remediation tasks synthesized from quality reviews",
			},
		),
		DelegationsTotal: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "delegations_total",
				Help:      "Total number of delegation decisions by target role and strategy",
			},
			[]string{"role", "strategy"},
		),
		DelegationConfidence: autoHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "delegation_confidence",
				Help:      "Confidence distribution of delegation decisions",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		SessionsCreated: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_created_total",
				Help:      "Total number of sessions created by role",
			},
			[]string{"role"},
		),
		SessionsReused: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_reused_total",
				Help:      "Total number of session reuses by role",
			},
			[]string{"role"},
		),
		SessionsEvicted: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "sessions_evicted_total",
				Help:      "Total number of sessions evicted by role and reason",
			},
			[]string{"role", "reason"},
		),
		PoolSize: autoGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_pool_size",
				Help:      "Current number of pooled sessions by role",
			},
			[]string{"role"},
		),
		CircuitBreakerOpen: autoGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "session_circuit_breaker_open",
				Help:      "Whether the session factory circuit breaker is open (1) per role",
			},
			[]string{"role"},
		),
		ProviderCalls: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_calls_total",
				Help:      "Total number of provider invocations by provider and status",
			},
			[]string{"provider", "status"},
		),
		ProviderDuration: autoHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "provider_call_duration_seconds",
				Help:      "Provider invocation duration in seconds",
				Buckets:   []float64{1, 5, 15, 30, 60, 120, 300},
			},
			[]string{"provider"},
		),
		ProviderErrors: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "provider_errors_total",
				Help:      "Total number of provider errors by provider and kind",
			},
			[]string{"provider", "kind"},
		),
		ResourceLimitViolations: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resource_limit_violations_total",
				Help:      "Total number of resource limit breaches by resource",
			},
			[]string{"resource"},
		),
		AgentSuspensions: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "agent_suspensions_total",
				Help:      "Total number of idle agent suspensions",
			},
		),
		MonitoredAgents: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "monitored_agents",
				Help:      "Number of agents currently monitored",
			},
		),
		QualityReviews: autoCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "quality_reviews_total",
				Help:      "Total number of quality reviews by role and verdict",
			},
			[]string{"role", "verdict"},
		),
		QualityScore: autoHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "quality_overall_score",
				Help:      "Distribution of overall quality scores",
				Buckets:   prometheus.LinearBuckets(0, 0.1, 11),
			},
		),
		IdentityDrift: autoCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "identity_drift_total",
				Help:      "Total number of identity drift detections",
			},
		),
		SystemStartTime: autoGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "system_start_time_seconds",
				Help:      "Unix timestamp when the orchestrator started",
			},
		),
	}
}

// RecordTask records one completed task execution.
func (m *MetricsCollector) RecordTask(role, outcome string, duration time.Duration) {
	m.TasksTotal.WithLabelValues(role, outcome).Inc()
	m.TaskDuration.WithLabelValues(role).Observe(duration.Seconds())
}

// RecordDelegation records one delegation decision.
func (m *MetricsCollector) RecordDelegation(role, strategy string, confidence float64) {
	m.DelegationsTotal.WithLabelValues(role, strategy).Inc()
	m.DelegationConfidence.Observe(confidence)
}

// RecordProviderCall records one provider invocation.
func (m *MetricsCollector) RecordProviderCall(provider, status string, duration time.Duration) {
	m.ProviderCalls.WithLabelValues(provider, status).Inc()
	m.ProviderDuration.WithLabelValues(provider).Observe(duration.Seconds())
}
