package observability

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics(t *testing.T) *MetricsCollector {
	t.Helper()
	return NewMetricsCollectorWithRegistry("test", prometheus.NewRegistry())
}

func TestRecordTask(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordTask("frontend", "success", 2*time.Second)
	m.RecordTask("frontend", "failure", time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("frontend", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TasksTotal.WithLabelValues("frontend", "failure")))
}

func TestRecordDelegation(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordDelegation("qa", "content_based", 0.9)
	m.RecordDelegation("qa", "content_based", 0.8)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.DelegationsTotal.WithLabelValues("qa", "content_based")))
}

func TestRecordProviderCall(t *testing.T) {
	m := newTestMetrics(t)

	m.RecordProviderCall("claude-cli", "success", 5*time.Second)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ProviderCalls.WithLabelValues("claude-cli", "success")))
}

func TestPoolGauges(t *testing.T) {
	m := newTestMetrics(t)

	m.PoolSize.WithLabelValues("backend").Set(3)
	m.CircuitBreakerOpen.WithLabelValues("backend").Set(1)

	assert.Equal(t, 3.0, testutil.ToFloat64(m.PoolSize.WithLabelValues("backend")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CircuitBreakerOpen.WithLabelValues("backend")))
}

func TestDefaultNamespace(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetricsCollectorWithRegistry("", reg)
	require.NotNil(t, m)

	m.AgentSuspensions.Inc()
	families, err := reg.Gather()
	require.NoError(t, err)

	found := false
	for _, family := range families {
		if family.GetName() == "conductor_agent_suspensions_total" {
			found = true
		}
	}
	assert.True(t, found)
}
