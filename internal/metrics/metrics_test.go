package metrics

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCounters(t *testing.T) {
	m := New()

	m.RunsStarted.Inc()
	m.RunsStarted.Inc()
	m.RunsFailed.Inc()
	m.QueueDepth.Set(3)
	m.HookExecutions.WithLabelValues("webhook", "ok").Inc()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RunsStarted))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RunsFailed))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.QueueDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.HookExecutions.WithLabelValues("webhook", "ok")))
}

func TestHandler_ServesMetrics(t *testing.T) {
	m := New()
	m.RunsCompleted.Inc()

	req := httptest.NewRequest("GET", "/metrics", nil)
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, req)

	require.Equal(t, 200, rec.Code)
	assert.Contains(t, rec.Body.String(), "nightshift_runs_completed_total 1")
}

func TestNew_IsolatedRegistries(t *testing.T) {
	a, b := New(), New()
	a.RunsStarted.Inc()
	assert.Equal(t, 0.0, testutil.ToFloat64(b.RunsStarted))
}
