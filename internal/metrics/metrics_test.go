package metrics

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, c *Collector) string {
	t.Helper()
	rec := httptest.NewRecorder()
	c.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	return rec.Body.String()
}

func TestCollectors_AreIndependent(t *testing.T) {
	a := New()
	b := New()

	a.PipelineRuns.WithLabelValues("success").Inc()
	b.PipelineRuns.WithLabelValues("failed").Inc()

	assert.Contains(t, scrape(t, a), `switchboard_pipeline_runs_total{status="success"} 1`)
	assert.NotContains(t, scrape(t, b), `status="success"`)
}

func TestRecordHelpers(t *testing.T) {
	c := New()

	c.RecordCredential("delegated_login", true)
	c.RecordCredential("delegated_login", false)
	c.RecordCredential("delegated_login", false)
	c.RecordStartup("github-mcp", true, 150*time.Millisecond)
	c.RecordStartup("github-mcp", false, 0)
	c.ObserveStage("classify", time.Now())

	body := scrape(t, c)
	assert.Contains(t, body, `switchboard_credential_checks_total{kind="delegated_login",outcome="failed"} 2`)
	assert.Contains(t, body, `switchboard_credential_checks_total{kind="delegated_login",outcome="ready"} 1`)
	assert.Contains(t, body, `switchboard_worker_startups_total{healthy="true",worker="github-mcp"} 1`)
	assert.Contains(t, body, `switchboard_worker_startups_total{healthy="false",worker="github-mcp"} 1`)
	assert.Contains(t, body, `switchboard_worker_startup_seconds_count{worker="github-mcp"} 1`)
	assert.Contains(t, body, `switchboard_stage_duration_seconds_count{stage="classify"} 1`)
}

func TestHandler_IncludesRuntimeMetrics(t *testing.T) {
	c := New()
	c.RunningWorkers.Set(3)

	body := scrape(t, c)
	assert.Contains(t, body, "switchboard_running_workers 3")
	assert.Contains(t, body, "go_goroutines")
}
