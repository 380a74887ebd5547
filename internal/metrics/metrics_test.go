package metrics

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCollectorsRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.RunFinished("done")
	m.RunFinished("done")
	m.RunFinished("failed")
	m.FlowsClassified(map[string]int{"BENIGN": 5, "DDoS": 2})
	m.ArtifactsSynthesized()
	m.PersistenceFailed()
	m.ObserveStage("inferring", 20*time.Millisecond)
	m.RunStarted()

	if got := testutil.ToFloat64(m.Runs.WithLabelValues("done")); got != 2 {
		t.Errorf("done runs = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.Flows.WithLabelValues("BENIGN")); got != 5 {
		t.Errorf("BENIGN flows = %v, want 5", got)
	}
	if got := testutil.ToFloat64(m.Synthesized); got != 1 {
		t.Errorf("synthesized = %v, want 1", got)
	}
	if got := testutil.ToFloat64(m.ActiveRuns); got != 1 {
		t.Errorf("active runs = %v, want 1", got)
	}
	if n := testutil.CollectAndCount(m.StageDuration); n != 1 {
		t.Errorf("stage histogram series = %d, want 1", n)
	}
}

func TestNilMetricsIsSafe(t *testing.T) {
	var m *Metrics
	m.RunFinished("done")
	m.FlowsClassified(map[string]int{"x": 1})
	m.ArtifactsSynthesized()
	m.PersistenceFailed()
	m.ObserveStage("capturing", time.Second)
	m.RunStarted()
	m.RunEnded()
}

func TestHandlerExposesMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)
	m.RunFinished("done")

	w := httptest.NewRecorder()
	Handler(reg).ServeHTTP(w, httptest.NewRequest("GET", "/metrics", nil))

	if !strings.Contains(w.Body.String(), `flowtriage_runs_total{outcome="done"} 1`) {
		t.Errorf("runs counter missing from output:\n%s", w.Body.String())
	}
}
