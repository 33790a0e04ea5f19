package metrics

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRunRecorder(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := NewPrometheusRunRecorder(reg)

	rec.ObserveRun("DONE", 1)
	rec.ObserveRun("FAILED", 5)
	rec.ObserveRun("DONE", 2)
	rec.ObserveExecution("timeout", 3*time.Second)
	rec.ObserveDiagnosis("missing_patch_field")
	rec.ObserveTransition("RUNNING", "REVIEWING")

	assert.InDelta(t, 2, testutil.ToFloat64(rec.runsTotal.WithLabelValues("DONE")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.runsTotal.WithLabelValues("FAILED")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.diagnosesTotal.WithLabelValues("missing_patch_field")), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(rec.transitionsTotal.WithLabelValues("RUNNING", "REVIEWING")), 0)
	assert.Equal(t, 1, testutil.CollectAndCount(rec.executionDuration))
}

func TestNopRunRecorder(t *testing.T) {
	rec := Nop()
	rec.ObserveRun("DONE", 1)
	rec.ObserveExecution("success", time.Second)
	rec.ObserveDiagnosis("none")
	rec.ObserveTransition("A", "B")
}

func vectorResponse(label string, samples map[string]float64) string {
	var parts []string
	for k, v := range samples {
		parts = append(parts, fmt.Sprintf(`{"metric":{%q:%q},"value":[1700000000,"%g"]}`, label, k, v))
	}
	return `{"status":"success","data":{"resultType":"vector","result":[` + strings.Join(parts, ",") + `]}}`
}

func TestQueryService(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, r.ParseForm())
		q := r.Form.Get("query")
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.Contains(q, `type="prompt"`):
			fmt.Fprint(w, vectorResponse("component", map[string]float64{"writer": 1200, "architect": 300}))
		case strings.Contains(q, `type="completion"`):
			fmt.Fprint(w, vectorResponse("component", map[string]float64{"writer": 800}))
		case strings.Contains(q, "foamagent_llm_costs_total"):
			fmt.Fprint(w, vectorResponse("component", map[string]float64{"writer": 0.25}))
		case strings.Contains(q, "foamagent_runs_total"):
			fmt.Fprint(w, vectorResponse("status", map[string]float64{"DONE": 3, "FAILED": 1}))
		default:
			http.Error(w, "unexpected query", http.StatusBadRequest)
		}
	}))
	defer srv.Close()

	qs, err := NewQueryService(srv.URL)
	require.NoError(t, err)

	usage, err := qs.UsageByComponent(context.Background())
	require.NoError(t, err)
	require.Contains(t, usage, "writer")
	assert.Equal(t, int64(2000), usage["writer"].TotalTokens)
	assert.InDelta(t, 0.25, usage["writer"].TotalCost, 1e-9)
	assert.Equal(t, int64(300), usage["architect"].TotalTokens)

	runs, err := qs.RunsByStatus(context.Background())
	require.NoError(t, err)
	assert.Equal(t, map[string]int64{"DONE": 3, "FAILED": 1}, runs)
}
