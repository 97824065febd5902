package metrics_test

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/yegors/aemet-connector/internal/metrics"
)

func TestHandlerExposesRuns(t *testing.T) {
	t.Parallel()

	m := metrics.New()
	m.ObserveRun("forecast", "success", "", 1500*time.Millisecond, 7)
	m.ObserveRun("forecast", "failed", "upstream_unavailable", 60*time.Second, 0)
	m.ObserveCacheHit("forecast")

	rr := httptest.NewRecorder()
	m.Handler().ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rr.Code)

	body, err := io.ReadAll(rr.Body)
	require.NoError(t, err)

	for _, want := range []string{
		`aemet_pipeline_runs_total{dataset="forecast",error_class="",status="success"} 1`,
		`aemet_pipeline_runs_total{dataset="forecast",error_class="upstream_unavailable",status="failed"} 1`,
		`aemet_rows_emitted_total{dataset="forecast"} 7`,
		`aemet_cache_hits_total{dataset="forecast"} 1`,
		`aemet_pipeline_duration_seconds_count{dataset="forecast"} 2`,
	} {
		assert.Contains(t, string(body), want)
	}
}
