package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/kirillkom/financial-risk-analyzer/internal/core/domain"
)

func scrape(t *testing.T, h http.Handler) string {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body, _ := io.ReadAll(rec.Body)
	return string(body)
}

func TestHTTPMetricsUseRoutePattern(t *testing.T) {
	m := NewHTTPServerMetrics("api", nil)
	r := chi.NewRouter()
	r.Use(m.Middleware)
	r.Get("/files/{file_id}/tasks", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/files/abc-123/tasks", nil))

	out := scrape(t, m.Handler())
	if !strings.Contains(out, `route="/files/{file_id}/tasks"`) {
		t.Fatalf("expected route pattern label, got:\n%s", out)
	}
	if strings.Contains(out, "abc-123") {
		t.Fatalf("ids must not become label values")
	}
}

func TestPipelineMetricsShareRegistry(t *testing.T) {
	registry := prometheus.NewRegistry()
	p := NewPipelineMetrics("api", registry)
	NewHTTPServerMetrics("api", registry)

	p.TaskStarted()
	p.StageFinished("text_extraction", time.Second, nil)
	p.StageFinished("risk_scoring", time.Second, errors.New("boom"))
	p.FileOutcome(domain.OutcomeSkipped)
	p.CacheLookup(true)
	p.CacheLookup(false)
	p.RiskScore(0.87)
	p.TaskFinished(domain.TaskCompleted, 3*time.Second)
	p.ObserveRequest(time.Now().Add(-time.Second))

	out := scrape(t, p.Handler())
	for _, want := range []string{
		`fra_pipeline_tasks_total{service="api",status="completed"} 1`,
		`fra_pipeline_tasks_in_flight{service="api"} 0`,
		`fra_pipeline_classification_cache_lookups_total{result="hit",service="api"} 1`,
		`fra_pipeline_extraction_files_total{result="skipped",service="api"} 1`,
		`fra_pipeline_stage_duration_seconds_count{service="api",stage="risk_scoring",status="error"} 1`,
		`fra_worker_process_requests_total{service="api"} 1`,
		`fra_http_in_flight_requests{service="api"} 0`,
	} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in:\n%s", want, out)
		}
	}
}
