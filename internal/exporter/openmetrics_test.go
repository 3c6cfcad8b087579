package exporter

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/cam3ron2/delivery-heatmap/internal/store"
)

func TestOpenMetricsHandler(t *testing.T) {
	t.Parallel()

	memStore := store.NewMemoryStore(24*time.Hour, 1000)
	now := time.Unix(1739836800, 0)
	points := []store.MetricPoint{
		{Name: store.MetricUsers, Labels: map[string]string{"group": "acme"}, Value: 42, UpdatedAt: now},
		{Name: store.MetricUpstreamRequests, Value: 310, UpdatedAt: now},
		{Name: "heatmap_custom_gauge", Labels: map[string]string{"group": "acme"}, Value: 1, UpdatedAt: now},
	}
	for _, point := range points {
		if err := memStore.UpsertMetric(point); err != nil {
			t.Fatalf("UpsertMetric() unexpected error: %v", err)
		}
	}

	handler := NewOpenMetricsHandler(memStore, store.RunMetricHelp)
	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	req.Header.Set("Accept", "application/openmetrics-text")
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}

	body := rec.Body.String()
	wantSubstrs := []string{
		`# TYPE heatmap_users gauge`,
		`# HELP heatmap_users Users with at least one counted contribution in the last successful run.`,
		`heatmap_users{group="acme"} 42`,
		`heatmap_upstream_requests_total 310`,
		`# HELP heatmap_custom_gauge heatmap_custom_gauge`,
		"# EOF",
	}
	for _, substr := range wantSubstrs {
		if !strings.Contains(body, substr) {
			t.Fatalf("metrics output missing %q:\n%s", substr, body)
		}
	}
}

func TestOpenMetricsHandlerNilReader(t *testing.T) {
	t.Parallel()

	handler := NewOpenMetricsHandler(nil, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status code = %d, want 200", rec.Code)
	}
}
