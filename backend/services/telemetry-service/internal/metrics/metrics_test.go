package metrics

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"voltlink/backend/services/telemetry-service/internal/models"
	"voltlink/backend/services/telemetry-service/internal/service"
)

func TestRecorderCounters(t *testing.T) {
	m := New()
	m.ObserveIngest(models.ClassMeter, models.OutcomeAccepted)
	m.ObserveIngest(models.ClassMeter, models.OutcomeAccepted)
	m.ObserveIngest("bogus", models.OutcomeRejected)
	m.ObserveHistoryRetry(models.ClassVehicle)
	m.ObserveQuery("efficiency_ratio", fmt.Errorf("x: %w", service.ErrNoActiveMapping), time.Millisecond)
	m.ObserveQuery("efficiency_ratio", nil, time.Millisecond)

	if got := testutil.ToFloat64(m.ingestTotal.WithLabelValues("meter", "accepted")); got != 2 {
		t.Fatalf("expected 2 accepted, got %v", got)
	}
	if got := testutil.ToFloat64(m.ingestTotal.WithLabelValues("unknown", "rejected")); got != 1 {
		t.Fatalf("expected unknown class label, got %v", got)
	}
	if got := testutil.ToFloat64(m.historyRetries.WithLabelValues("vehicle")); got != 1 {
		t.Fatalf("expected 1 retry, got %v", got)
	}
	if got := testutil.ToFloat64(m.queryTotal.WithLabelValues("efficiency_ratio", "undefined")); got != 1 {
		t.Fatalf("expected 1 undefined query, got %v", got)
	}
}

func TestHandlerExposesMetrics(t *testing.T) {
	m := New()
	mux := http.NewServeMux()
	mux.HandleFunc("/devices/{class}/{id}/current", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})
	wrapped := m.Middleware(mux)
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/devices/meter/M1/current", nil))
	wrapped.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/nowhere", nil))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	body := rec.Body.String()
	if !strings.Contains(body, `http_requests_total{route="/devices/{class}/{id}/current",status="418"} 1`) {
		t.Fatalf("expected request counter labelled by pattern:\n%s", body)
	}
	if !strings.Contains(body, `http_requests_total{route="unmatched",status="404"} 1`) {
		t.Fatalf("expected unmatched requests under one label:\n%s", body)
	}
}
