package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/metrics"
)

func TestRequestTrackerCountsByRoutePattern(t *testing.T) {
	router := chi.NewRouter()
	router.Use(NewRequestTracker().Middleware())
	router.Get("/items/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("short and stout"))
	})

	counter := metrics.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/items/{id}", "418")
	before := testutil.ToFloat64(counter)

	for _, path := range []string{"/items/1", "/items/2"} {
		rr := httptest.NewRecorder()
		router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, path, nil))
		if rr.Code != http.StatusTeapot {
			t.Fatalf("expected 418 got %d", rr.Code)
		}
	}

	if got := testutil.ToFloat64(counter); got != before+2 {
		t.Fatalf("expected counter %v, got %v", before+2, got)
	}
}

func TestResponseWriterTracksSize(t *testing.T) {
	rr := httptest.NewRecorder()
	rw := &responseWriter{ResponseWriter: rr, statusCode: http.StatusOK}

	_, _ = rw.Write([]byte("hello"))
	_, _ = rw.Write([]byte(" world"))

	if rw.size != 11 {
		t.Fatalf("expected size 11 got %d", rw.size)
	}
	if rw.statusCode != http.StatusOK {
		t.Fatalf("expected default status 200 got %d", rw.statusCode)
	}
}

func responseSizeHistogram(t *testing.T, method, route string) *dto.Histogram {
	t.Helper()
	var m dto.Metric
	observer := metrics.HTTPResponseSize.WithLabelValues(method, route)
	if err := observer.(prometheus.Metric).Write(&m); err != nil {
		t.Fatalf("read histogram: %v", err)
	}
	return m.GetHistogram()
}

func TestRequestTrackerObservesResponseSize(t *testing.T) {
	router := chi.NewRouter()
	router.Use(NewRequestTracker().Middleware())
	router.Get("/sized/{id}", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("hello"))
		_, _ = w.Write([]byte(" world"))
	})

	before := responseSizeHistogram(t, http.MethodGet, "/sized/{id}")

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/sized/1", nil))

	after := responseSizeHistogram(t, http.MethodGet, "/sized/{id}")
	if got := after.GetSampleCount() - before.GetSampleCount(); got != 1 {
		t.Fatalf("expected 1 observation got %d", got)
	}
	if got := after.GetSampleSum() - before.GetSampleSum(); got != 11 {
		t.Fatalf("expected 11 bytes observed got %v", got)
	}
}
