package observe

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestMiddleware_RecordsDurationByRoutePattern(t *testing.T) {
	m, reader := newTestMetrics(t)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/sessions/{id}/transcript", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	h := Middleware(m)(mux)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/api/sessions/abc-123/transcript", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rr.Code)
	}

	rm := collect(t, reader)
	md := findMetric(rm, "tavernlog.http.request.duration")
	if md == nil {
		t.Fatal("http request duration metric not recorded")
	}
	hist, ok := md.Data.(metricdata.Histogram[float64])
	if !ok || len(hist.DataPoints) != 1 {
		t.Fatalf("unexpected metric data: %+v", md.Data)
	}

	// Route label must be the mux pattern, not the raw path: session IDs in
	// the label set would create a series per session.
	route, ok := hist.DataPoints[0].Attributes.Value(attribute.Key("route"))
	if !ok || route.AsString() != "GET /api/sessions/{id}/transcript" {
		t.Errorf("route attribute = %v, want the matched pattern", route)
	}
}

func TestMiddleware_SetsCorrelationHeaderAndStatus(t *testing.T) {
	m, _ := newTestMetrics(t)

	h := Middleware(m)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest("GET", "/teapot", nil))
	if rr.Code != http.StatusTeapot {
		t.Fatalf("status = %d, want 418", rr.Code)
	}
}

func TestStatusRecorder_Unwrap(t *testing.T) {
	// Connection hijacking for the progress websocket goes through
	// http.ResponseController, which needs Unwrap to reach the real writer.
	rr := httptest.NewRecorder()
	rec := &statusRecorder{ResponseWriter: rr, statusCode: http.StatusOK}
	if rec.Unwrap() != http.ResponseWriter(rr) {
		t.Error("Unwrap did not return the wrapped writer")
	}
}
