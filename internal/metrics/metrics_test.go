package metrics

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestMiddlewareWithChiRouter(t *testing.T) {
	r := chi.NewRouter()
	r.Use(Middleware)
	r.Post("/inbound", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusAccepted)
	})

	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/inbound", "202"))

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/inbound", nil))

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status: got %d, want %d", rec.Code, http.StatusAccepted)
	}
	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("POST", "/inbound", "202"))
	if after-before != 1 {
		t.Errorf("requests_total delta: got %v, want 1", after-before)
	}
	if got := testutil.ToFloat64(HTTPRequestsInFlight); got != 0 {
		t.Errorf("requests_in_flight: got %v, want 0", got)
	}
}

func TestMiddlewareUnmatchedPath(t *testing.T) {
	before := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200"))

	Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("OK"))
	})).ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/random/123", nil))

	after := testutil.ToFloat64(HTTPRequestsTotal.WithLabelValues("GET", "unmatched", "200"))
	if after-before != 1 {
		t.Errorf("requests_total delta: got %v, want 1", after-before)
	}
}

func TestResponseWriter(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)

	if rw.statusCode != http.StatusOK {
		t.Errorf("default status: got %d, want 200", rw.statusCode)
	}
	rw.WriteHeader(http.StatusRequestEntityTooLarge)
	if rw.statusCode != http.StatusRequestEntityTooLarge {
		t.Errorf("status: got %d, want 413", rw.statusCode)
	}
	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("underlying status: got %d, want 413", rec.Code)
	}
}

func TestObserveDelivery(t *testing.T) {
	ok := DeliveriesTotal.WithLabelValues("test-provider", "success")
	failed := DeliveriesTotal.WithLabelValues("test-provider", "error")
	okBefore, failedBefore := testutil.ToFloat64(ok), testutil.ToFloat64(failed)

	ObserveDelivery("test-provider", time.Now(), nil)
	ObserveDelivery("test-provider", time.Now(), errors.New("boom"))
	ObserveDelivery("test-provider", time.Now(), errors.New("boom"))

	if got := testutil.ToFloat64(ok) - okBefore; got != 1 {
		t.Errorf("success delta: got %v, want 1", got)
	}
	if got := testutil.ToFloat64(failed) - failedBefore; got != 2 {
		t.Errorf("error delta: got %v, want 2", got)
	}
}

func TestHandler(t *testing.T) {
	DecodeRecoveredTotal.WithLabelValues("envelope").Inc()

	rec := httptest.NewRecorder()
	Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status: got %d, want 200", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `inbound_relay_inbound_decode_recovered_total{kind="envelope"}`) {
		t.Error("metrics output missing decode_recovered_total")
	}
}
