package telemetry

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"

	"eventbatcher/pkg/metrics"
)

func TestMiddlewareRecordsRouteTemplate(t *testing.T) {
	r := mux.NewRouter()
	r.Use(Middleware)
	r.HandleFunc("/docs/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/docs/42", nil))

	assert.Equal(t, http.StatusTeapot, rec.Code)
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))

	var m dto.Metric
	obs := metrics.HTTPRequestSeconds.WithLabelValues("/docs/{id}", "418")
	assert.NoError(t, obs.(prometheus.Metric).Write(&m))
	assert.Equal(t, uint64(1), m.GetHistogram().GetSampleCount())
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	old := SlowThreshold
	SlowThreshold = time.Nanosecond
	defer func() { SlowThreshold = old }()

	h := Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set(RequestIDHeader, "abc")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, "abc", rec.Header().Get(RequestIDHeader))
}
