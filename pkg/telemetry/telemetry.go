// Package telemetry times HTTP requests and logs the slow ones.
package telemetry

import (
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"

	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/metrics"
)

// SlowThreshold is the request duration above which a request is logged.
var SlowThreshold = 200 * time.Millisecond

// RequestIDHeader carries the id assigned to each request.
const RequestIDHeader = "X-Request-Id"

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// Middleware records request duration by route template and status, and
// tags the response with a request id.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		reqID := r.Header.Get(RequestIDHeader)
		if reqID == "" {
			reqID = uuid.NewString()
		}
		w.Header().Set(RequestIDHeader, reqID)

		srw := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(srw, r)

		dur := time.Since(start)
		route := routeOf(r)
		metrics.HTTPRequestSeconds.With(prometheus.Labels{
			"route": route,
			"code":  strconv.Itoa(srw.status),
		}).Observe(dur.Seconds())

		if dur >= SlowThreshold {
			logger.Warn("slow_request",
				"request_id", reqID,
				"method", r.Method,
				"route", route,
				"status", srw.status,
				"duration_ms", dur.Milliseconds())
		}
	})
}

// routeOf keeps label cardinality bounded by using the matched template.
func routeOf(r *http.Request) string {
	if cur := mux.CurrentRoute(r); cur != nil {
		if tpl, err := cur.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}
