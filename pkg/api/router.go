package api

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"eventbatcher/pkg/batcher"
	"eventbatcher/pkg/logger"
	"eventbatcher/pkg/queue"
	"eventbatcher/pkg/store"
	"eventbatcher/pkg/telemetry"
)

// Options configures the HTTP surface.
type Options struct {
	// Producer receives submitted events. Without one the events route is
	// not mounted.
	Producer      queue.Producer
	WaitFrequency time.Duration
	ResultTimeout time.Duration

	RateRPS   float64
	RateBurst int

	// Ready reports whether the process accepts work.
	Ready func() bool
	// Backlog reports queued records for /admin/stats.
	Backlog func() int
	// Store enables document lookups under /admin.
	Store *store.Store
}

// NewRouter builds the service routes.
func NewRouter(opts Options) *mux.Router {
	r := mux.NewRouter()
	r.Use(telemetry.Middleware, logRequests)

	r.HandleFunc("/healthz", healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", readyz(opts.Ready)).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if opts.Producer != nil {
		timeout := opts.ResultTimeout
		if timeout <= 0 {
			timeout = 30 * time.Second
		}
		events := &eventsHandler{
			client:  batcher.NewClient(opts.Producer, opts.WaitFrequency),
			timeout: timeout,
		}
		v1 := r.PathPrefix("/api/v1").Subrouter()
		v1.Use(rateLimit(newLimiterPool(opts.RateRPS, opts.RateBurst)))
		v1.Handle("/events/stateful", events).Methods(http.MethodPost)
	}

	registerAdmin(r.PathPrefix("/admin").Subrouter(), opts)
	return r
}

func logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		logger.LogRequest(r)
		next.ServeHTTP(w, r)
	})
}

func healthz(w http.ResponseWriter, r *http.Request) {
	_ = JSONWrite(w, http.StatusOK, map[string]string{"status": "ok"})
}

func readyz(ready func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if ready != nil && !ready() {
			JSONError(w, http.StatusServiceUnavailable, "not ready")
			return
		}
		_ = JSONWrite(w, http.StatusOK, map[string]string{"status": "ready"})
	}
}
