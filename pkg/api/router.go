package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/telarch/telarch/internal/logger"
	"github.com/telarch/telarch/pkg/api/handlers"
	"github.com/telarch/telarch/pkg/metrics"
)

// Dependencies wires the router to the rest of the service.
type Dependencies struct {
	// Checks are the dependency probes behind /healthz/deps, usually the
	// database ping, a broker passive declare and a bucket head.
	Checks []handlers.NamedCheck

	// Status assembles the /status snapshot. May be nil.
	Status handlers.StatusFunc
}

// NewRouter builds the chi router with the shared middleware stack.
//
// Routes:
//   - GET /healthz       liveness
//   - GET /healthz/deps  dependency health
//   - GET /metrics       Prometheus scrape endpoint (when metrics are enabled)
//   - GET /status        read-only service snapshot
func NewRouter(deps Dependencies) http.Handler {
	r := chi.NewRouter()

	// Middleware stack - order matters
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	health := handlers.NewHealthHandler(deps.Checks)
	r.Route("/healthz", func(r chi.Router) {
		r.Get("/", health.Liveness)
		r.Get("/deps", health.Dependencies)
	})

	if metrics.IsEnabled() {
		r.Method(http.MethodGet, "/metrics",
			promhttp.HandlerFor(metrics.GetRegistry(), promhttp.HandlerOpts{}))
	}

	r.Get("/status", handlers.NewStatusHandler(deps.Status).Status)

	r.Get("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/healthz", http.StatusTemporaryRedirect)
	})

	return r
}

// requestLogger logs requests through the internal logger.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := middleware.GetReqID(r.Context())

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		logger.Debug("HTTP request completed",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start).String(),
		)
	})
}
