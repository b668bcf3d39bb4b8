// Package httptransport assembles the chi router: the global middleware
// chain, operational endpoints and every module's routes.
package httptransport

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	platmetrics "consular/internal/platform/metrics"
	dErrors "consular/pkg/domain-errors"
	"consular/pkg/platform/httputil"
	"consular/pkg/platform/middleware/metadata"
	request "consular/pkg/platform/middleware/request"
	"consular/pkg/platform/middleware/requesttime"
)

const readinessTimeout = 2 * time.Second

// Registrar is implemented by every module handler.
type Registrar interface {
	Register(r chi.Router)
}

// HealthChecker reports whether a backing service is reachable.
type HealthChecker interface {
	Health(ctx context.Context) error
}

type Deps struct {
	Logger *slog.Logger
	// Authenticate resolves the session principal. Nil leaves every request anonymous.
	Authenticate func(http.Handler) http.Handler
	Metrics      *platmetrics.Metrics
	Gatherer     prometheus.Gatherer
	Checks       map[string]HealthChecker
	Handlers     []Registrar
}

func NewRouter(d Deps) http.Handler {
	r := chi.NewRouter()
	r.Use(request.RequestID)
	r.Use(request.Recover(d.Logger))
	r.Use(requesttime.Middleware)
	r.Use(metadata.ClientMetadata)
	r.Use(request.Logger(d.Logger))
	if d.Metrics != nil {
		r.Use(d.Metrics.Middleware)
	}
	if d.Authenticate != nil {
		r.Use(d.Authenticate)
	}

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", readiness(d.Checks, d.Logger))
	gatherer := d.Gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	for _, h := range d.Handlers {
		h.Register(r)
	}

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteError(w, dErrors.New(dErrors.CodeNotFound, "route not found"))
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteJSON(w, http.StatusMethodNotAllowed,
			httputil.ErrorResponse{Error: "method not allowed", Code: dErrors.CodeBadRequest})
	})
	return r
}

func readiness(checks map[string]HealthChecker, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), readinessTimeout)
		defer cancel()

		status := map[string]string{}
		ready := true
		for name, check := range checks {
			if err := check.Health(ctx); err != nil {
				ready = false
				status[name] = "unavailable"
				logger.WarnContext(ctx, "readiness check failed",
					"dependency", name,
					"error", err,
					"request_id", request.GetRequestID(ctx),
				)
				continue
			}
			status[name] = "ok"
		}
		code := http.StatusOK
		if !ready {
			code = http.StatusServiceUnavailable
		}
		httputil.WriteJSON(w, code, map[string]any{"ready": ready, "checks": status})
	}
}
