// Package ops exposes the daemon's health and metrics endpoints.
package ops

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Checker is a dependency whose reachability gates /healthz.
type Checker interface {
	HealthCheck(ctx context.Context, timeout time.Duration) error
}

// CheckerFunc adapts a function to Checker.
type CheckerFunc func(ctx context.Context, timeout time.Duration) error

func (f CheckerFunc) HealthCheck(ctx context.Context, timeout time.Duration) error {
	return f(ctx, timeout)
}

type ServiceStatus struct {
	Status  string `json:"status"`
	Details string `json:"details,omitempty"`
}

type HealthResponse struct {
	Status   string                   `json:"status"`
	Uptime   string                   `json:"uptime"`
	Services map[string]ServiceStatus `json:"services"`
}

// Options configure NewRouter.
type Options struct {
	Checks       map[string]Checker
	Gatherer     prometheus.Gatherer
	CheckTimeout time.Duration
	UpSince      time.Time
	Logger       *slog.Logger
}

// NewRouter returns the ops router: GET /healthz and GET /metrics.
func NewRouter(opts Options) http.Handler {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.CheckTimeout <= 0 {
		opts.CheckTimeout = 2 * time.Second
	}
	if opts.UpSince.IsZero() {
		opts.UpSince = time.Now()
	}
	if opts.Gatherer == nil {
		opts.Gatherer = prometheus.DefaultGatherer
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Get("/healthz", healthHandler(opts))
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(opts.Gatherer, promhttp.HandlerOpts{}))
	return r
}

func healthHandler(opts Options) http.HandlerFunc {
	names := make([]string, 0, len(opts.Checks))
	for name := range opts.Checks {
		names = append(names, name)
	}
	sort.Strings(names)

	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:   "ok",
			Uptime:   time.Since(opts.UpSince).Round(time.Second).String(),
			Services: make(map[string]ServiceStatus, len(names)),
		}
		for _, name := range names {
			st := ServiceStatus{Status: "ok"}
			if err := opts.Checks[name].HealthCheck(r.Context(), opts.CheckTimeout); err != nil {
				st = ServiceStatus{Status: "down", Details: err.Error()}
				resp.Status = "down"
				opts.Logger.Warn("ops.health.down", "service", name, "error", err)
			}
			resp.Services[name] = st
		}

		code := http.StatusOK
		if resp.Status != "ok" {
			code = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		_ = json.NewEncoder(w).Encode(resp)
	}
}
