package cart

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/FaustProMaxPX/Takeaway-Mall/internal/identity"
	"github.com/FaustProMaxPX/Takeaway-Mall/pkg/kit"
)

type HTTPDeps struct {
	Log      *zap.Logger
	Service  string
	Registry *prometheus.Registry
	Verifier *identity.Verifier

	MetricsEnabled bool
	MetricsToken   string

	// RateLimitPerMin caps cart mutations per user; zero disables it.
	RateLimitPerMin int
}

const readyTimeout = 1 * time.Second

func NewHandler(s *Server, deps HTTPDeps) http.Handler {
	r := chi.NewRouter()

	setupMiddleware(r, deps)
	setupMetrics(r, deps)
	setupRoutes(r, s, deps)

	return r
}

func setupMiddleware(r *chi.Mux, deps HTTPDeps) {
	r.Use(chimw.RequestID)
	r.Use(kit.Recoverer)
	r.Use(kit.Logging(deps.Log))
}

func setupMetrics(r *chi.Mux, deps HTTPDeps) {
	if deps.Registry == nil {
		return
	}

	r.Use(kit.NewHTTPMetrics(deps.Registry, deps.Service).Middleware)

	if !deps.MetricsEnabled {
		return
	}
	r.With(kit.MetricsAuth(deps.MetricsToken)).
		Handle("/metrics", promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{}))
}

func setupRoutes(r *chi.Mux, s *Server, deps HTTPDeps) {
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	r.Get("/readyz", s.readyz)

	limiter := kit.NewRateLimiter(deps.RateLimitPerMin, time.Minute, userRateKey)

	r.Route("/shoppingCart", func(cr chi.Router) {
		cr.Use(AuthJWT(deps.Verifier))

		cr.Get("/list", s.list)
		cr.Group(func(mr chi.Router) {
			mr.Use(limiter.Middleware)
			mr.Post("/add", s.add)
			mr.Post("/sub", s.sub)
			mr.Delete("/clean", s.clean)
		})
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	if err := s.Service.Ping(ctx); err != nil {
		if s.Log != nil {
			s.Log.Warn("readyz failed", zap.Error(err))
		}
		kit.WriteError(w, r, http.StatusServiceUnavailable, "not_ready", "not ready", nil)
		return
	}
	w.WriteHeader(http.StatusOK)
}
