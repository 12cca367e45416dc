package http

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/Pranjalshukla1602/task-manager/internal/service"
	"github.com/Pranjalshukla1602/task-manager/pkg/health"
	"github.com/Pranjalshukla1602/task-manager/pkg/httputil"
	"github.com/Pranjalshukla1602/task-manager/pkg/middleware"
)

// RouterConfig carries the HTTP-facing settings.
type RouterConfig struct {
	ServiceName string
	Version     string
	Environment string
	CORSOrigins []string
	PprofCIDRs  []string
}

type infoResponse struct {
	Name        string    `json:"name"`
	Version     string    `json:"version"`
	Environment string    `json:"environment"`
	Status      string    `json:"status"`
	Time        time.Time `json:"time"`
}

// NewRouter creates a chi router with all task-manager auth routes registered.
// The auth routes are served under both /api/auth and /auth.
func NewRouter(
	authService *service.AuthService,
	healthHandler *health.Handler,
	cfg RouterConfig,
	logger *slog.Logger,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.Tracing(cfg.ServiceName))
	r.Use(middleware.RequestLogger(logger))
	r.Use(middleware.PrometheusMetrics(cfg.ServiceName))
	r.Use(middleware.SecureHeaders)
	r.Use(middleware.CORS(middleware.DefaultCORSConfig(cfg.CORSOrigins)))

	info := func(w http.ResponseWriter, _ *http.Request) {
		httputil.WriteData(w, http.StatusOK, infoResponse{
			Name:        cfg.ServiceName,
			Version:     cfg.Version,
			Environment: cfg.Environment,
			Status:      "ok",
			Time:        time.Now().UTC(),
		})
	}
	r.Get("/", info)
	r.Get("/api/health", info)

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Handle("/metrics", promhttp.Handler())
	middleware.RegisterPprof(r, cfg.PprofCIDRs, logger)

	authHandler := NewAuthHandler(authService, logger)
	tokenValidator := NewTokenValidator(authService)

	authRoutes := func(r chi.Router) {
		r.Use(middleware.NoStore)
		r.Use(ContentTypeJSON)

		r.Post("/register", authHandler.Register)
		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.Refresh)

		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator, logger))
			// Pick up user_id in the request-scoped logger.
			r.Use(middleware.RequestLogger(logger))

			r.Get("/me", authHandler.Me)
			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Get("/sessions", authHandler.ListSessions)
			r.Delete("/sessions/{id}", authHandler.RevokeSession)
		})
	}
	r.Route("/api/auth", authRoutes)
	r.Route("/auth", authRoutes)

	r.NotFound(notFound)

	return r
}
