// Package api assembles the HTTP surface: the session endpoints, the guarded
// business sections and the operational endpoints.
package api

import (
	"net/http"
	"time"

	"github.com/ricemill/backoffice/internal/auth"
	apperrors "github.com/ricemill/backoffice/internal/errors"
	"github.com/ricemill/backoffice/internal/health"
	"github.com/ricemill/backoffice/internal/logger"
	"github.com/ricemill/backoffice/internal/metrics"
	"github.com/ricemill/backoffice/internal/middleware"
)

const slowRequestThreshold = 500 * time.Millisecond

// AdminSections are the back-office areas only administrators may reach.
var AdminSections = []string{
	"customers",
	"products",
	"orders",
	"payments",
	"expenses",
	"agreements",
	"reports",
	"settings",
}

// SectionHandler serves a business section. It is only called once the
// request is authenticated and authorized, and it sees the caller's identity
// but never the bearer token.
type SectionHandler func(w http.ResponseWriter, r *http.Request, id auth.Identity)

type Config struct {
	Auth           *auth.Handlers
	Gateway        *auth.Gateway
	Health         *health.Handler
	Metrics        *metrics.Metrics
	Log            *logger.Logger
	AllowedOrigins []string

	// Sections maps an admin section name to its collaborator. Sections
	// without one answer with a stub that echoes the identity.
	Sections  map[string]SectionHandler
	Dashboard SectionHandler
}

type Router struct {
	mux *http.ServeMux
	cfg Config
}

func NewRouter(cfg Config) *Router {
	r := &Router{
		mux: http.NewServeMux(),
		cfg: cfg,
	}
	r.setupRoutes()
	return r
}

func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mux.ServeHTTP(w, req)
}

// Handler wraps the routes in the middleware stack shared by every request.
func (r *Router) Handler() http.Handler {
	log := r.cfg.Log
	return middleware.Chain(r,
		apperrors.RequestIDMiddleware,
		logger.RecoveryMiddleware(log),
		logger.LoggingMiddleware(log),
		metrics.MetricsMiddleware(r.cfg.Metrics),
		middleware.Timing(log, slowRequestThreshold),
		middleware.SecureHeaders,
		middleware.CORS(r.cfg.AllowedOrigins),
	)
}

func (r *Router) setupRoutes() {
	h := r.cfg.Auth
	g := r.cfg.Gateway

	// Operational
	r.mux.HandleFunc("GET /health", r.cfg.Health.HealthHandler)
	r.mux.HandleFunc("GET /health/live", r.cfg.Health.LivenessHandler)
	r.mux.HandleFunc("GET /health/ready", r.cfg.Health.ReadinessHandler)
	if r.cfg.Metrics != nil {
		r.mux.Handle("GET /metrics", r.cfg.Metrics.Handler())
	}

	// Auth routes (no auth required)
	r.mux.HandleFunc("POST /api/v1/auth/login", h.Handle(h.Login))
	r.mux.HandleFunc("POST /api/v1/auth/register", h.Handle(h.Register))
	r.mux.HandleFunc("POST /api/v1/auth/refresh", h.Handle(h.Refresh))
	r.mux.HandleFunc("POST /api/v1/auth/logout", h.Handle(h.Logout))

	// Auth routes (auth required)
	r.mux.Handle("GET /api/v1/auth/me", g.RequireAuth(h.Handle(h.Me)))
	r.mux.Handle("PATCH /api/v1/auth/me", g.RequireAuth(h.Handle(h.UpdateMe)))
	r.mux.Handle("POST /api/v1/auth/password", g.RequireAuth(h.Handle(h.ChangePassword)))

	// User management (admin)
	admin := g.RequireRole(auth.RoleAdmin)
	r.mux.Handle("POST /api/v1/users", admin(h.Handle(h.CreateUser)))
	r.mux.Handle("POST /api/v1/users/{id}/deactivate", admin(h.Handle(h.DeactivateUser)))

	// Business sections
	for _, name := range AdminSections {
		section := admin(r.section(name, r.cfg.Sections[name]))
		r.mux.Handle("/api/v1/"+name, section)
		r.mux.Handle("/api/v1/"+name+"/", section)
	}
	r.mux.Handle("/api/v1/user/dashboard", g.RequireAuth(r.section("dashboard", r.cfg.Dashboard)))
}

// section adapts a collaborator to an http.Handler. The Authorization header
// is removed before the collaborator runs.
func (r *Router) section(name string, fn SectionHandler) http.Handler {
	if fn == nil {
		fn = stubSection(name)
	}
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		id, ok := auth.IdentityFromContext(req.Context())
		if !ok {
			apperrors.WriteError(w, apperrors.GetRequestID(req.Context()), apperrors.Unauthenticated())
			return
		}
		req = req.Clone(req.Context())
		req.Header.Del("Authorization")
		fn(w, req, *id)
	})
}

type sectionResponse struct {
	Section string `json:"section"`
	UserID  string `json:"userId"`
	Role    string `json:"role"`
}

func stubSection(name string) SectionHandler {
	return func(w http.ResponseWriter, r *http.Request, id auth.Identity) {
		apperrors.WriteJSON(w, apperrors.GetRequestID(r.Context()), http.StatusOK, sectionResponse{
			Section: name,
			UserID:  id.UserID.String(),
			Role:    string(id.Role),
		})
	}
}
