// Package web provides the HTTP JSON API over the import engine.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/kamal2602/thinkhub-sub001/internal/config"
	"github.com/kamal2602/thinkhub-sub001/internal/core"
	"github.com/kamal2602/thinkhub-sub001/internal/store"
	"github.com/kamal2602/thinkhub-sub001/internal/web/middleware"
)

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	store   store.Store
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server

	apiLimiter    *middleware.RateLimiter
	uploadLimiter *middleware.RateLimiter
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, st store.Store, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		store:   st,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	if cfg.Rate.Enabled {
		s.apiLimiter = middleware.NewRateLimiter(cfg.Rate.RequestsPerMinute)
		s.uploadLimiter = middleware.NewRateLimiter(cfg.Rate.UploadLimit)
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes. Authentication runs
// before the request logger so log lines carry the caller's name.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(exceptPath("/healthz", middleware.APIKeyAuth(&s.cfg.Security)))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	if s.cfg.Server.RequestTimeout > 0 {
		s.router.Use(chimw.Timeout(s.cfg.Server.RequestTimeout))
	}
	s.router.Use(securityHeaders)
	if s.apiLimiter != nil {
		s.router.Use(s.apiLimiter.Handler)
	}
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/catalog", s.handleCatalog)

		r.Route("/companies/{companyID}", func(r chi.Router) {
			r.Use(s.companyCtx)

			// Learned rules and entity catalogs
			r.Get("/rules", s.handleListRules)
			r.Post("/rules/seed", s.handleSeedRules)
			r.Get("/entities/{kind}", s.handleListEntities)

			// Starting sessions
			r.With(s.limitUploads).Post("/imports", s.handleStartImport)
			r.With(s.limitUploads).Post("/appends", s.handleStartAppend)

			// Session steps
			r.Route("/imports/{sessionID}", func(r chi.Router) {
				r.Get("/", s.handleGetSession)
				r.Delete("/", s.handleDiscard)
				r.Post("/sheet", s.handleChooseSheet)
				r.Put("/mappings", s.handleUpdateMapping)
				r.Post("/mappings/confirm", s.handleConfirmMappings)
				r.Get("/groups", s.handleGroups)
				r.Post("/decisions", s.handleDecisions)
				r.Post("/preview", s.handlePreview)
				r.With(s.limitUploads).Post("/commit", s.handleCommit)
				r.With(s.limitUploads).Post("/append/commit", s.handleCommitAppend)
			})
		})
	})
}

// exceptPath applies mw to every request except those for path.
func exceptPath(path string, mw func(http.Handler) http.Handler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		wrapped := mw(next)
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == path {
				next.ServeHTTP(w, r)
				return
			}
			wrapped.ServeHTTP(w, r)
		})
	}
}

// limitUploads applies the stricter upload limiter to expensive endpoints.
func (s *Server) limitUploads(next http.Handler) http.Handler {
	if s.uploadLimiter == nil {
		return next
	}
	return s.uploadLimiter.Handler(next)
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("starting server", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as a 200 JSON response.
func writeJSON(w http.ResponseWriter, v any) {
	writeJSONStatus(w, http.StatusOK, v)
}

// writeJSONStatus encodes v as JSON with the given status.
// Encoding errors are only logged since headers are already sent.
func writeJSONStatus(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode failed", "error", err)
	}
}

// healthResponse is the body of GET /healthz.
type healthResponse struct {
	Status  string             `json:"status"`
	Store   string             `json:"store"`
	Commits core.LimiterStatus `json:"commits"`
	Cache   any                `json:"cache,omitempty"`
	Time    time.Time          `json:"time"`
}
