// Package api serves a read-only diagnostics view of the radio
// subsystem over HTTP.
package api

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog/log"

	"github.com/lorawan-server/lpwan-node/internal/auth"
	"github.com/lorawan-server/lpwan-node/internal/config"
	"github.com/lorawan-server/lpwan-node/internal/device"
)

// RESTServer represents the diagnostics API server.
type RESTServer struct {
	config *config.Config
	dev    *device.Device
	auth   *auth.JWTManager
	router chi.Router
	server *http.Server
}

// NewRESTServer creates a new diagnostics API server over dev.
func NewRESTServer(cfg *config.Config, dev *device.Device) *RESTServer {
	s := &RESTServer{
		config: cfg,
		dev:    dev,
		auth:   auth.NewJWTManager(&cfg.JWT),
		router: chi.NewRouter(),
	}

	s.setupRoutes()

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// setupRoutes configures all routes
func (s *RESTServer) setupRoutes() {
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.Timeout(30 * time.Second))

	origins := s.config.API.CORSOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	s.router.Get("/healthz", s.HandleHealth)

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/token", s.HandleToken)
		r.Post("/auth/refresh", s.HandleRefresh)

		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Get("/status", s.HandleStatus)
			r.Get("/stats", s.HandleStats)
			r.Get("/config", s.HandleConfig)
			r.Get("/channels", s.HandleChannels)
		})
	})
}

// ListenAndServe starts the server
func (s *RESTServer) ListenAndServe(addr string) error {
	s.server.Addr = addr
	log.Info().Str("addr", addr).Msg("starting diagnostics API server")
	return s.server.ListenAndServe()
}

// Shutdown gracefully shuts down the server
func (s *RESTServer) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

type claimsKey struct{}

// authMiddleware is the authentication middleware
func (s *RESTServer) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			s.respondError(w, http.StatusUnauthorized, "missing authorization header")
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			s.respondError(w, http.StatusUnauthorized, "invalid authorization header")
			return
		}

		claims, err := s.auth.ValidateToken(parts[1])
		if err != nil {
			s.respondError(w, http.StatusUnauthorized, "invalid token")
			return
		}

		ctx := context.WithValue(r.Context(), claimsKey{}, claims)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}
