package httpserver

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog/log"

	"github.com/PortNumber53/membermouse-kit-bridge/internal/config"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/handlers"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/kit"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/metrics"
	requesttracking "github.com/PortNumber53/membermouse-kit-bridge/internal/middleware"
	"github.com/PortNumber53/membermouse-kit-bridge/internal/settings"
)

// kitCallsPerEvent bounds the Kit round trips one webhook can make: two calls,
// each of which may be followed by a token refresh and a retry.
const kitCallsPerEvent = 6

// writeTimeout leaves room for the slowest webhook plus the settings and
// audit database work around it.
func writeTimeout(kitTimeout time.Duration) time.Duration {
	if kitTimeout <= 0 {
		kitTimeout = kit.DefaultTimeout
	}
	return kitCallsPerEvent*kitTimeout + 15*time.Second
}

// Deps carries the collaborators the router needs. Pinger and Events may be
// nil, in which case the health check skips the database and the events
// route is not registered.
type Deps struct {
	Settings   settings.Repository
	Dispatcher handlers.EventDispatcher
	Events     handlers.EventLister
	Pinger     handlers.Pinger
	Kit        kit.Config
	Tags       *kit.TagCache
}

// Server wraps an http.Server with convenience helpers for startup/shutdown.
type Server struct {
	httpServer *http.Server
}

// New constructs an HTTP server using the provided configuration and collaborators.
func New(cfg config.Config, deps Deps) *Server {
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	router.Use(requesttracking.NewRequestTracker().Middleware())

	tags := deps.Tags
	if tags == nil {
		tags = kit.NewTagCache(cfg.TagCacheTTL)
	}

	router.Get("/healthz", handlers.Health(deps.Pinger))
	router.Handle("/metrics", metrics.Handler())

	handlers.NewWebhookHandler(deps.Dispatcher, cfg.WebhookSecret).RegisterRoutes(router)

	oauthHandler := handlers.NewOAuthHandler(deps.Settings, deps.Kit, tags)
	oauthHandler.RegisterCallbackRoute(router)

	router.Group(func(r chi.Router) {
		r.Use(requesttracking.RequireAdmin(cfg.AdminToken))
		handlers.NewSettingsHandler(deps.Settings, deps.Kit, tags).RegisterRoutes(r)
		oauthHandler.RegisterAdminRoutes(r)
		if deps.Events != nil {
			r.Get("/api/events", handlers.Events(deps.Events))
		}
	})

	srv := &http.Server{
		Addr:         cfg.ServerAddress,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: writeTimeout(cfg.KitHTTPTimeout),
		IdleTimeout:  60 * time.Second,
	}

	return &Server{httpServer: srv}
}

// Start begins serving HTTP traffic.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("[server] listening")
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully stops the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// Handler exposes the underlying http.Handler for testing.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}
