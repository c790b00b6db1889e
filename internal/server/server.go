package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"time"

	"github.com/alanyoungcy/coparent/internal/domain"
	"github.com/alanyoungcy/coparent/internal/server/handler"
	"github.com/alanyoungcy/coparent/internal/server/middleware"
	"github.com/alanyoungcy/coparent/internal/server/ws"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port            int
	CORSOrigins     []string
	ServiceKey      string // if empty, service-key auth is disabled
	RateLimit       int    // tone requests per window per client IP
	RateLimitWindow time.Duration
	TrustedProxies  []netip.Prefix // peers allowed to set X-Forwarded-For
}

// Handlers aggregates all HTTP handlers that the server needs to register.
type Handlers struct {
	Health        *handler.HealthHandler
	Status        *handler.StatusHandler
	Notifications *handler.NotificationHandler
	Webhooks      *handler.WebhookHandler
	Subscriptions *handler.SubscriptionHandler
	Tone          *handler.ToneHandler
	Preferences   *handler.PreferenceHandler
}

// Server is the HTTP + WebSocket API server.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
}

// NewServer creates a new Server with all routes registered.
func NewServer(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) *Server {
	return &Server{
		httpServer: &http.Server{
			Addr:              fmt.Sprintf(":%d", cfg.Port),
			Handler:           Routes(cfg, handlers, limiter, wsHub, logger),
			ReadHeaderTimeout: 5 * time.Second,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			IdleTimeout:       60 * time.Second,
		},
		logger: logger,
	}
}

// Routes builds the full handler tree. Health and the payment webhook are
// public; the webhook authenticates by signature. Tone analysis is public but
// rate limited per client IP. Everything else needs the service key.
func Routes(cfg Config, handlers Handlers, limiter domain.RateLimiter, wsHub *ws.Hub, logger *slog.Logger) http.Handler {
	mux := http.NewServeMux()
	auth := middleware.Auth(cfg.ServiceKey)
	protect := func(h http.HandlerFunc) http.Handler { return auth(h) }

	mux.HandleFunc("GET /api/health", handlers.Health.HealthCheck)
	mux.Handle("GET /api/status", protect(handlers.Status.GetStatus))

	// Notification scheduler and sender.
	mux.Handle("POST /api/notifications/schedule", protect(handlers.Notifications.Schedule))
	mux.Handle("POST /api/notifications/send", protect(handlers.Notifications.Send))
	mux.Handle("GET /api/notifications/deliveries", protect(handlers.Notifications.ListDeliveries))

	// Preferences.
	mux.Handle("GET /api/preferences/{user_id}", protect(handlers.Preferences.Get))
	mux.Handle("PUT /api/preferences/{user_id}", protect(handlers.Preferences.Put))

	// Billing.
	mux.HandleFunc("POST /api/webhooks/payments", handlers.Webhooks.Payments)
	mux.Handle("GET /api/subscriptions/{user_id}", protect(handlers.Subscriptions.Get))
	mux.Handle("GET /api/subscriptions/{user_id}/history", protect(handlers.Subscriptions.History))

	// Tone analyzer.
	toneLimit := middleware.RateLimit(limiter, "ratelimit:tone", cfg.RateLimit, cfg.RateLimitWindow, cfg.TrustedProxies, logger)
	mux.Handle("POST /api/tone/analyze", toneLimit(http.HandlerFunc(handlers.Tone.Analyze)))

	if wsHub != nil {
		mux.Handle("GET /ws", protect(wsHub.HandleWS))
	}

	var h http.Handler = mux
	h = middleware.Logging(logger)(h)
	h = middleware.CORS(cfg.CORSOrigins)(h)
	return h
}

// Start begins listening for HTTP requests. It blocks until the server
// encounters an error or is shut down.
func (s *Server) Start() error {
	s.logger.Info("server: starting",
		slog.String("addr", s.httpServer.Addr),
	)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server: listen: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the server, waiting for in-flight requests
// to complete within the given context deadline.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("server: shutting down")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("server: shutdown: %w", err)
	}
	return nil
}
