package api

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/qninhdt/wyvern-ai/internal/db"
	"github.com/qninhdt/wyvern-ai/internal/game"
	"github.com/qninhdt/wyvern-ai/internal/metrics"
	mw "github.com/qninhdt/wyvern-ai/internal/middleware"
)

// TurnRunner runs one chat turn
type TurnRunner interface {
	RunTurn(ctx context.Context, req game.TurnRequest) (*game.TurnResult, error)
}

// Options configures a Server
type Options struct {
	Store    db.Store
	Engine   TurnRunner
	Sessions *mw.Sessions
	Metrics  *metrics.Recorder

	RateLimit    float64
	RateBurst    int
	MaxBodyBytes int64
}

// Server handles HTTP requests
type Server struct {
	router      chi.Router
	store       db.Store
	engine      TurnRunner
	sessions    *mw.Sessions
	metrics     *metrics.Recorder
	rateLimiter *mw.RateLimiter
	maxBody     int64
}

// NewServer creates a new API server
func NewServer(opts Options) *Server {
	if opts.RateLimit <= 0 {
		opts.RateLimit = 20
	}
	if opts.RateBurst <= 0 {
		opts.RateBurst = 40
	}
	if opts.MaxBodyBytes <= 0 {
		opts.MaxBodyBytes = 1024 * 1024
	}
	if opts.Sessions == nil {
		opts.Sessions = mw.NewSessions("", 0)
	}

	s := &Server{
		router:      chi.NewRouter(),
		store:       opts.Store,
		engine:      opts.Engine,
		sessions:    opts.Sessions,
		metrics:     opts.Metrics,
		rateLimiter: mw.NewRateLimiter(opts.RateLimit, opts.RateBurst),
		maxBody:     opts.MaxBodyBytes,
	}

	s.setupRoutes()
	return s
}

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	s.router.Use(middleware.Logger)
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.SetHeader("Content-Type", "application/json"))
	s.router.Use(mw.SecurityHeadersMiddleware)

	s.router.Get("/healthz", s.health)
	if s.metrics != nil {
		s.router.Method(http.MethodGet, "/metrics", s.metrics.Handler())
	}

	s.router.Route("/api", func(r chi.Router) {
		r.Use(s.rateLimiter.Middleware)
		r.Use(mw.MaxBodySizeMiddleware(s.maxBody))

		r.Post("/chat", s.chat)
		r.Get("/chat", s.listMessages)

		r.Get("/campaigns", s.listCampaigns)
		r.Post("/campaigns", s.createCampaign)
		r.Get("/campaigns/{id}", s.getCampaign)
		r.Post("/campaigns/{id}/session", s.createSession)

		// Protected endpoints (session required for password campaigns)
		r.Group(func(r chi.Router) {
			r.Use(s.sessions.CampaignAuth(s.campaignProtected))
			r.Get("/campaigns/{id}/log", s.getLog)
		})
	})
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Response wraps API responses
type Response struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// writeJSON writes a JSON response
func writeJSON(w http.ResponseWriter, status int, data any) {
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		slog.Warn("failed to write response", "error", err)
	}
}

// writeError writes an error response (sanitized)
func writeError(w http.ResponseWriter, status int, message string) {
	if status >= 500 {
		message = "Internal server error"
	}
	writeJSON(w, status, Response{
		Success: false,
		Error:   message,
	})
}

// health pings the store
func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if err := s.store.Ping(r.Context()); err != nil {
		slog.Error("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, Response{Success: false, Error: "store unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, Response{Success: true, Data: "ok"})
}

// campaignProtected reports whether a campaign has a password. Unknown
// campaigns are not protected.
func (s *Server) campaignProtected(ctx context.Context, campaignID string) (bool, error) {
	c, err := s.store.GetCampaign(ctx, campaignID)
	if errors.Is(err, db.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return c.Protected(), nil
}

// authorize checks the bearer token of a request against a protected campaign
func (s *Server) authorize(w http.ResponseWriter, r *http.Request, campaignID string) bool {
	protected, err := s.campaignProtected(r.Context(), campaignID)
	if err != nil {
		slog.Error("failed to load campaign", "campaign", campaignID, "error", err)
		writeError(w, http.StatusInternalServerError, "Failed to load campaign")
		return false
	}
	if !protected {
		return true
	}
	if err := s.sessions.Verify(mw.BearerToken(r), campaignID); err != nil {
		writeError(w, http.StatusUnauthorized, "Campaign session required")
		return false
	}
	return true
}
