// Package api provides the HTTP API server implementation.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/common-ad-network/internal/logging"
	"github.com/common-ad-network/internal/service"
	"github.com/common-ad-network/internal/storage"
	"github.com/gorilla/mux"
)

// Service interfaces for dependency injection and testing

// AdSelectorInterface defines the interface for ad serving
type AdSelectorInterface interface {
	SelectAd(ctx context.Context, input *service.ServeAdInput) (*service.ServedAd, error)
}

// ClickServiceInterface defines the interface for click processing
type ClickServiceInterface interface {
	RecordClick(ctx context.Context, input *service.RecordClickInput) *service.ClickResult
}

// AnalyticsServiceInterface defines the interface for analytics queries
type AnalyticsServiceInterface interface {
	GetUserAnalytics(ctx context.Context, userID string) (*service.UserAnalytics, error)
}

// Server represents the HTTP API server.
type Server struct {
	router           *mux.Router
	httpServer       *http.Server
	adSelector       AdSelectorInterface
	clickService     ClickServiceInterface
	analyticsService AnalyticsServiceInterface
	adRepo           *storage.AdRepository
	userRepo         *storage.UserRepository
	config           *ServerConfig
}

// ServerConfig holds server configuration.
type ServerConfig struct {
	Host            string
	Port            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	EmbedRPS        int // Requests per second per client IP on embed routes
	EmbedBurst      int
	// FallbackRedirectURL catches click requests that fail before the
	// click pipeline can resolve a destination.
	FallbackRedirectURL string
	// SignupBonus is the karma balance new users start with.
	SignupBonus int64
}

// NewServer creates a new API server instance.
func NewServer(
	config *ServerConfig,
	adSelector AdSelectorInterface,
	clickService ClickServiceInterface,
	analyticsService AnalyticsServiceInterface,
	adRepo *storage.AdRepository,
	userRepo *storage.UserRepository,
) *Server {
	s := &Server{
		router:           mux.NewRouter(),
		adSelector:       adSelector,
		clickService:     clickService,
		analyticsService: analyticsService,
		adRepo:           adRepo,
		userRepo:         userRepo,
		config:           config,
	}

	s.setupRouter()

	return s
}

// setupRouter configures the router with middleware and routes
func (s *Server) setupRouter() {
	// Set up middleware (order matters!)
	s.router.Use(LoggingMiddleware)
	s.router.Use(RecoveryMiddleware)
	s.router.Use(CORSMiddleware)

	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%s", s.config.Host, s.config.Port),
		Handler:      s.router,
		ReadTimeout:  s.config.ReadTimeout,
		WriteTimeout: s.config.WriteTimeout,
		IdleTimeout:  s.config.IdleTimeout,
	}
}

// setupRoutes configures all API routes.
func (s *Server) setupRoutes() {
	// Health check endpoint
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")

	// Embed endpoints are anonymous and internet-facing; per-IP rate
	// limiting applies only here.
	rateLimiter := NewRateLimiter(s.config.EmbedRPS, s.config.EmbedBurst)
	embed := s.router.PathPrefix("/api/embed").Subrouter()
	embed.Use(RateLimitMiddleware(rateLimiter))
	embed.HandleFunc("/ad", s.handleServeAd).Methods("GET")
	embed.HandleFunc("/click/{adId}", s.handleClick).Methods("GET")

	// Dashboard API
	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/ads", s.handleCreateAd).Methods("POST")
	api.HandleFunc("/ads", s.handleListAds).Methods("GET")
	api.HandleFunc("/ads/{id}", s.handleUpdateAd).Methods("PATCH")
	api.HandleFunc("/ads/{id}", s.handleDeleteAd).Methods("DELETE")
	api.HandleFunc("/users", s.handleCreateUser).Methods("POST")
	api.HandleFunc("/users/{id}", s.handleGetUser).Methods("GET")
	api.HandleFunc("/analytics", s.handleGetAnalytics).Methods("GET")
}

// handleHealth handles health check requests.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "common-ad-network",
	})
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	logging.GetGlobalLogger().Infof("Starting API server on %s", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown(ctx context.Context) error {
	logging.GetGlobalLogger().Info("Shutting down API server...")
	return s.httpServer.Shutdown(ctx)
}
