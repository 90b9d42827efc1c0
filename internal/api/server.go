// Package api provides the HTTP surface of the commission negotiation
// service: order intake, offer submission, buyer decisions, and the device
// and preference registries for push notifications.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/negotiation"
	"github.com/kalaikatha/commissions/internal/notifications"
	"github.com/kalaikatha/commissions/internal/registry"
)

// Sessions is the negotiation surface the API needs. Implemented by
// *negotiation.Manager.
type Sessions interface {
	CreateOrder(ctx context.Context, req negotiation.CreateOrderRequest) (*db.OrderAggregate, error)
	SubmitOffer(ctx context.Context, orderID uuid.UUID, sellerID string, price db.Money, kind negotiation.OfferKind) (*negotiation.SlotSnapshot, error)
	SubmitBuyerDecision(ctx context.Context, orderID uuid.UUID, buyerID, sellerID string, price db.Money, kind negotiation.OfferKind) (*negotiation.SlotSnapshot, error)
	CancelOrder(ctx context.Context, orderID uuid.UUID, buyerID string) (*db.OrderAggregate, error)
	GetOrder(ctx context.Context, orderID uuid.UUID) (*db.OrderAggregate, error)
}

// Server represents the REST API server
type Server struct {
	router   *gin.Engine
	store    *db.DB
	sessions Sessions
	registry registry.Registry
	notifier notifications.Service
	addr     string
	server   *http.Server
}

// Config contains server configuration
type Config struct {
	Host     string
	Port     int
	Store    *db.DB
	Sessions Sessions
	Registry registry.Registry
	Notifier notifications.Service

	// RateLimit is requests per second per client; 0 disables limiting
	RateLimit float64
	RateBurst int
}

// NewServer creates a new API server
func NewServer(config Config) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()

	router.Use(gin.Recovery())
	router.Use(LoggerMiddleware())
	router.Use(MetricsMiddleware())
	router.Use(ClientVersionMiddleware())
	if config.RateLimit > 0 {
		router.Use(RateLimitMiddleware(config.RateLimit, config.RateBurst))
	}
	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization", "X-Client-Version"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	addr := fmt.Sprintf("%s:%d", config.Host, config.Port)

	server := &Server{
		router:   router,
		store:    config.Store,
		sessions: config.Sessions,
		registry: config.Registry,
		notifier: config.Notifier,
		addr:     addr,
	}

	server.setupRoutes()

	return server
}

// Router exposes the handler for tests
func (s *Server) Router() http.Handler {
	return s.router
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.addr,
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	log.Info().Str("addr", s.addr).Msg("Starting API server")

	if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("failed to start server: %w", err)
	}

	return nil
}

// Stop gracefully stops the HTTP server
func (s *Server) Stop(ctx context.Context) error {
	log.Info().Msg("Stopping API server")

	if s.server != nil {
		if err := s.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("failed to stop server: %w", err)
		}
	}

	return nil
}
