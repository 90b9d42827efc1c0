package api

import (
	"fmt"
	"net/http"
	"runtime"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/kalaikatha/commissions/internal/config"
	"github.com/kalaikatha/commissions/internal/db"
	"github.com/kalaikatha/commissions/internal/negotiation"
	"github.com/kalaikatha/commissions/internal/notifications"
)

// Root handler
func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"service": "Kalaikatha Commissions API",
		"version": config.Version,
		"status":  "running",
		"time":    time.Now().UTC(),
	})
}

// handleGetStatus returns comprehensive system status
func (s *Server) handleGetStatus(c *gin.Context) {
	var memStats runtime.MemStats
	runtime.ReadMemStats(&memStats)

	dbStatus := "healthy"
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			dbStatus = "unhealthy"
			log.Warn().Err(err).Msg("Database health check failed")
		}
	} else {
		dbStatus = "not_configured"
	}

	systemStatus := "healthy"
	if dbStatus != "healthy" {
		systemStatus = "degraded"
	}

	c.JSON(http.StatusOK, gin.H{
		"status":    systemStatus,
		"timestamp": time.Now().UTC(),
		"uptime":    time.Since(startTime).Seconds(),
		"version":   config.Version,
		"components": gin.H{
			"database": gin.H{
				"status": dbStatus,
			},
			"negotiation": gin.H{
				"status": func() string {
					if s.sessions != nil {
						return "configured"
					}
					return "not_configured"
				}(),
			},
			"notifications": gin.H{
				"status": func() string {
					if s.notifier != nil {
						return "configured"
					}
					return "not_configured"
				}(),
			},
		},
		"system": gin.H{
			"goroutines": runtime.NumGoroutine(),
			"memory": gin.H{
				"alloc_mb": memStats.Alloc / 1024 / 1024,
				"sys_mb":   memStats.Sys / 1024 / 1024,
				"num_gc":   memStats.NumGC,
			},
			"go_version": runtime.Version(),
		},
	})
}

// handleGetHealth returns a simple health check (for load balancers)
func (s *Server) handleGetHealth(c *gin.Context) {
	if s.store != nil {
		if err := s.store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "unhealthy",
				"error":  "database unavailable",
			})
			return
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"status": "healthy",
		"time":   time.Now().UTC(),
	})
}

// Order endpoints

type createOrderRequest struct {
	BuyerID               string     `json:"buyer_id" binding:"required"`
	ProductName           string     `json:"product_name" binding:"required"`
	Description           string     `json:"description"`
	Specifications        string     `json:"specifications"`
	Quantity              int        `json:"quantity"`
	Budget                db.Money   `json:"budget" binding:"required,gt=0"`
	DateRequired          *time.Time `json:"date_required"`
	ResponseTimeLimitDays int        `json:"response_time_limit_days"`
	SelectionMode         string     `json:"selection_mode" binding:"required"`
	SellerIDs             []string   `json:"seller_ids"`
}

func (s *Server) handleCreateOrder(c *gin.Context) {
	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	quantity := req.Quantity
	if quantity == 0 {
		quantity = 1
	}

	intake := negotiation.CreateOrderRequest{
		BuyerID:               req.BuyerID,
		ProductName:           req.ProductName,
		Description:           req.Description,
		Specifications:        req.Specifications,
		Quantity:              quantity,
		Budget:                req.Budget,
		DateRequired:          req.DateRequired,
		ResponseTimeLimitDays: req.ResponseTimeLimitDays,
		SelectionMode:         db.SelectionMode(req.SelectionMode),
		SellerIDs:             req.SellerIDs,
	}
	if err := intake.Validate(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	agg, err := s.sessions.CreateOrder(c.Request.Context(), intake)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, toOrderDetail(agg))
}

func (s *Server) handleGetOrder(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		return
	}

	agg, err := s.sessions.GetOrder(c.Request.Context(), orderID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderDetail(agg))
}

type offerRequest struct {
	SellerID string   `json:"seller_id" binding:"required"`
	Price    db.Money `json:"price"`
	Kind     string   `json:"kind"`
}

func (s *Server) handleSubmitOffer(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		return
	}

	var req offerRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	kind, ok := parseOfferKind(c, req.Kind)
	if !ok {
		return
	}

	snapshot, err := s.sessions.SubmitOffer(c.Request.Context(), orderID, req.SellerID, req.Price, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

type decisionRequest struct {
	BuyerID  string   `json:"buyer_id" binding:"required"`
	SellerID string   `json:"seller_id" binding:"required"`
	Price    db.Money `json:"price"`
	Kind     string   `json:"kind"`
}

func (s *Server) handleSubmitDecision(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		return
	}

	var req decisionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	kind, ok := parseOfferKind(c, req.Kind)
	if !ok {
		return
	}

	snapshot, err := s.sessions.SubmitBuyerDecision(c.Request.Context(), orderID, req.BuyerID, req.SellerID, req.Price, kind)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, snapshot)
}

type cancelRequest struct {
	BuyerID string `json:"buyer_id" binding:"required"`
}

func (s *Server) handleCancelOrder(c *gin.Context) {
	orderID, ok := parseOrderID(c)
	if !ok {
		return
	}

	var req cancelRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	agg, err := s.sessions.CancelOrder(c.Request.Context(), orderID, req.BuyerID)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toOrderDetail(agg))
}

// Seller registry endpoints

func (s *Server) handleListSellers(c *gin.Context) {
	sellers, err := s.registry.AllSellers(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}

	views := make([]sellerView, 0, len(sellers))
	for _, seller := range sellers {
		views = append(views, toSellerView(seller))
	}

	c.JSON(http.StatusOK, gin.H{
		"sellers": views,
		"total":   len(views),
	})
}

func (s *Server) handleGetSeller(c *gin.Context) {
	seller, err := s.registry.Seller(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, toSellerView(seller))
}

// Device registry endpoints

// requireNotifier rejects device and preference calls when push delivery is
// disabled in config.
func (s *Server) requireNotifier(c *gin.Context) bool {
	if s.notifier == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "push notifications disabled"})
		return false
	}
	return true
}

type registerDeviceRequest struct {
	UserID      string `json:"user_id" binding:"required"`
	DeviceToken string `json:"device_token" binding:"required"`
	Platform    string `json:"platform" binding:"required"`
}

func (s *Server) handleRegisterDevice(c *gin.Context) {
	if !s.requireNotifier(c) {
		return
	}

	var req registerDeviceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	platform := notifications.Platform(req.Platform)
	if !notifications.ValidPlatform(platform) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("unknown platform %q", req.Platform),
		})
		return
	}

	if err := s.notifier.RegisterDevice(c.Request.Context(), req.UserID, req.DeviceToken, platform); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, gin.H{"status": "registered"})
}

func (s *Server) handleUnregisterDevice(c *gin.Context) {
	if !s.requireNotifier(c) {
		return
	}

	if err := s.notifier.UnregisterDevice(c.Request.Context(), c.Param("token")); err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "device token not found"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "unregistered"})
}

// Notification preference endpoints

func (s *Server) handleGetNotificationPreferences(c *gin.Context) {
	if !s.requireNotifier(c) {
		return
	}

	prefs, err := s.notifier.GetPreferences(c.Request.Context(), c.Param("id"))
	if err != nil {
		// Unset preferences read as the defaults
		prefs = notifications.DefaultPreferences()
	}

	c.JSON(http.StatusOK, prefs)
}

func (s *Server) handleUpdateNotificationPreferences(c *gin.Context) {
	if !s.requireNotifier(c) {
		return
	}

	var prefs notifications.Preferences
	if err := c.ShouldBindJSON(&prefs); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	if err := s.notifier.UpdatePreferences(c.Request.Context(), c.Param("id"), prefs); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, prefs)
}

// User preference endpoints

func (s *Server) handleListUserPreferences(c *gin.Context) {
	prefs, err := s.store.ListUserPreferences(c.Request.Context(), c.Param("id"))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"preferences": prefs})
}

type setPreferenceRequest struct {
	Value string `json:"value" binding:"required"`
}

func (s *Server) handleSetUserPreference(c *gin.Context) {
	var req setPreferenceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("invalid request: %v", err),
		})
		return
	}

	if err := s.store.SetUserPreference(c.Request.Context(), c.Param("id"), c.Param("key"), req.Value); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"key":   c.Param("key"),
		"value": req.Value,
	})
}

func (s *Server) handleDeleteUserPreference(c *gin.Context) {
	if err := s.store.DeleteUserPreference(c.Request.Context(), c.Param("id"), c.Param("key")); err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "deleted"})
}

// Helpers

func parseOrderID(c *gin.Context) (uuid.UUID, bool) {
	orderID, err := uuid.Parse(c.Param("id"))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "invalid order ID format",
		})
		return uuid.Nil, false
	}
	return orderID, true
}

func parseOfferKind(c *gin.Context, kind string) (negotiation.OfferKind, bool) {
	switch negotiation.OfferKind(kind) {
	case negotiation.OfferKindOffer, negotiation.OfferKindAccept, negotiation.OfferKindDecline:
		return negotiation.OfferKind(kind), true
	case "":
		return negotiation.OfferKindOffer, true
	default:
		c.JSON(http.StatusBadRequest, gin.H{
			"error": fmt.Sprintf("kind must be OFFER, ACCEPT or DECLINE, got %q", kind),
		})
		return "", false
	}
}

var startTime = time.Now()
