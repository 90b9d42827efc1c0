package api

// setupRoutes configures all API routes
func (s *Server) setupRoutes() {
	v1 := s.router.Group("/api/v1")
	{
		v1.GET("/status", s.handleGetStatus)
		v1.GET("/health", s.handleGetHealth)

		orders := v1.Group("/orders")
		{
			orders.POST("", s.handleCreateOrder)
			orders.GET("/:id", s.handleGetOrder)
			orders.POST("/:id/offers", s.handleSubmitOffer)
			orders.POST("/:id/decisions", s.handleSubmitDecision)
			orders.POST("/:id/cancel", s.handleCancelOrder)
		}

		sellers := v1.Group("/sellers")
		{
			sellers.GET("", s.handleListSellers)
			sellers.GET("/:id", s.handleGetSeller)
		}

		devices := v1.Group("/devices")
		{
			devices.POST("", s.handleRegisterDevice)
			devices.DELETE("/:token", s.handleUnregisterDevice)
		}

		users := v1.Group("/users/:id")
		{
			users.GET("/notification-preferences", s.handleGetNotificationPreferences)
			users.PUT("/notification-preferences", s.handleUpdateNotificationPreferences)
			users.GET("/preferences", s.handleListUserPreferences)
			users.PUT("/preferences/:key", s.handleSetUserPreference)
			users.DELETE("/preferences/:key", s.handleDeleteUserPreference)
		}
	}

	s.router.GET("/", s.handleRoot)
}
