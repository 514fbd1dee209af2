package http

import (
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"vn.io.arda/realtime/internal/transport/mw"
)

// NewRouter sets up all Echo routes and middleware. gatherer serves /metrics
// and may be nil to omit the endpoint.
func NewRouter(h *Handler, jwtSecret string, gatherer prometheus.Gatherer) *echo.Echo {
	e := echo.New()
	e.HideBanner = true

	// Global middleware
	e.Use(middleware.Recover())
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger())
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins: []string{"*"},
		AllowHeaders: []string{"Authorization", "Content-Type", "X-Tenant-Key"},
		AllowMethods: []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
	}))

	// Health (no auth required)
	e.GET("/health", h.Health)
	if gatherer != nil {
		e.GET("/metrics", echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
	}

	// API (authenticated)
	v1 := e.Group("/api/v1")
	v1.Use(mw.JWTAuth(jwtSecret))
	v1.Use(mw.TenantResolver())

	// REST endpoints
	v1.GET("/notifications", h.ListNotifications)
	v1.POST("/notifications", h.CreateNotification)
	v1.GET("/notifications/unread-count", h.GetUnreadCount)
	v1.POST("/notifications/read", h.MarkRead)
	v1.POST("/notifications/read-all", h.MarkAllRead)
	v1.GET("/notifications/:id", h.GetNotification)
	v1.PATCH("/notifications/:id", h.UpdateNotification)
	v1.DELETE("/notifications/:id", h.Delete)

	// WebSocket endpoint
	v1.GET("/ws", h.Stream)

	return e
}
