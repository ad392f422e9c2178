package httptransport

import (
	"log/slog"
	"net/http"

	"github.com/devi-sudo/zbox/internal/transport/http/handler"
	"github.com/devi-sudo/zbox/internal/transport/http/middleware"
	"github.com/gin-gonic/gin"

	sloggin "github.com/samber/slog-gin"
)

func NewRouter(logger *slog.Logger, entitlementHandler *handler.EntitlementHandler, adminHandler *handler.AdminHandler, adminKey []byte) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Security())
	r.Use(sloggin.New(logger))
	r.Use(middleware.Metrics())

	r.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	})

	v1 := r.Group("/v1")
	v1.POST("/start", entitlementHandler.Start)

	users := v1.Group("/users/:userID")
	users.GET("/access", entitlementHandler.Access)
	users.GET("/referral", entitlementHandler.Referral)

	// Operator routes
	admin := v1.Group("/admin", middleware.AdminAuth(adminKey))
	admin.GET("/settings", adminHandler.GetSettings)
	admin.PUT("/settings", adminHandler.UpdateSettings)
	admin.GET("/referrals/leaderboard", adminHandler.Leaderboard)

	return r
}
