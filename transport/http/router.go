package http

import (
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/meridian-labs/cerberus/service"
)

// SetupRouter sets up the Gin router
func SetupRouter(authService *service.AuthService, accessTTL time.Duration) *gin.Engine {
	router := gin.Default()

	// Volumetric guard ahead of everything else.
	router.Use(NewIPRateLimiter(rate.Limit(25), 50).Limit())

	handlers := NewAuthHandlers(authService, accessTTL)

	// Auth routes
	auth := router.Group("/auth")
	{
		auth.POST("/challenge", handlers.Challenge)
		auth.POST("/login", handlers.Login)
		auth.POST("/refresh", handlers.Refresh)
		auth.POST("/logout", handlers.Logout)
	}

	// Protected API routes
	api := router.Group("/api")
	api.Use(AuthMiddleware(authService))
	{
		api.GET("/me", handlers.Me)
		api.GET("/authorize", handlers.Authorize)
	}

	return router
}
