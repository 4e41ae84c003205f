package api

import (
	"github.com/gin-gonic/gin"

	"github.com/cheth/backend/internal/api/handlers"
	"github.com/cheth/backend/internal/chesshost"
	"github.com/cheth/backend/internal/config"
	"github.com/cheth/backend/internal/escrow"
	"github.com/cheth/backend/internal/middleware"
	"github.com/cheth/backend/internal/store"
	"github.com/cheth/backend/internal/ws"
)

// SetupRoutes configures all API routes
func SetupRoutes(router *gin.Engine, st *store.Store, orch *escrow.Orchestrator, host *chesshost.Client, wsHandler *ws.Handler, cfg *config.Config) {
	router.Use(middleware.CORSMiddleware(cfg))

	// WebSocket pairing endpoint; the frontend connects here with
	// ?playerId=...&gameId=...
	router.GET("/ws", wsHandler.HandleWebSocket)

	v1 := router.Group("/api/v1")
	{
		v1.GET("/health", handlers.HealthCheck)

		v1.POST("/auth/session", handlers.CreateSession(st, host, cfg))

		games := v1.Group("/games")
		{
			games.GET("/:id", handlers.GetGame(st))
			games.GET("", handlers.GetWagersByWallet(st))
			games.POST("", handlers.AuthMiddleware(cfg), handlers.CreateWager(st))
		}

		adminGroup := v1.Group("/admin", handlers.AdminAuthMiddleware(cfg))
		{
			adminGroup.GET("/rooms", handlers.AdminRooms(orch))
			adminGroup.GET("/rooms/:id", handlers.AdminRoom(orch))
		}
	}
}
