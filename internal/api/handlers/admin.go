package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/cheth/backend/internal/admin"
	"github.com/cheth/backend/internal/config"
	"github.com/cheth/backend/internal/escrow"
)

// AdminAuthMiddleware validates the X-Admin-Token header against the
// configured bcrypt hash
func AdminAuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if cfg.AdminTokenHash == "" {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "admin surface not configured"})
			return
		}

		token := c.GetHeader("X-Admin-Token")
		if token == "" || !admin.VerifyAdminToken(cfg.AdminTokenHash, token) {
			log.Printf("[ADMIN] Rejected admin request from %s", c.ClientIP())
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}

		c.Next()
	}
}

// AdminRooms returns a snapshot of every live game room
func AdminRooms(orch *escrow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		rooms := orch.RoomSnapshots()
		c.JSON(http.StatusOK, gin.H{"count": len(rooms), "rooms": rooms})
	}
}

// AdminRoom returns one room's state, live or from the persisted snapshot
func AdminRoom(orch *escrow.Orchestrator) gin.HandlerFunc {
	return func(c *gin.Context) {
		gameID := c.Param("id")
		snap, err := orch.RoomSnapshot(c.Request.Context(), gameID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "room not found"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"room": snap})
	}
}
