package middleware

import (
	"log"

	"github.com/gin-gonic/gin"

	"github.com/cheth/backend/internal/config"
)

// CORSMiddleware returns a CORS middleware configured for the environment
func CORSMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowOrigin := "*"
	if cfg.Environment == "production" && cfg.FrontendURL != "" {
		allowOrigin = cfg.FrontendURL
	}
	log.Printf("[CORS] Environment: %s, allowed origin: %s", cfg.Environment, allowOrigin)

	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowOrigin)
		c.Header("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, X-Admin-Token, Accept, Origin, Cache-Control, X-Requested-With")
		c.Header("Access-Control-Allow-Methods", "POST, OPTIONS, GET, PUT, DELETE")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(204)
			return
		}

		c.Next()
	}
}
