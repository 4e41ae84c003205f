package handlers

import (
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/cheth/backend/internal/chesshost"
	"github.com/cheth/backend/internal/config"
	"github.com/cheth/backend/internal/store"
)

// CreateSession binds a Lichess account to a wallet address and issues a JWT
func CreateSession(st *store.Store, host *chesshost.Client, cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req struct {
			LichessID     string `json:"lichessId"`
			WalletAddress string `json:"walletAddress"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lichessId and walletAddress required"})
			return
		}

		lichessID := strings.ToLower(strings.TrimSpace(req.LichessID))
		wallet := strings.TrimSpace(req.WalletAddress)
		if lichessID == "" || wallet == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "lichessId and walletAddress required"})
			return
		}
		if !strings.HasPrefix(wallet, "0x") || len(wallet) != 42 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid wallet address"})
			return
		}

		// Canonicalize the handle against the chess host; lookup failures
		// only log and the session is still issued.
		if host != nil {
			if info, err := host.FetchUserInfo(c.Request.Context(), lichessID); err != nil {
				log.Printf("[AUTH] Lichess lookup for %s failed: %v", lichessID, err)
			} else {
				lichessID = info.ID
			}
		}

		user, err := st.UpsertUser(c.Request.Context(), lichessID, wallet)
		if err != nil {
			log.Printf("[AUTH] Failed to upsert user %s: %v", lichessID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		exp := time.Now().Add(time.Duration(cfg.SessionHours) * time.Hour)
		claims := jwt.MapClaims{
			"user_id":    user.ID,
			"lichess_id": user.LichessID,
			"jti":        uuid.NewString(),
			"exp":        exp.Unix(),
		}
		token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
		signed, err := token.SignedString([]byte(cfg.JWTSecret))
		if err != nil {
			log.Printf("[AUTH] Failed to sign token for user %s: %v", lichessID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"token": signed, "user": user})
	}
}

// AuthMiddleware validates bearer JWT and sets user_id in context
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" || !strings.HasPrefix(auth, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing token"})
			return
		}
		token := strings.TrimPrefix(auth, "Bearer ")

		parsed, err := jwt.Parse(token, func(token *jwt.Token) (interface{}, error) {
			if token.Method.Alg() != jwt.SigningMethodHS256.Alg() {
				return nil, fmt.Errorf("unexpected signing method")
			}
			return []byte(cfg.JWTSecret), nil
		})
		if err != nil || !parsed.Valid {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		claims, ok := parsed.Claims.(jwt.MapClaims)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userIDf, ok := claims["user_id"].(float64)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		lichessID, _ := claims["lichess_id"].(string)

		c.Set("user_id", int(userIDf))
		c.Set("lichess_id", lichessID)
		c.Next()
	}
}
