package handlers

import (
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/cheth/backend/internal/store"
)

// CreateWager pairs the authenticated user into the oldest open game, or
// opens a new one at the requested stake
func CreateWager(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		userIDv, ok := c.Get("user_id")
		if !ok {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			return
		}
		userID := userIDv.(int)

		var req struct {
			WagerAmount float64 `json:"wagerAmount"`
		}
		if err := c.BindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wagerAmount required"})
			return
		}
		if req.WagerAmount <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wagerAmount must be positive"})
			return
		}

		game, joined, err := st.PairOrCreateGame(c.Request.Context(), userID, req.WagerAmount)
		if err != nil {
			log.Printf("[GAME] Pairing failed for user %d: %v", userID, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to create wager"})
			return
		}

		log.Printf("[GAME] User %d %s game %d (wager=%.4f)",
			userID, pairVerb(joined), game.ID, game.WagerAmount)
		c.JSON(http.StatusOK, gin.H{"game": game, "joined": joined})
	}
}

func pairVerb(joined bool) string {
	if joined {
		return "joined"
	}
	return "opened"
}

// GetGame returns a single game by id
func GetGame(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		id, err := strconv.Atoi(c.Param("id"))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid game id"})
			return
		}

		game, err := st.GetGame(c.Request.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "game not found"})
			return
		}
		if err != nil {
			log.Printf("[GAME] Failed to fetch game %d: %v", id, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"game": game})
	}
}

// GetWagersByWallet lists games involving the given wallet address
func GetWagersByWallet(st *store.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		wallet := strings.TrimSpace(c.Query("wallet"))
		if wallet == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "wallet query param required"})
			return
		}

		games, err := st.ListWagersByWallet(c.Request.Context(), wallet)
		if err != nil {
			log.Printf("[GAME] Failed to list wagers for wallet %s: %v", wallet, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error"})
			return
		}

		c.JSON(http.StatusOK, gin.H{"games": games})
	}
}
