package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/cheth/backend/internal/escrow"
)

// Handler bridges WebSocket clients to the pairing coordinator.
type Handler struct {
	orch *escrow.Orchestrator
}

func NewHandler(orch *escrow.Orchestrator) *Handler {
	return &Handler{orch: orch}
}

// HandleWebSocket upgrades the connection and registers the player with the
// game room. Missing or malformed identifiers close the socket with an
// error payload, matching the connect contract.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	playerID := c.Query("playerId")
	gameID := c.Query("gameId")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Printf("[WS] Upgrade error: %v", err)
		return
	}

	client := &Client{
		conn:     conn,
		playerID: playerID,
		gameID:   gameID,
		send:     make(chan []byte, 256),
	}
	go client.writePump()

	if err := h.orch.OnConnect(context.Background(), playerID, gameID, client); err != nil {
		log.Printf("[WS] Rejecting connection (player=%q game=%q): %v", playerID, gameID, err)
		client.sendError(connectErrorMessage(err))

		// Give the write pump a moment to flush before closing.
		time.Sleep(100 * time.Millisecond)
		conn.Close()
		return
	}

	go client.readPump(h.orch)
}

func connectErrorMessage(err error) string {
	switch {
	case errors.Is(err, escrow.ErrInvalidRequest):
		return "playerId or gameId is missing"
	case errors.Is(err, escrow.ErrRoomFull):
		return "game room is full"
	default:
		return "failed to join game"
	}
}

// readPump reads player messages until the transport closes.
func (c *Client) readPump(orch *escrow.Orchestrator) {
	defer func() {
		orch.OnDisconnect(c.playerID, c.gameID)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("[WS] Unexpected close for player %s: %v", c.playerID, err)
			} else {
				log.Printf("[WS] Read error for player %s: %v", c.playerID, err)
			}
			break
		}

		var msg WSMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("[WS] Error parsing message from player %s: %v", c.playerID, err)
			continue
		}

		c.handleMessage(orch, msg)
	}
}

// handleMessage processes one inbound envelope.
func (c *Client) handleMessage(orch *escrow.Orchestrator, msg WSMessage) {
	switch msg.Type {
	case escrow.MessageTypePlayerDeposit:
		// The deposit cascade can call out to external services; keep the
		// read loop free.
		go orch.HandleDeposit(context.Background(), c.playerID, c.gameID)

	default:
		log.Printf("[WS] Unknown message type %q from player %s", msg.Type, c.playerID)
		c.sendError("Unknown message type")
	}
}
