package ws

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Allow all origins in development
	},
}

// ErrSendBufferFull is returned when a client's outbound buffer is full and
// the message is dropped.
var ErrSendBufferFull = errors.New("client send buffer full")

// Client represents a connected WebSocket client. It implements
// escrow.Transport: the orchestrator hands it outbound event payloads.
type Client struct {
	conn     *websocket.Conn
	playerID string
	gameID   string
	send     chan []byte
}

// Send queues a payload for the write pump. Best effort: a full buffer
// drops the message rather than blocking the broadcaster.
func (c *Client) Send(data []byte) error {
	select {
	case c.send <- data:
		return nil
	default:
		log.Printf("[WS] Send buffer full for player %s in game %s, dropping message", c.playerID, c.gameID)
		return ErrSendBufferFull
	}
}

// Close terminates the underlying connection. The read pump notices and
// unregisters the client.
func (c *Client) Close() error {
	return c.conn.Close()
}

// WSMessage is the inbound message envelope.
type WSMessage struct {
	Type   string `json:"type"`
	GameID string `json:"gameId"`
}

// writePump writes messages to the WebSocket connection
func (c *Client) writePump() {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Printf("[WS] Write error for player %s: %v", c.playerID, err)
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				log.Printf("[WS] Ping error for player %s: %v", c.playerID, err)
				return
			}
		}
	}
}

// sendError sends an error payload to the client
func (c *Client) sendError(message string) {
	data, _ := json.Marshal(map[string]interface{}{
		"error": message,
	})
	c.Send(data)
}
