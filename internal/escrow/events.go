package escrow

import (
	"context"
	"encoding/json"
	"log"

	"github.com/redis/go-redis/v9"
)

// Message types on the player-facing envelope.
const (
	EventGamePaired          = "game-paired"
	EventContractCreated     = "game-contract-created"
	EventBothDeposited       = "both-players-deposited"
	EventLichessGameCreated  = "lichess-game-created"
	EventGameFinished        = "game-finished"
	EventFundsDistributed    = "funds-distributed"
	MessageTypePlayerDeposit = "player-deposited"
)

// Event is the outbound message envelope.
type Event struct {
	Type           string `json:"type"`
	GameID         string `json:"gameId,omitempty"`
	ContractGameID int64  `json:"contractGameId,omitempty"`
	LichessGameID  string `json:"lichessGameId,omitempty"`
	Result         string `json:"result,omitempty"`
	Winner         string `json:"winner,omitempty"`
	Message        string `json:"message,omitempty"`
}

// Broadcaster fans out state-transition events to every attached transport
// in a room, best effort, and mirrors them onto a Redis channel for
// out-of-process observers.
type Broadcaster struct {
	reg *Registry
	rdb *redis.Client
}

func NewBroadcaster(reg *Registry, rdb *redis.Client) *Broadcaster {
	return &Broadcaster{reg: reg, rdb: rdb}
}

// Broadcast delivers the event to all room members. A send failure to one
// transport must not prevent delivery to the other and never reaches the
// caller.
func (b *Broadcaster) Broadcast(gameID string, evt Event) {
	data, err := json.Marshal(evt)
	if err != nil {
		log.Printf("[EVENTS] Error marshaling %s for game %s: %v", evt.Type, gameID, err)
		return
	}

	for _, d := range b.reg.Deliveries(gameID) {
		if err := d.Transport.Send(data); err != nil {
			log.Printf("[EVENTS] Send %s to player %s in game %s failed: %v",
				evt.Type, d.PlayerID, gameID, err)
		}
	}

	if b.rdb != nil {
		if err := b.rdb.Publish(context.Background(), "game:events", data).Err(); err != nil {
			log.Printf("[EVENTS] Failed to publish %s for game %s: %v", evt.Type, gameID, err)
		}
	}
}
