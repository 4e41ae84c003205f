package escrow

import (
	"errors"
	"fmt"
	"sync"
)

var (
	// ErrInvalidRequest covers missing or malformed player/game identifiers.
	ErrInvalidRequest = errors.New("invalid request")

	// ErrRoomFull rejects a third distinct player for a game id. Roles are
	// positional; silently admitting a third member would corrupt them.
	ErrRoomFull = errors.New("game room already has two players")
)

// Registry tracks live per-player, per-game connections. It is the single
// source of mutable shared state: rooms are independent units of concurrency
// with their own locks, so no room blocks another.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]*Room
}

func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

func (r *Registry) room(gameID string, create bool) *Room {
	if create {
		r.mu.Lock()
		defer r.mu.Unlock()
		if room, ok := r.rooms[gameID]; ok {
			return room
		}
		room := newRoom(gameID)
		r.rooms[gameID] = room
		return room
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.rooms[gameID]
}

// Register attaches a transport for (playerID, gameID). A reconnect rebinds
// the transport on the existing record so orchestration flags survive;
// registration for the same pair is serialized by the room lock.
func (r *Registry) Register(playerID, gameID string, t Transport) (*Connection, *Room, error) {
	if playerID == "" || gameID == "" {
		return nil, nil, fmt.Errorf("%w: playerId and gameId required", ErrInvalidRequest)
	}

	room := r.room(gameID, true)

	room.mu.Lock()
	defer room.mu.Unlock()

	for _, c := range room.conns {
		if c.PlayerID == playerID {
			// Reconnect: swap the transport, keep the flags.
			if c.transport != nil && c.transport != t {
				c.transport.Close()
			}
			c.transport = t
			c.Connected = true
			return c, room, nil
		}
	}

	if len(room.conns) >= 2 {
		return nil, nil, fmt.Errorf("%w: game %s", ErrRoomFull, gameID)
	}

	conn := &Connection{
		PlayerID:  playerID,
		GameID:    gameID,
		transport: t,
		Connected: true,
	}
	room.conns = append(room.conns, conn)
	return conn, room, nil
}

// Unregister marks the connection disconnected on transport close. The
// record itself stays so a reconnect does not replay completed steps.
func (r *Registry) Unregister(playerID, gameID string) {
	room := r.room(gameID, false)
	if room == nil {
		return
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	for _, c := range room.conns {
		if c.PlayerID == playerID {
			c.Connected = false
			return
		}
	}
}

// Room returns the room for a game id, or nil.
func (r *Registry) Room(gameID string) *Room {
	return r.room(gameID, false)
}

// RoomMembers returns the room's connections in insertion order, which fixes
// the player1/player2 roles for downstream calls.
func (r *Registry) RoomMembers(gameID string) []*Connection {
	room := r.room(gameID, false)
	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	members := make([]*Connection, len(room.conns))
	copy(members, room.conns)
	return members
}

// Delivery is a send endpoint captured inside the room's critical section,
// so a broadcast never races a reconnect swapping the transport.
type Delivery struct {
	PlayerID  string
	Transport Transport
}

// Deliveries returns endpoints for the room's currently connected members.
func (r *Registry) Deliveries(gameID string) []Delivery {
	room := r.room(gameID, false)
	if room == nil {
		return nil
	}

	room.mu.Lock()
	defer room.mu.Unlock()
	out := make([]Delivery, 0, len(room.conns))
	for _, c := range room.conns {
		if c.Connected && c.transport != nil {
			out = append(out, Delivery{PlayerID: c.PlayerID, Transport: c.transport})
		}
	}
	return out
}

// CloseRoom drops a room once its game has concluded.
func (r *Registry) CloseRoom(gameID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, gameID)
}

// Rooms returns a snapshot of every live room, for operator inspection.
func (r *Registry) Rooms() []RoomSnapshot {
	r.mu.RLock()
	rooms := make([]*Room, 0, len(r.rooms))
	for _, room := range r.rooms {
		rooms = append(rooms, room)
	}
	r.mu.RUnlock()

	snaps := make([]RoomSnapshot, 0, len(rooms))
	for _, room := range rooms {
		snaps = append(snaps, room.Snapshot())
	}
	return snaps
}
