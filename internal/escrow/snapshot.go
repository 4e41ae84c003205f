package escrow

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// SnapshotStore persists room orchestration state to Redis so operators can
// inspect and recover rooms out of process.
type SnapshotStore struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSnapshotStore(rdb *redis.Client) *SnapshotStore {
	return &SnapshotStore{rdb: rdb, ttl: 24 * time.Hour}
}

func snapshotKey(gameID string) string {
	return "room:" + gameID
}

// Save writes the room snapshot, replacing any previous one.
func (s *SnapshotStore) Save(ctx context.Context, snap RoomSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal room snapshot: %w", err)
	}
	return s.rdb.Set(ctx, snapshotKey(snap.GameID), data, s.ttl).Err()
}

// Load reads a room snapshot; returns redis.Nil wrapped when absent.
func (s *SnapshotStore) Load(ctx context.Context, gameID string) (*RoomSnapshot, error) {
	data, err := s.rdb.Get(ctx, snapshotKey(gameID)).Result()
	if err != nil {
		return nil, fmt.Errorf("load room snapshot %s: %w", gameID, err)
	}

	var snap RoomSnapshot
	if err := json.Unmarshal([]byte(data), &snap); err != nil {
		return nil, fmt.Errorf("decode room snapshot %s: %w", gameID, err)
	}
	return &snap, nil
}

// Delete removes the snapshot once a room is closed.
func (s *SnapshotStore) Delete(ctx context.Context, gameID string) error {
	return s.rdb.Del(ctx, snapshotKey(gameID)).Err()
}
