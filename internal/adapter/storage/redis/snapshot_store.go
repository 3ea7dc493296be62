package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"agent-settlement-engine/internal/core/ports"

	goredis "github.com/redis/go-redis/v9"
)

// SnapshotStore implements ports.SnapshotStore on Redis. Snapshots carry no
// TTL: an old snapshot is still valid, the tail replay catches it up.
type SnapshotStore struct {
	client *goredis.Client
	prefix string
}

// NewSnapshotStore creates a Redis-backed snapshot store.
func NewSnapshotStore(client *goredis.Client) *SnapshotStore {
	return &SnapshotStore{
		client: client,
		prefix: "snapshot:",
	}
}

// Save stores the snapshot, replacing any previous one for the aggregate.
func (s *SnapshotStore) Save(ctx context.Context, snap ports.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("marshal snapshot: %w", err)
	}
	if err := s.client.Set(ctx, s.prefix+snap.AggregateID, data, 0).Err(); err != nil {
		return fmt.Errorf("redis snapshot set: %w", err)
	}
	return nil
}

// Load retrieves the latest snapshot for an aggregate.
// Returns nil, nil if none exists.
func (s *SnapshotStore) Load(ctx context.Context, aggregateID string) (*ports.Snapshot, error) {
	data, err := s.client.Get(ctx, s.prefix+aggregateID).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis snapshot get: %w", err)
	}
	var snap ports.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("unmarshal snapshot: %w", err)
	}
	return &snap, nil
}
