package ports

import (
	"context"

	"agent-settlement-engine/internal/core/domain"
)

// EventStore is the append-only event log every aggregate persists to.
// Append must be atomic per stream: either every event is written at
// contiguous versions after expectedVersion, or none are and a
// ConcurrencyConflictError is returned.
type EventStore interface {
	// Append writes events after expectedVersion and returns the new stream
	// version. expectedVersion 0 means the stream must not exist yet.
	Append(ctx context.Context, aggregateID string, expectedVersion uint64, events []domain.Event) (uint64, error)
	// Load returns the full ordered event history for a stream. An unknown
	// stream returns an empty slice, not an error.
	Load(ctx context.Context, aggregateID string) ([]domain.Event, error)
	// LoadFrom returns events with version > afterVersion, ordered ascending.
	LoadFrom(ctx context.Context, aggregateID string, afterVersion uint64) ([]domain.Event, error)
}

// Snapshot is a serialized aggregate state at a known version. Snapshots
// accelerate replay without changing its semantics.
type Snapshot struct {
	AggregateID string
	State       []byte
	Version     uint64
}

// SnapshotStore caches aggregate snapshots. Best-effort: losing a snapshot
// only costs a longer replay.
type SnapshotStore interface {
	Save(ctx context.Context, snap Snapshot) error
	// Load returns nil, nil when no snapshot exists.
	Load(ctx context.Context, aggregateID string) (*Snapshot, error)
}
