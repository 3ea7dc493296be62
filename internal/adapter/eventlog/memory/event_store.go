// Package memory provides an in-process event log used by tests and the
// dev server mode. Semantics match the postgres store: atomic per-stream
// appends guarded by expected version.
package memory

import (
	"context"
	"sync"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/pkg/apperror"
)

// EventStore implements ports.EventStore on in-process maps.
type EventStore struct {
	mu      sync.RWMutex
	streams map[string][]domain.Event
}

// NewEventStore creates an empty in-memory event store.
func NewEventStore() *EventStore {
	return &EventStore{streams: make(map[string][]domain.Event)}
}

// Append writes events after expectedVersion, or fails with a concurrency
// conflict if the stream has moved.
func (s *EventStore) Append(_ context.Context, aggregateID string, expectedVersion uint64, events []domain.Event) (uint64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	current := uint64(len(s.streams[aggregateID]))
	if current != expectedVersion {
		return 0, apperror.ErrConcurrencyConflict(aggregateID, expectedVersion, current)
	}
	s.streams[aggregateID] = append(s.streams[aggregateID], events...)
	return current + uint64(len(events)), nil
}

// Load returns the full history of a stream.
func (s *EventStore) Load(_ context.Context, aggregateID string) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	out := make([]domain.Event, len(stream))
	copy(out, stream)
	return out, nil
}

// LoadFrom returns events with version > afterVersion.
func (s *EventStore) LoadFrom(_ context.Context, aggregateID string, afterVersion uint64) ([]domain.Event, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stream := s.streams[aggregateID]
	if afterVersion >= uint64(len(stream)) {
		return nil, nil
	}
	tail := stream[afterVersion:]
	out := make([]domain.Event, len(tail))
	copy(out, tail)
	return out, nil
}

// Version reports the current version of a stream (0 when absent).
func (s *EventStore) Version(aggregateID string) uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return uint64(len(s.streams[aggregateID]))
}
