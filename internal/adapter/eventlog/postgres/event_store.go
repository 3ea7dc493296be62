package postgres

import (
	"context"
	"errors"
	"fmt"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/pkg/apperror"

	"github.com/jackc/pgx/v5/pgconn"
)

// uniqueViolation is the PostgreSQL error code for a unique constraint
// violation, raised when two writers race on the same stream version.
const uniqueViolation = "23505"

// EventStore implements ports.EventStore on an append-only events table.
type EventStore struct {
	pool Pool
}

// NewEventStore creates a PostgreSQL-backed event store.
func NewEventStore(pool Pool) *EventStore {
	return &EventStore{pool: pool}
}

// Append writes events in one transaction. The (aggregate_id, version)
// primary key rejects a concurrent append at the same versions, which maps
// to a ConcurrencyConflictError after reading the stream's actual version.
func (s *EventStore) Append(ctx context.Context, aggregateID string, expectedVersion uint64, events []domain.Event) (uint64, error) {
	if len(events) == 0 {
		return expectedVersion, nil
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin append: %w", err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck

	query := `INSERT INTO events (event_id, aggregate_id, aggregate_type, version, event_type, occurred_at, payload)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`

	for _, evt := range events {
		if _, err := tx.Exec(ctx, query,
			evt.ID, evt.AggregateID, evt.AggregateType, evt.Version,
			evt.Type, evt.OccurredAt, evt.Payload,
		); err != nil {
			var pgErr *pgconn.PgError
			if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
				actual, verErr := s.currentVersion(ctx, aggregateID)
				if verErr != nil {
					actual = 0
				}
				return 0, apperror.ErrConcurrencyConflict(aggregateID, expectedVersion, actual)
			}
			return 0, fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit append: %w", err)
	}
	return events[len(events)-1].Version, nil
}

// Load returns the full ordered event history for a stream.
func (s *EventStore) Load(ctx context.Context, aggregateID string) ([]domain.Event, error) {
	return s.loadAfter(ctx, aggregateID, 0)
}

// LoadFrom returns events with version > afterVersion, ordered ascending.
func (s *EventStore) LoadFrom(ctx context.Context, aggregateID string, afterVersion uint64) ([]domain.Event, error) {
	return s.loadAfter(ctx, aggregateID, afterVersion)
}

func (s *EventStore) loadAfter(ctx context.Context, aggregateID string, afterVersion uint64) ([]domain.Event, error) {
	query := `SELECT event_id, aggregate_id, aggregate_type, version, event_type, occurred_at, payload
		FROM events WHERE aggregate_id = $1 AND version > $2 ORDER BY version ASC`

	rows, err := s.pool.Query(ctx, query, aggregateID, afterVersion)
	if err != nil {
		return nil, fmt.Errorf("query events: %w", err)
	}
	defer rows.Close()

	var events []domain.Event
	for rows.Next() {
		var evt domain.Event
		if err := rows.Scan(
			&evt.ID, &evt.AggregateID, &evt.AggregateType, &evt.Version,
			&evt.Type, &evt.OccurredAt, &evt.Payload,
		); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

func (s *EventStore) currentVersion(ctx context.Context, aggregateID string) (uint64, error) {
	query := `SELECT COALESCE(MAX(version), 0) FROM events WHERE aggregate_id = $1`

	var version uint64
	if err := s.pool.QueryRow(ctx, query, aggregateID).Scan(&version); err != nil {
		return 0, fmt.Errorf("query stream version: %w", err)
	}
	return version, nil
}
