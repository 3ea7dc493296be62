package memory

import (
	"context"
	"sync"
	"testing"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/pkg/apperror"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeEvents(t *testing.T, aggID string, startVersion uint64, n int) []domain.Event {
	t.Helper()
	events := make([]domain.Event, 0, n)
	for i := 0; i < n; i++ {
		evt, err := domain.NewEvent(domain.AggregateWallet, aggID, startVersion+uint64(i)+1,
			domain.EventWalletCredited, domain.WalletCreditedPayload{Amount: 100, Currency: "USD"})
		require.NoError(t, err)
		events = append(events, evt)
	}
	return events
}

func TestEventStore_AppendAndLoad(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	v, err := store.Append(ctx, "wallet:a", 0, makeEvents(t, "wallet:a", 0, 2))
	require.NoError(t, err)
	assert.Equal(t, uint64(2), v)

	v, err = store.Append(ctx, "wallet:a", 2, makeEvents(t, "wallet:a", 2, 1))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), v)

	events, err := store.Load(ctx, "wallet:a")
	require.NoError(t, err)
	assert.Len(t, events, 3)
	assert.Equal(t, uint64(1), events[0].Version)
	assert.Equal(t, uint64(3), events[2].Version)
}

func TestEventStore_VersionConflict(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()

	_, err := store.Append(ctx, "wallet:a", 0, makeEvents(t, "wallet:a", 0, 2))
	require.NoError(t, err)

	// Stale expected version.
	_, err = store.Append(ctx, "wallet:a", 1, makeEvents(t, "wallet:a", 1, 1))
	assert.True(t, apperror.IsConcurrencyConflict(err))

	// Stream unaffected by the failed append.
	events, err := store.Load(ctx, "wallet:a")
	require.NoError(t, err)
	assert.Len(t, events, 2)
}

func TestEventStore_LoadUnknownStream(t *testing.T) {
	store := NewEventStore()
	events, err := store.Load(context.Background(), "wallet:missing")
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestEventStore_LoadFrom(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	_, err := store.Append(ctx, "wallet:a", 0, makeEvents(t, "wallet:a", 0, 5))
	require.NoError(t, err)

	tail, err := store.LoadFrom(ctx, "wallet:a", 3)
	require.NoError(t, err)
	require.Len(t, tail, 2)
	assert.Equal(t, uint64(4), tail[0].Version)

	tail, err = store.LoadFrom(ctx, "wallet:a", 5)
	require.NoError(t, err)
	assert.Empty(t, tail)
}

func TestEventStore_ConcurrentAppends_OneWinner(t *testing.T) {
	ctx := context.Background()
	store := NewEventStore()
	_, err := store.Append(ctx, "wallet:a", 0, makeEvents(t, "wallet:a", 0, 1))
	require.NoError(t, err)

	const writers = 8
	var wg sync.WaitGroup
	conflicts := make(chan error, writers)
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Append(ctx, "wallet:a", 1, makeEvents(t, "wallet:a", 1, 1))
			conflicts <- err
		}()
	}
	wg.Wait()
	close(conflicts)

	var won, lost int
	for err := range conflicts {
		if err == nil {
			won++
		} else if apperror.IsConcurrencyConflict(err) {
			lost++
		}
	}
	assert.Equal(t, 1, won, "exactly one writer wins the version race")
	assert.Equal(t, writers-1, lost)
	assert.Equal(t, uint64(2), store.Version("wallet:a"))
}
