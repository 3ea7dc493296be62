package service

import (
	"context"
	"testing"

	"agent-settlement-engine/internal/adapter/eventlog/memory"
	"agent-settlement-engine/internal/core/domain"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestReputation() *ReputationEngine {
	return NewReputationEngine(memory.NewEventStore(), domain.DefaultReputationWeights(), zerolog.Nop())
}

func TestReputationEngine_GetUnknownAgent(t *testing.T) {
	eng := newTestReputation()

	r, err := eng.Get(context.Background(), "newcomer")
	require.NoError(t, err)
	assert.Equal(t, domain.InitialScore, r.Score)
	assert.Equal(t, int64(0), r.TotalTransactions)
}

func TestReputationEngine_RecordSuccess(t *testing.T) {
	eng := newTestReputation()
	ctx := context.Background()

	r, err := eng.RecordTransaction(ctx, "agent-a", "tx-1", domain.OutcomeSuccess, 1000, nil)
	require.NoError(t, err)
	assert.Greater(t, r.Score, domain.InitialScore)
	assert.Equal(t, int64(1), r.TotalTransactions)
	assert.Equal(t, int64(1), r.SuccessfulTransactions)
}

func TestReputationEngine_RecordIdempotent(t *testing.T) {
	eng := newTestReputation()
	ctx := context.Background()

	first, err := eng.RecordTransaction(ctx, "agent-a", "tx-1", domain.OutcomeSuccess, 1000, nil)
	require.NoError(t, err)
	again, err := eng.RecordTransaction(ctx, "agent-a", "tx-1", domain.OutcomeSuccess, 1000, nil)
	require.NoError(t, err)

	assert.Equal(t, first.Score, again.Score)
	assert.Equal(t, int64(1), again.TotalTransactions)
}

func TestReputationEngine_FailuresWeighHeavier(t *testing.T) {
	eng := newTestReputation()
	ctx := context.Background()

	// Value kept small enough that neither delta hits the cap.
	up, err := eng.RecordTransaction(ctx, "winner", "tx-1", domain.OutcomeSuccess, 100, nil)
	require.NoError(t, err)
	down, err := eng.RecordTransaction(ctx, "loser", "tx-2", domain.OutcomeFailed, 100, nil)
	require.NoError(t, err)

	gain := up.Score - domain.InitialScore
	loss := domain.InitialScore - down.Score
	assert.InDelta(t, 2*gain, loss, 0.0001)
}

func TestReputationEngine_SurvivesReload(t *testing.T) {
	store := memory.NewEventStore()
	eng := NewReputationEngine(store, domain.DefaultReputationWeights(), zerolog.Nop())
	ctx := context.Background()

	recorded, err := eng.RecordTransaction(ctx, "agent-a", "tx-1", domain.OutcomeDisputed, 5000, nil)
	require.NoError(t, err)

	fresh := NewReputationEngine(store, domain.DefaultReputationWeights(), zerolog.Nop())
	replayed, err := fresh.Get(ctx, "agent-a")
	require.NoError(t, err)

	assert.Equal(t, recorded.Score, replayed.Score)
	assert.Equal(t, int64(1), replayed.DisputedTransactions)
}

func TestReputationEngine_EvaluateTrust(t *testing.T) {
	eng := newTestReputation()
	ctx := context.Background()

	// Two unknown agents sit at the initial score: combined 50.
	policy, err := eng.EvaluateTrust(ctx, "a", "b")
	require.NoError(t, err)
	assert.InDelta(t, 50.0, policy.CombinedScore, 0.0001)
	assert.True(t, policy.RequireEscrow)
	assert.False(t, policy.InstantSettlement)
	assert.Equal(t, int64(100_000), policy.MaxAmount)
	assert.False(t, policy.ManualReview)
}
