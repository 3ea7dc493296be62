package service

import (
	"context"
	"fmt"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/pkg/apperror"

	"github.com/rs/zerolog"
)

// ReputationEngine maintains per-agent trust scores from transaction
// outcomes. Agents without history read as a default record at the initial
// score, so trust evaluation never needs a registration step.
type ReputationEngine struct {
	events  ports.EventStore
	weights domain.ReputationWeights
	log     zerolog.Logger
}

// NewReputationEngine creates a ReputationEngine.
func NewReputationEngine(events ports.EventStore, weights domain.ReputationWeights, log zerolog.Logger) *ReputationEngine {
	return &ReputationEngine{events: events, weights: weights, log: log}
}

// Get returns the agent's reputation record, defaulting to the initial
// score for agents with no recorded outcomes.
func (e *ReputationEngine) Get(ctx context.Context, agentID string) (*domain.ReputationRecord, error) {
	return e.load(ctx, agentID)
}

// RecordTransaction records one transaction outcome against an agent's
// score. Recording the same transaction twice is a no-op.
func (e *ReputationEngine) RecordTransaction(ctx context.Context, agentID, transactionID string, outcome domain.Outcome, value int64, metadata map[string]string) (*domain.ReputationRecord, error) {
	var out *domain.ReputationRecord
	err := withConflictRetry(func() error {
		r, err := e.load(ctx, agentID)
		if err != nil {
			return err
		}
		if err := r.RecordOutcome(transactionID, outcome, value, e.weights, metadata); err != nil {
			return err
		}
		pending := r.Pending()
		if len(pending) > 0 {
			newVersion, err := e.events.Append(ctx, domain.ReputationStreamID(agentID), r.Version, pending)
			if err != nil {
				return err
			}
			r.MarkCommitted(newVersion)
		}
		out = r
		return nil
	})
	if err != nil {
		return nil, err
	}
	e.log.Debug().
		Str("agent_id", agentID).
		Str("transaction_id", transactionID).
		Str("outcome", string(outcome)).
		Float64("score", out.Score).
		Msg("reputation outcome recorded")
	return out, nil
}

// EvaluateTrust combines two agents' scores into a risk policy.
func (e *ReputationEngine) EvaluateTrust(ctx context.Context, agentA, agentB string) (domain.TrustPolicy, error) {
	ra, err := e.load(ctx, agentA)
	if err != nil {
		return domain.TrustPolicy{}, err
	}
	rb, err := e.load(ctx, agentB)
	if err != nil {
		return domain.TrustPolicy{}, err
	}
	return domain.EvaluateTrust(ra.Score, rb.Score), nil
}

func (e *ReputationEngine) load(ctx context.Context, agentID string) (*domain.ReputationRecord, error) {
	history, err := e.events.Load(ctx, domain.ReputationStreamID(agentID))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load reputation history: %w", err))
	}
	r, err := domain.NewReputationFromHistory(agentID, history)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return r, nil
}
