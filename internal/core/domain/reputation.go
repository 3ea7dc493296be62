package domain

import (
	"encoding/json"
	"fmt"
	"math"

	"agent-settlement-engine/pkg/apperror"
)

// Outcome classifies how a transaction ended for reputation purposes.
type Outcome string

const (
	OutcomeSuccess   Outcome = "success"
	OutcomeFailed    Outcome = "failed"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeTimeout   Outcome = "timeout"
	OutcomeDisputed  Outcome = "disputed"
)

// InitialScore is the score every agent starts with.
const InitialScore = 50.0

// ReputationWeights scale the score delta per outcome. Negative outcomes
// carry heavier weights than success so trust is lost faster than it is
// earned.
type ReputationWeights struct {
	Success float64
	Failure float64
	Dispute float64
	Timeout float64
	// MaxDelta caps the magnitude of any single adjustment.
	MaxDelta float64
}

// DefaultReputationWeights returns the standard asymmetric weighting.
func DefaultReputationWeights() ReputationWeights {
	return ReputationWeights{
		Success:  1.0,
		Failure:  2.0,
		Dispute:  3.0,
		Timeout:  2.0,
		MaxDelta: 10.0,
	}
}

// ReputationRecord is an agent's trust score plus outcome counters. Created
// lazily on first feedback; never deleted. Score stays within [0, 100].
type ReputationRecord struct {
	AgentID                string  `json:"agent_id"`
	Score                  float64 `json:"score"`
	TotalTransactions      int64   `json:"total_transactions"`
	SuccessfulTransactions int64   `json:"successful_transactions"`
	FailedTransactions     int64   `json:"failed_transactions"`
	DisputedTransactions   int64   `json:"disputed_transactions"`

	// RecordedTransactions makes feedback idempotent per transaction id.
	RecordedTransactions map[string]bool `json:"recorded_transactions,omitempty"`

	Version uint64 `json:"version"`

	pending []Event
}

// ReputationRecordedPayload captures one transaction outcome. Delta is
// computed at record time so replay does not depend on the weight
// configuration active when replaying.
type ReputationRecordedPayload struct {
	TransactionID string            `json:"transaction_id"`
	Outcome       Outcome           `json:"outcome"`
	Value         int64             `json:"value"`
	Delta         float64           `json:"delta"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// NewReputationRecord returns an empty record for an agent at the initial score.
func NewReputationRecord(agentID string) *ReputationRecord {
	return &ReputationRecord{AgentID: agentID, Score: InitialScore}
}

// NewReputationFromHistory rebuilds a record by replaying its event history.
func NewReputationFromHistory(agentID string, events []Event) (*ReputationRecord, error) {
	r := NewReputationRecord(agentID)
	for _, evt := range events {
		if err := r.Apply(evt); err != nil {
			return nil, err
		}
		r.Version = evt.Version
	}
	return r, nil
}

// RehydrateReputation restores a record from a snapshot plus the event tail.
func RehydrateReputation(state []byte, tail []Event) (*ReputationRecord, error) {
	r := &ReputationRecord{}
	if err := json.Unmarshal(state, r); err != nil {
		return nil, fmt.Errorf("unmarshal reputation snapshot: %w", err)
	}
	for _, evt := range tail {
		if err := r.Apply(evt); err != nil {
			return nil, err
		}
		r.Version = evt.Version
	}
	return r, nil
}

// Snapshot serializes the record for the snapshot store.
func (r *ReputationRecord) Snapshot() ([]byte, error) {
	return json.Marshal(r)
}

// ScoreDelta computes the signed score adjustment for an outcome. Magnitude
// scales with log(value+1) and is capped at MaxDelta. Cancelled outcomes
// count toward totals but do not move the score.
func ScoreDelta(outcome Outcome, value int64, w ReputationWeights) (float64, error) {
	if value < 0 {
		return 0, apperror.Validation("outcome value must not be negative")
	}
	magnitude := math.Log(float64(value) + 1)

	var delta float64
	switch outcome {
	case OutcomeSuccess:
		delta = w.Success * magnitude
	case OutcomeFailed:
		delta = -w.Failure * magnitude
	case OutcomeDisputed:
		delta = -w.Dispute * magnitude
	case OutcomeTimeout:
		delta = -w.Timeout * magnitude
	case OutcomeCancelled:
		delta = 0
	default:
		return 0, apperror.Validation(fmt.Sprintf("unknown outcome %q", outcome))
	}

	if delta > w.MaxDelta {
		delta = w.MaxDelta
	}
	if delta < -w.MaxDelta {
		delta = -w.MaxDelta
	}
	return delta, nil
}

// RecordOutcome applies one transaction outcome to the score. Idempotent per
// transactionID: recording the same transaction twice is a no-op.
func (r *ReputationRecord) RecordOutcome(transactionID string, outcome Outcome, value int64, w ReputationWeights, metadata map[string]string) error {
	if transactionID == "" {
		return apperror.Validation("transaction id is required")
	}
	if r.RecordedTransactions[transactionID] {
		return nil
	}
	delta, err := ScoreDelta(outcome, value, w)
	if err != nil {
		return err
	}
	return r.record(EventReputationRecorded, ReputationRecordedPayload{
		TransactionID: transactionID,
		Outcome:       outcome,
		Value:         value,
		Delta:         delta,
		Metadata:      metadata,
	})
}

// --- Event sourcing plumbing ---

func (r *ReputationRecord) record(eventType EventType, payload any) error {
	version := r.Version + uint64(len(r.pending)) + 1
	evt, err := NewEvent(AggregateReputation, ReputationStreamID(r.AgentID), version, eventType, payload)
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := r.Apply(evt); err != nil {
		return err
	}
	r.pending = append(r.pending, evt)
	return nil
}

// Apply folds one event into the reputation state.
func (r *ReputationRecord) Apply(evt Event) error {
	switch evt.Type {
	case EventReputationRecorded:
		var p ReputationRecordedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		if r.RecordedTransactions == nil {
			r.RecordedTransactions = make(map[string]bool)
		}
		r.RecordedTransactions[p.TransactionID] = true
		r.TotalTransactions++
		switch p.Outcome {
		case OutcomeSuccess:
			r.SuccessfulTransactions++
		case OutcomeFailed, OutcomeTimeout, OutcomeCancelled:
			r.FailedTransactions++
		case OutcomeDisputed:
			r.DisputedTransactions++
		}
		r.Score = clampScore(r.Score + p.Delta)
	default:
		return fmt.Errorf("reputation: unknown event type %q", evt.Type)
	}
	return nil
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 100 {
		return 100
	}
	return s
}

// Pending returns events recorded since the last persist.
func (r *ReputationRecord) Pending() []Event {
	return r.pending
}

// MarkCommitted clears pending events after a successful append.
func (r *ReputationRecord) MarkCommitted(newVersion uint64) {
	r.Version = newVersion
	r.pending = nil
}

// --- Trust levels & risk policy ---

// TrustLevel is a discrete band derived from a continuous score.
type TrustLevel string

const (
	TrustLevelTrusted   TrustLevel = "trusted"
	TrustLevelHigh      TrustLevel = "high"
	TrustLevelNeutral   TrustLevel = "neutral"
	TrustLevelLow       TrustLevel = "low"
	TrustLevelUntrusted TrustLevel = "untrusted"
)

// TrustLevelFor maps a score to its band.
func TrustLevelFor(score float64) TrustLevel {
	switch {
	case score >= 80:
		return TrustLevelTrusted
	case score >= 60:
		return TrustLevelHigh
	case score >= 40:
		return TrustLevelNeutral
	case score >= 20:
		return TrustLevelLow
	default:
		return TrustLevelUntrusted
	}
}

// TrustPolicy is the risk policy for a prospective transaction between two
// agents. MaxAmount is in minor units.
type TrustPolicy struct {
	CombinedScore     float64 `json:"combined_score"`
	RequireEscrow     bool    `json:"require_escrow"`
	InstantSettlement bool    `json:"instant_settlement"`
	MaxAmount         int64   `json:"max_amount"`
	ManualReview      bool    `json:"manual_review"`
}

// EvaluateTrust combines two agents' scores into the policy consulted before
// high-value transactions.
func EvaluateTrust(scoreA, scoreB float64) TrustPolicy {
	combined := (scoreA + scoreB) / 2
	switch {
	case combined >= 80:
		return TrustPolicy{CombinedScore: combined, RequireEscrow: false, InstantSettlement: true, MaxAmount: 10_000_000}
	case combined >= 60:
		return TrustPolicy{CombinedScore: combined, RequireEscrow: true, MaxAmount: 1_000_000}
	case combined >= 40:
		return TrustPolicy{CombinedScore: combined, RequireEscrow: true, MaxAmount: 100_000}
	default:
		return TrustPolicy{CombinedScore: combined, RequireEscrow: true, MaxAmount: 10_000, ManualReview: true}
	}
}
