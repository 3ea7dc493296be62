package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// AggregateType identifies which kind of aggregate an event belongs to.
type AggregateType string

const (
	AggregateWallet      AggregateType = "wallet"
	AggregateEscrow      AggregateType = "escrow"
	AggregateTransaction AggregateType = "transaction"
	AggregateReputation  AggregateType = "reputation"
)

// EventType identifies the kind of domain event.
type EventType string

// Wallet events.
const (
	EventWalletCredited       EventType = "wallet.credited"
	EventWalletHeld           EventType = "wallet.held"
	EventWalletHoldReleased   EventType = "wallet.hold_released"
	EventWalletSettleDebit    EventType = "wallet.settle_debit"
	EventWalletSettleCredit   EventType = "wallet.settle_credit"
	EventWalletSettleReversed EventType = "wallet.settle_reversed"
)

// Escrow events.
const (
	EventEscrowCreated      EventType = "escrow.created"
	EventEscrowDeposited    EventType = "escrow.deposited"
	EventEscrowConditionMet EventType = "escrow.condition_met"
	EventEscrowReleased     EventType = "escrow.released"
	EventEscrowDisputed     EventType = "escrow.disputed"
	EventEscrowResolved     EventType = "escrow.resolved"
	EventEscrowExpired      EventType = "escrow.expired"
	EventEscrowCancelled    EventType = "escrow.cancelled"
)

// Transaction events.
const (
	EventTransactionInitiated  EventType = "transaction.initiated"
	EventTransactionValidated  EventType = "transaction.validated"
	EventTransactionProcessing EventType = "transaction.processing"
	EventTransactionCompleted  EventType = "transaction.completed"
	EventTransactionFailed     EventType = "transaction.failed"
	EventTransactionCancelled  EventType = "transaction.cancelled"
)

// Reputation events.
const (
	EventReputationRecorded EventType = "reputation.recorded"
)

// Event is one immutable entry in an aggregate's ordered event log.
// Version is assigned by the aggregate when the event is recorded and starts
// at 1. State is derived solely from replaying events in version order.
type Event struct {
	ID            uuid.UUID     `json:"id"`
	AggregateID   string        `json:"aggregate_id"`
	AggregateType AggregateType `json:"aggregate_type"`
	Version       uint64        `json:"version"`
	Type          EventType     `json:"type"`
	OccurredAt    time.Time     `json:"occurred_at"`
	Payload       []byte        `json:"payload"`
}

// NewEvent builds an event envelope with a JSON-encoded payload.
func NewEvent(aggType AggregateType, aggID string, version uint64, eventType EventType, payload any) (Event, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
	}
	return Event{
		ID:            uuid.New(),
		AggregateID:   aggID,
		AggregateType: aggType,
		Version:       version,
		Type:          eventType,
		OccurredAt:    time.Now().UTC(),
		Payload:       data,
	}, nil
}

// DecodePayload unmarshals the event payload into dst.
func (e Event) DecodePayload(dst any) error {
	if err := json.Unmarshal(e.Payload, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}

// Stream id helpers. All aggregate types share one event log, so stream ids
// are namespaced by aggregate type.

// WalletStreamID returns the event stream id for an agent's wallet.
func WalletStreamID(agentID string) string { return "wallet:" + agentID }

// EscrowStreamID returns the event stream id for an escrow.
func EscrowStreamID(escrowID string) string { return "escrow:" + escrowID }

// TransactionStreamID returns the event stream id for a transaction.
func TransactionStreamID(transactionID string) string { return "transaction:" + transactionID }

// ReputationStreamID returns the event stream id for an agent's reputation record.
func ReputationStreamID(agentID string) string { return "reputation:" + agentID }
