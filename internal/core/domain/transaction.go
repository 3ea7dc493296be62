package domain

import (
	"encoding/json"
	"fmt"

	"agent-settlement-engine/pkg/apperror"
)

// TransactionType distinguishes direct settlement from escrow-backed payments.
type TransactionType string

const (
	TransactionTypeDirect TransactionType = "direct"
	TransactionTypeEscrow TransactionType = "escrow"
)

// TransactionStatus is the lifecycle state of a transaction.
//
// initiated -> validated -> processing -> {completed, failed, cancelled}
type TransactionStatus string

const (
	TransactionStatusInitiated  TransactionStatus = "initiated"
	TransactionStatusValidated  TransactionStatus = "validated"
	TransactionStatusProcessing TransactionStatus = "processing"
	TransactionStatusCompleted  TransactionStatus = "completed"
	TransactionStatusFailed     TransactionStatus = "failed"
	TransactionStatusCancelled  TransactionStatus = "cancelled"
)

// Transaction is a payment between two agents, either settled directly or
// backed by an escrow. Amounts are minor units; HoldAmount = Amount + Fee is
// what the orchestrator holds in the sender's wallet at initiation.
type Transaction struct {
	TransactionID string            `json:"transaction_id"`
	FromAgentID   string            `json:"from_agent_id"`
	ToAgentID     string            `json:"to_agent_id"`
	Amount        int64             `json:"amount"`
	Currency      string            `json:"currency"`
	Type          TransactionType   `json:"type"`
	Status        TransactionStatus `json:"status"`
	Fee           int64             `json:"fee"`
	EscrowID      string            `json:"escrow_id,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`

	Version uint64 `json:"version"`

	pending []Event
}

// Transaction event payloads.

type TransactionInitiatedPayload struct {
	FromAgentID string            `json:"from_agent_id"`
	ToAgentID   string            `json:"to_agent_id"`
	Amount      int64             `json:"amount"`
	Currency    string            `json:"currency"`
	Type        TransactionType   `json:"type"`
	Fee         int64             `json:"fee"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

type TransactionValidatedPayload struct {
	Flags []string `json:"flags,omitempty"`
}

type TransactionProcessingPayload struct {
	EscrowID string `json:"escrow_id,omitempty"`
}

type TransactionCompletedPayload struct {
	Metadata map[string]string `json:"metadata,omitempty"`
}

type TransactionFailedPayload struct {
	Reason   string            `json:"reason"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

type TransactionCancelledPayload struct {
	Reason string `json:"reason,omitempty"`
}

// NewTransaction creates a transaction in the initiated state.
func NewTransaction(transactionID, from, to string, amount int64, currency string, txType TransactionType, fee int64, metadata map[string]string) (*Transaction, error) {
	if transactionID == "" || from == "" || to == "" {
		return nil, apperror.Validation("transaction id, sender and receiver are required")
	}
	if from == to {
		return nil, apperror.Validation("sender and receiver must differ")
	}
	if amount <= 0 {
		return nil, apperror.Validation("transaction amount must be positive")
	}
	switch txType {
	case TransactionTypeDirect, TransactionTypeEscrow:
	default:
		return nil, apperror.Validation(fmt.Sprintf("unknown transaction type %q", txType))
	}

	t := &Transaction{TransactionID: transactionID}
	err := t.record(EventTransactionInitiated, TransactionInitiatedPayload{
		FromAgentID: from,
		ToAgentID:   to,
		Amount:      amount,
		Currency:    currency,
		Type:        txType,
		Fee:         fee,
		Metadata:    metadata,
	})
	if err != nil {
		return nil, err
	}
	return t, nil
}

// NewTransactionFromHistory rebuilds a transaction by replaying its events.
func NewTransactionFromHistory(transactionID string, events []Event) (*Transaction, error) {
	t := &Transaction{TransactionID: transactionID}
	for _, evt := range events {
		if err := t.Apply(evt); err != nil {
			return nil, err
		}
		t.Version = evt.Version
	}
	return t, nil
}

// RehydrateTransaction restores a transaction from a snapshot plus the event tail.
func RehydrateTransaction(state []byte, tail []Event) (*Transaction, error) {
	t := &Transaction{}
	if err := json.Unmarshal(state, t); err != nil {
		return nil, fmt.Errorf("unmarshal transaction snapshot: %w", err)
	}
	for _, evt := range tail {
		if err := t.Apply(evt); err != nil {
			return nil, err
		}
		t.Version = evt.Version
	}
	return t, nil
}

// Snapshot serializes the transaction state for the snapshot store.
func (t *Transaction) Snapshot() ([]byte, error) {
	return json.Marshal(t)
}

// HoldAmount is the total held in the sender's wallet for this transaction.
func (t *Transaction) HoldAmount() int64 {
	return t.Amount + t.Fee
}

// IsTerminal reports whether the transaction is in a final state.
func (t *Transaction) IsTerminal() bool {
	switch t.Status {
	case TransactionStatusCompleted, TransactionStatusFailed, TransactionStatusCancelled:
		return true
	}
	return false
}

// --- Commands ---

// MarkValidated records a passed compliance check.
func (t *Transaction) MarkValidated(flags []string) error {
	if t.Status != TransactionStatusInitiated {
		return apperror.StateConflict(fmt.Sprintf("cannot validate transaction in status %s", t.Status))
	}
	return t.record(EventTransactionValidated, TransactionValidatedPayload{Flags: flags})
}

// MarkProcessing moves a validated transaction into processing, optionally
// linking the backing escrow.
func (t *Transaction) MarkProcessing(escrowID string) error {
	if t.Status != TransactionStatusValidated {
		return apperror.StateConflict(fmt.Sprintf("cannot start processing transaction in status %s", t.Status))
	}
	return t.record(EventTransactionProcessing, TransactionProcessingPayload{EscrowID: escrowID})
}

// Complete records the successful terminal state.
func (t *Transaction) Complete(metadata map[string]string) error {
	if t.Status != TransactionStatusProcessing {
		return apperror.StateConflict(fmt.Sprintf("cannot complete transaction in status %s", t.Status))
	}
	return t.record(EventTransactionCompleted, TransactionCompletedPayload{Metadata: metadata})
}

// Fail records the failed terminal state.
func (t *Transaction) Fail(reason string, metadata map[string]string) error {
	if t.IsTerminal() {
		return apperror.StateConflict(fmt.Sprintf("cannot fail transaction in status %s", t.Status))
	}
	return t.record(EventTransactionFailed, TransactionFailedPayload{Reason: reason, Metadata: metadata})
}

// Cancel aborts a transaction before it starts processing.
func (t *Transaction) Cancel(reason string) error {
	switch t.Status {
	case TransactionStatusInitiated, TransactionStatusValidated:
	default:
		return apperror.StateConflict(fmt.Sprintf("cannot cancel transaction in status %s", t.Status))
	}
	return t.record(EventTransactionCancelled, TransactionCancelledPayload{Reason: reason})
}

// --- Event sourcing plumbing ---

func (t *Transaction) record(eventType EventType, payload any) error {
	version := t.Version + uint64(len(t.pending)) + 1
	evt, err := NewEvent(AggregateTransaction, TransactionStreamID(t.TransactionID), version, eventType, payload)
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := t.Apply(evt); err != nil {
		return err
	}
	t.pending = append(t.pending, evt)
	return nil
}

// Apply folds one event into the transaction state.
func (t *Transaction) Apply(evt Event) error {
	switch evt.Type {
	case EventTransactionInitiated:
		var p TransactionInitiatedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		t.FromAgentID = p.FromAgentID
		t.ToAgentID = p.ToAgentID
		t.Amount = p.Amount
		t.Currency = p.Currency
		t.Type = p.Type
		t.Fee = p.Fee
		t.Metadata = p.Metadata
		t.Status = TransactionStatusInitiated
	case EventTransactionValidated:
		t.Status = TransactionStatusValidated
	case EventTransactionProcessing:
		var p TransactionProcessingPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		t.EscrowID = p.EscrowID
		t.Status = TransactionStatusProcessing
	case EventTransactionCompleted:
		var p TransactionCompletedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		mergeMetadata(&t.Metadata, p.Metadata)
		t.Status = TransactionStatusCompleted
	case EventTransactionFailed:
		var p TransactionFailedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		mergeMetadata(&t.Metadata, p.Metadata)
		t.FailureReason = p.Reason
		t.Status = TransactionStatusFailed
	case EventTransactionCancelled:
		t.Status = TransactionStatusCancelled
	default:
		return fmt.Errorf("transaction: unknown event type %q", evt.Type)
	}
	return nil
}

func mergeMetadata(dst *map[string]string, src map[string]string) {
	if len(src) == 0 {
		return
	}
	if *dst == nil {
		*dst = make(map[string]string, len(src))
	}
	for k, v := range src {
		(*dst)[k] = v
	}
}

// Pending returns events recorded since the last persist.
func (t *Transaction) Pending() []Event {
	return t.pending
}

// MarkCommitted clears pending events after a successful append.
func (t *Transaction) MarkCommitted(newVersion uint64) {
	t.Version = newVersion
	t.pending = nil
}
