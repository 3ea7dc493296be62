package domain

import (
	"encoding/json"
	"fmt"
	"time"

	"agent-settlement-engine/pkg/apperror"
)

// EscrowStatus is the lifecycle state of an escrow.
//
// created -> {partially_funded, funded} -> {released, disputed, expired, cancelled}
// disputed -> resolved -> released
//
// Terminal states: released, expired, cancelled. resolved admits one payout
// release and is otherwise immutable.
type EscrowStatus string

const (
	EscrowStatusCreated         EscrowStatus = "created"
	EscrowStatusPartiallyFunded EscrowStatus = "partially_funded"
	EscrowStatusFunded          EscrowStatus = "funded"
	EscrowStatusReleased        EscrowStatus = "released"
	EscrowStatusDisputed        EscrowStatus = "disputed"
	EscrowStatusResolved        EscrowStatus = "resolved"
	EscrowStatusExpired         EscrowStatus = "expired"
	EscrowStatusCancelled       EscrowStatus = "cancelled"
)

// ResolutionType describes how a disputed escrow was settled.
type ResolutionType string

const (
	ResolutionReleaseToReceiver ResolutionType = "release_to_receiver"
	ResolutionReturnToSender    ResolutionType = "return_to_sender"
	ResolutionSplit             ResolutionType = "split"
)

// Allocation divides the funded amount between sender and receiver.
type Allocation struct {
	SenderAmount   int64 `json:"sender_amount"`
	ReceiverAmount int64 `json:"receiver_amount"`
}

// NewAllocation validates that the two parts are non-negative and sum to
// fundedAmount. Malformed allocations are rejected before any event is appended.
func NewAllocation(senderAmount, receiverAmount, fundedAmount int64) (Allocation, error) {
	if senderAmount < 0 || receiverAmount < 0 {
		return Allocation{}, apperror.Validation("allocation amounts must not be negative")
	}
	if senderAmount+receiverAmount != fundedAmount {
		return Allocation{}, apperror.Validation(fmt.Sprintf(
			"allocation %d+%d does not sum to funded amount %d", senderAmount, receiverAmount, fundedAmount))
	}
	return Allocation{SenderAmount: senderAmount, ReceiverAmount: receiverAmount}, nil
}

// Escrow is a conditional fund hold between two agents. Funds counted in
// FundedAmount stay held in the sender's wallet until release, resolution or
// expiry moves them. FundedAmount never exceeds Amount.
type Escrow struct {
	EscrowID        string          `json:"escrow_id"`
	TransactionID   string          `json:"transaction_id"`
	SenderAgentID   string          `json:"sender_agent_id"`
	ReceiverAgentID string          `json:"receiver_agent_id"`
	Amount          int64           `json:"amount"`
	FundedAmount    int64           `json:"funded_amount"`
	Currency        string          `json:"currency"`
	Conditions      map[string]bool `json:"conditions,omitempty"`
	Status          EscrowStatus    `json:"status"`
	ExpiresAt       time.Time       `json:"expires_at"`

	ReleasedBy string     `json:"released_by,omitempty"`
	ReleasedAt *time.Time `json:"released_at,omitempty"`

	DisputedBy      string `json:"disputed_by,omitempty"`
	DisputeReason   string `json:"dispute_reason,omitempty"`
	DisputeEvidence string `json:"dispute_evidence,omitempty"`

	ResolutionType       ResolutionType `json:"resolution_type,omitempty"`
	ResolutionAllocation *Allocation    `json:"resolution_allocation,omitempty"`

	// AppliedDeposits makes deposits idempotent per deposit id.
	AppliedDeposits map[string]bool `json:"applied_deposits,omitempty"`

	Version uint64 `json:"version"`

	pending []Event
}

// Escrow event payloads.

type EscrowCreatedPayload struct {
	TransactionID   string          `json:"transaction_id"`
	SenderAgentID   string          `json:"sender_agent_id"`
	ReceiverAgentID string          `json:"receiver_agent_id"`
	Amount          int64           `json:"amount"`
	Currency        string          `json:"currency"`
	Conditions      map[string]bool `json:"conditions,omitempty"`
	ExpiresAt       time.Time       `json:"expires_at"`
}

type EscrowDepositedPayload struct {
	DepositID string `json:"deposit_id"`
	Depositor string `json:"depositor"`
	Amount    int64  `json:"amount"`
}

type EscrowConditionMetPayload struct {
	Condition string `json:"condition"`
	MetBy     string `json:"met_by,omitempty"`
}

type EscrowReleasedPayload struct {
	ReleasedBy string `json:"released_by"`
	Reason     string `json:"reason,omitempty"`
	Override   bool   `json:"override,omitempty"`
}

type EscrowDisputedPayload struct {
	DisputedBy string `json:"disputed_by"`
	Reason     string `json:"reason"`
	Evidence   string `json:"evidence,omitempty"`
}

type EscrowResolvedPayload struct {
	ResolvedBy string         `json:"resolved_by"`
	Type       ResolutionType `json:"type"`
	Allocation Allocation     `json:"allocation"`
}

type EscrowExpiredPayload struct {
	ExpiredAt      time.Time `json:"expired_at"`
	ReturnedAmount int64     `json:"returned_amount"`
}

type EscrowCancelledPayload struct {
	CancelledBy string `json:"cancelled_by"`
	Reason      string `json:"reason,omitempty"`
}

// CreateEscrowParams carries the inputs for NewEscrow.
type CreateEscrowParams struct {
	EscrowID        string
	TransactionID   string
	SenderAgentID   string
	ReceiverAgentID string
	Amount          int64
	Currency        string
	Conditions      map[string]bool
	ExpiresAt       time.Time
	Now             time.Time
}

// NewEscrow creates an escrow in the created state with no funds.
func NewEscrow(p CreateEscrowParams) (*Escrow, error) {
	if p.EscrowID == "" || p.SenderAgentID == "" || p.ReceiverAgentID == "" {
		return nil, apperror.Validation("escrow id, sender and receiver are required")
	}
	if p.SenderAgentID == p.ReceiverAgentID {
		return nil, apperror.Validation("sender and receiver must differ")
	}
	if p.Amount <= 0 {
		return nil, apperror.Validation("escrow amount must be positive")
	}
	if !p.ExpiresAt.After(p.Now) {
		return nil, apperror.Validation("escrow expiry must be in the future")
	}

	e := &Escrow{EscrowID: p.EscrowID}
	err := e.record(EventEscrowCreated, EscrowCreatedPayload{
		TransactionID:   p.TransactionID,
		SenderAgentID:   p.SenderAgentID,
		ReceiverAgentID: p.ReceiverAgentID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Conditions:      p.Conditions,
		ExpiresAt:       p.ExpiresAt,
	})
	if err != nil {
		return nil, err
	}
	return e, nil
}

// NewEscrowFromHistory rebuilds an escrow by replaying its event history.
func NewEscrowFromHistory(escrowID string, events []Event) (*Escrow, error) {
	e := &Escrow{EscrowID: escrowID}
	for _, evt := range events {
		if err := e.Apply(evt); err != nil {
			return nil, err
		}
		e.Version = evt.Version
	}
	return e, nil
}

// RehydrateEscrow restores an escrow from a snapshot plus the event tail.
func RehydrateEscrow(state []byte, tail []Event) (*Escrow, error) {
	e := &Escrow{}
	if err := json.Unmarshal(state, e); err != nil {
		return nil, fmt.Errorf("unmarshal escrow snapshot: %w", err)
	}
	for _, evt := range tail {
		if err := e.Apply(evt); err != nil {
			return nil, err
		}
		e.Version = evt.Version
	}
	return e, nil
}

// Snapshot serializes the escrow state for the snapshot store.
func (e *Escrow) Snapshot() ([]byte, error) {
	return json.Marshal(e)
}

// IsTerminal reports whether the escrow admits no further transitions other
// than the resolved payout release.
func (e *Escrow) IsTerminal() bool {
	switch e.Status {
	case EscrowStatusReleased, EscrowStatusExpired, EscrowStatusCancelled:
		return true
	}
	return false
}

// FullyFunded reports whether the funded amount has reached the target.
func (e *Escrow) FullyFunded() bool {
	return e.FundedAmount == e.Amount
}

// ConditionsMet reports whether every release condition is satisfied.
func (e *Escrow) ConditionsMet() bool {
	for _, met := range e.Conditions {
		if !met {
			return false
		}
	}
	return true
}

// --- Commands ---

// Deposit adds funds toward the target amount. Idempotent per depositID:
// re-applying a deposit id that already credited the escrow is a no-op.
func (e *Escrow) Deposit(depositID, depositor string, amount int64) error {
	if e.AppliedDeposits[depositID] {
		return nil
	}
	if amount <= 0 {
		return apperror.Validation("deposit amount must be positive")
	}
	switch e.Status {
	case EscrowStatusCreated, EscrowStatusPartiallyFunded:
	default:
		return apperror.StateConflict(fmt.Sprintf("cannot deposit into escrow in status %s", e.Status))
	}
	if e.FundedAmount+amount > e.Amount {
		return apperror.Validation(fmt.Sprintf(
			"deposit %d exceeds remaining shortfall %d", amount, e.Amount-e.FundedAmount))
	}
	return e.record(EventEscrowDeposited, EscrowDepositedPayload{DepositID: depositID, Depositor: depositor, Amount: amount})
}

// FulfillCondition marks one release condition as satisfied. Already-met
// conditions are a no-op.
func (e *Escrow) FulfillCondition(name, by string) error {
	if e.IsTerminal() || e.Status == EscrowStatusDisputed || e.Status == EscrowStatusResolved {
		return apperror.StateConflict(fmt.Sprintf("cannot update conditions in status %s", e.Status))
	}
	met, known := e.Conditions[name]
	if !known {
		return apperror.Validation(fmt.Sprintf("unknown release condition %q", name))
	}
	if met {
		return nil
	}
	return e.record(EventEscrowConditionMet, EscrowConditionMetPayload{Condition: name, MetBy: by})
}

// Release moves the escrow to released. Valid from funded (all release
// conditions met, or override set for a system release) and from resolved
// (paying out per the recorded allocation). Calling Release on an
// already-released escrow records nothing: the caller reads the existing
// release metadata.
func (e *Escrow) Release(releasedBy, reason string, override bool) error {
	if e.Status == EscrowStatusReleased {
		return nil
	}
	switch e.Status {
	case EscrowStatusFunded:
		if !e.ConditionsMet() && !override {
			return apperror.StateConflict("release conditions are not all met")
		}
	case EscrowStatusResolved:
		// Payout after dispute resolution; allocation already validated.
	case EscrowStatusDisputed:
		return apperror.StateConflict("disputed escrow can only exit via dispute resolution")
	default:
		return apperror.StateConflict(fmt.Sprintf("cannot release escrow in status %s", e.Status))
	}
	return e.record(EventEscrowReleased, EscrowReleasedPayload{ReleasedBy: releasedBy, Reason: reason, Override: override})
}

// Dispute freezes a fully funded escrow pending arbitration.
func (e *Escrow) Dispute(disputedBy, reason, evidence string) error {
	if e.Status != EscrowStatusFunded {
		return apperror.StateConflict(fmt.Sprintf("cannot dispute escrow in status %s", e.Status))
	}
	if reason == "" {
		return apperror.Validation("dispute reason is required")
	}
	return e.record(EventEscrowDisputed, EscrowDisputedPayload{DisputedBy: disputedBy, Reason: reason, Evidence: evidence})
}

// Resolve records the arbitration outcome for a disputed escrow. The
// allocation must sum to the funded amount; release_to_receiver and
// return_to_sender are shorthand checked against the allocation.
func (e *Escrow) Resolve(resolvedBy string, resolutionType ResolutionType, allocation Allocation) error {
	if e.Status != EscrowStatusDisputed {
		return apperror.StateConflict(fmt.Sprintf("cannot resolve escrow in status %s", e.Status))
	}
	if _, err := NewAllocation(allocation.SenderAmount, allocation.ReceiverAmount, e.FundedAmount); err != nil {
		return err
	}
	switch resolutionType {
	case ResolutionReleaseToReceiver:
		if allocation.ReceiverAmount != e.FundedAmount {
			return apperror.Validation("release_to_receiver requires the full funded amount for the receiver")
		}
	case ResolutionReturnToSender:
		if allocation.SenderAmount != e.FundedAmount {
			return apperror.Validation("return_to_sender requires the full funded amount for the sender")
		}
	case ResolutionSplit:
	default:
		return apperror.Validation(fmt.Sprintf("unknown resolution type %q", resolutionType))
	}
	return e.record(EventEscrowResolved, EscrowResolvedPayload{ResolvedBy: resolvedBy, Type: resolutionType, Allocation: allocation})
}

// Expire transitions a due escrow to expired and reports the funded amount
// to return to the sender. Terminal and disputed escrows are a safe no-op
// (expired == false). Calling before the deadline is a state conflict.
func (e *Escrow) Expire(now time.Time) (bool, error) {
	switch e.Status {
	case EscrowStatusCreated, EscrowStatusPartiallyFunded, EscrowStatusFunded:
	default:
		return false, nil
	}
	if now.Before(e.ExpiresAt) {
		return false, apperror.StateConflict("escrow has not reached its expiry time")
	}
	err := e.record(EventEscrowExpired, EscrowExpiredPayload{ExpiredAt: now.UTC(), ReturnedAmount: e.FundedAmount})
	if err != nil {
		return false, err
	}
	return true, nil
}

// Cancel aborts an unfunded escrow.
func (e *Escrow) Cancel(cancelledBy, reason string) error {
	if e.Status != EscrowStatusCreated {
		return apperror.StateConflict(fmt.Sprintf("only unfunded escrows can be cancelled, status is %s", e.Status))
	}
	return e.record(EventEscrowCancelled, EscrowCancelledPayload{CancelledBy: cancelledBy, Reason: reason})
}

// --- Event sourcing plumbing ---

func (e *Escrow) record(eventType EventType, payload any) error {
	version := e.Version + uint64(len(e.pending)) + 1
	evt, err := NewEvent(AggregateEscrow, EscrowStreamID(e.EscrowID), version, eventType, payload)
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := e.Apply(evt); err != nil {
		return err
	}
	e.pending = append(e.pending, evt)
	return nil
}

// Apply folds one event into the escrow state.
func (e *Escrow) Apply(evt Event) error {
	switch evt.Type {
	case EventEscrowCreated:
		var p EscrowCreatedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		e.TransactionID = p.TransactionID
		e.SenderAgentID = p.SenderAgentID
		e.ReceiverAgentID = p.ReceiverAgentID
		e.Amount = p.Amount
		e.Currency = p.Currency
		e.Conditions = p.Conditions
		e.ExpiresAt = p.ExpiresAt
		e.Status = EscrowStatusCreated
	case EventEscrowDeposited:
		var p EscrowDepositedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		if e.AppliedDeposits == nil {
			e.AppliedDeposits = make(map[string]bool)
		}
		e.AppliedDeposits[p.DepositID] = true
		e.FundedAmount += p.Amount
		if e.FullyFunded() {
			e.Status = EscrowStatusFunded
		} else {
			e.Status = EscrowStatusPartiallyFunded
		}
	case EventEscrowConditionMet:
		var p EscrowConditionMetPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		e.Conditions[p.Condition] = true
	case EventEscrowReleased:
		var p EscrowReleasedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		e.Status = EscrowStatusReleased
		e.ReleasedBy = p.ReleasedBy
		at := evt.OccurredAt
		e.ReleasedAt = &at
	case EventEscrowDisputed:
		var p EscrowDisputedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		e.Status = EscrowStatusDisputed
		e.DisputedBy = p.DisputedBy
		e.DisputeReason = p.Reason
		e.DisputeEvidence = p.Evidence
	case EventEscrowResolved:
		var p EscrowResolvedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		e.Status = EscrowStatusResolved
		e.ResolutionType = p.Type
		alloc := p.Allocation
		e.ResolutionAllocation = &alloc
	case EventEscrowExpired:
		e.Status = EscrowStatusExpired
	case EventEscrowCancelled:
		e.Status = EscrowStatusCancelled
	default:
		return fmt.Errorf("escrow: unknown event type %q", evt.Type)
	}
	return nil
}

// Pending returns events recorded since the last persist.
func (e *Escrow) Pending() []Event {
	return e.pending
}

// MarkCommitted clears pending events after a successful append.
func (e *Escrow) MarkCommitted(newVersion uint64) {
	e.Version = newVersion
	e.pending = nil
}
