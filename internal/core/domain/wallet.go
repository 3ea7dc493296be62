package domain

import (
	"encoding/json"
	"fmt"

	"agent-settlement-engine/pkg/apperror"
)

// Wallet tracks one agent's balance, split into available and held funds.
// Amounts are in minor units (cents). The invariant
// TotalBalance == AvailableBalance + HeldBalance holds after every event,
// and all three are never negative. Wallets are created by the first credit
// and never deleted.
type Wallet struct {
	AgentID          string `json:"agent_id"`
	Currency         string `json:"currency"`
	AvailableBalance int64  `json:"available_balance"`
	HeldBalance      int64  `json:"held_balance"`
	TotalBalance     int64  `json:"total_balance"`
	Version          uint64 `json:"version"`

	pending []Event
}

// Wallet event payloads.

type WalletCreditedPayload struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Reference string `json:"reference,omitempty"`
}

type WalletHeldPayload struct {
	Amount int64 `json:"amount"`
}

type WalletHoldReleasedPayload struct {
	Amount int64 `json:"amount"`
}

// WalletSettlePayload is shared by the debit and credit legs of a settlement.
// Both legs carry the same SettlementID so replay tooling can pair them.
type WalletSettlePayload struct {
	SettlementID string `json:"settlement_id"`
	Counterparty string `json:"counterparty"`
	Amount       int64  `json:"amount"`
}

// NewWallet returns an empty wallet aggregate for an agent. State is built
// up by replaying or recording events.
func NewWallet(agentID string) *Wallet {
	return &Wallet{AgentID: agentID}
}

// NewWalletFromHistory rebuilds a wallet by replaying its full event history.
func NewWalletFromHistory(agentID string, events []Event) (*Wallet, error) {
	w := NewWallet(agentID)
	for _, evt := range events {
		if err := w.Apply(evt); err != nil {
			return nil, err
		}
		w.Version = evt.Version
	}
	return w, nil
}

// RehydrateWallet restores a wallet from a snapshot plus the event tail
// recorded after the snapshot version.
func RehydrateWallet(state []byte, tail []Event) (*Wallet, error) {
	w := &Wallet{}
	if err := json.Unmarshal(state, w); err != nil {
		return nil, fmt.Errorf("unmarshal wallet snapshot: %w", err)
	}
	for _, evt := range tail {
		if err := w.Apply(evt); err != nil {
			return nil, err
		}
		w.Version = evt.Version
	}
	return w, nil
}

// Snapshot serializes the wallet state for the snapshot store.
func (w *Wallet) Snapshot() ([]byte, error) {
	return json.Marshal(w)
}

// Exists reports whether any event has touched this wallet.
func (w *Wallet) Exists() bool {
	return w.Version > 0 || len(w.pending) > 0
}

// --- Commands ---

// Credit adds funds to the available balance. The first credit fixes the
// wallet currency.
func (w *Wallet) Credit(amount int64, currency, reference string) error {
	if amount <= 0 {
		return apperror.Validation("credit amount must be positive")
	}
	if w.Currency != "" && currency != "" && currency != w.Currency {
		return apperror.Validation(fmt.Sprintf("wallet currency is %s, got %s", w.Currency, currency))
	}
	return w.record(EventWalletCredited, WalletCreditedPayload{Amount: amount, Currency: currency, Reference: reference})
}

// Hold moves amount from available to held.
func (w *Wallet) Hold(amount int64) error {
	if amount <= 0 {
		return apperror.Validation("hold amount must be positive")
	}
	if w.AvailableBalance < amount {
		return apperror.ErrInsufficientFunds(w.AgentID)
	}
	return w.record(EventWalletHeld, WalletHeldPayload{Amount: amount})
}

// ReleaseHold moves amount from held back to available.
func (w *Wallet) ReleaseHold(amount int64) error {
	if amount <= 0 {
		return apperror.Validation("release amount must be positive")
	}
	if w.HeldBalance < amount {
		return apperror.StateConflict(fmt.Sprintf("held balance %d below release amount %d", w.HeldBalance, amount))
	}
	return w.record(EventWalletHoldReleased, WalletHoldReleasedPayload{Amount: amount})
}

// SettleDebit removes amount from the held balance, finalizing the sender
// leg of a settlement.
func (w *Wallet) SettleDebit(settlementID, counterparty string, amount int64) error {
	if amount <= 0 {
		return apperror.Validation("settle amount must be positive")
	}
	if w.HeldBalance < amount {
		return apperror.StateConflict(fmt.Sprintf("held balance %d below settle amount %d", w.HeldBalance, amount))
	}
	return w.record(EventWalletSettleDebit, WalletSettlePayload{SettlementID: settlementID, Counterparty: counterparty, Amount: amount})
}

// SettleCredit adds amount to the available balance, finalizing the receiver
// leg of a settlement.
func (w *Wallet) SettleCredit(settlementID, counterparty string, amount int64) error {
	if amount <= 0 {
		return apperror.Validation("settle amount must be positive")
	}
	return w.record(EventWalletSettleCredit, WalletSettlePayload{SettlementID: settlementID, Counterparty: counterparty, Amount: amount})
}

// ReverseSettlement restores amount to the held balance after a settlement
// debit whose counterpart leg failed. Compensation only.
func (w *Wallet) ReverseSettlement(settlementID, counterparty string, amount int64) error {
	if amount <= 0 {
		return apperror.Validation("reversal amount must be positive")
	}
	return w.record(EventWalletSettleReversed, WalletSettlePayload{SettlementID: settlementID, Counterparty: counterparty, Amount: amount})
}

// --- Event sourcing plumbing ---

func (w *Wallet) record(eventType EventType, payload any) error {
	version := w.Version + uint64(len(w.pending)) + 1
	evt, err := NewEvent(AggregateWallet, WalletStreamID(w.AgentID), version, eventType, payload)
	if err != nil {
		return apperror.InternalError(err)
	}
	if err := w.Apply(evt); err != nil {
		return err
	}
	w.pending = append(w.pending, evt)
	return nil
}

// Apply is the pure reducer: it folds one event into the wallet state.
// Replaying the full history from an empty wallet reproduces the live state.
func (w *Wallet) Apply(evt Event) error {
	switch evt.Type {
	case EventWalletCredited:
		var p WalletCreditedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		if w.Currency == "" {
			w.Currency = p.Currency
		}
		w.AvailableBalance += p.Amount
	case EventWalletHeld:
		var p WalletHeldPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		w.AvailableBalance -= p.Amount
		w.HeldBalance += p.Amount
	case EventWalletHoldReleased:
		var p WalletHoldReleasedPayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		w.HeldBalance -= p.Amount
		w.AvailableBalance += p.Amount
	case EventWalletSettleDebit:
		var p WalletSettlePayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		w.HeldBalance -= p.Amount
	case EventWalletSettleCredit:
		var p WalletSettlePayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		w.AvailableBalance += p.Amount
	case EventWalletSettleReversed:
		var p WalletSettlePayload
		if err := evt.DecodePayload(&p); err != nil {
			return err
		}
		w.HeldBalance += p.Amount
	default:
		return fmt.Errorf("wallet: unknown event type %q", evt.Type)
	}
	w.TotalBalance = w.AvailableBalance + w.HeldBalance
	return nil
}

// Pending returns events recorded since the last persist.
func (w *Wallet) Pending() []Event {
	return w.pending
}

// MarkCommitted clears pending events after a successful append.
func (w *Wallet) MarkCommitted(newVersion uint64) {
	w.Version = newVersion
	w.pending = nil
}
