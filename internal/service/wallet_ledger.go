package service

import (
	"context"
	"fmt"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// WalletLedger owns per-agent balance bookkeeping. Every operation appends
// to the wallet's event stream; nothing is ever deleted, and zero-balance
// wallets persist.
type WalletLedger struct {
	events        ports.EventStore
	snaps         ports.SnapshotStore // nil disables snapshotting
	snapshotEvery int
	log           zerolog.Logger
}

// NewWalletLedger creates a WalletLedger.
func NewWalletLedger(events ports.EventStore, snaps ports.SnapshotStore, snapshotEvery int, log zerolog.Logger) *WalletLedger {
	return &WalletLedger{
		events:        events,
		snaps:         snaps,
		snapshotEvery: snapshotEvery,
		log:           log,
	}
}

// Balance returns the current wallet state for an agent.
func (l *WalletLedger) Balance(ctx context.Context, agentID string) (*domain.Wallet, error) {
	w, err := l.load(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if !w.Exists() {
		return nil, apperror.ErrNotFound("wallet", agentID)
	}
	return w, nil
}

// Credit adds funds to an agent's available balance, creating the wallet on
// first use.
func (l *WalletLedger) Credit(ctx context.Context, agentID string, amount int64, currency, reference string) (*domain.Wallet, error) {
	return l.mutate(ctx, agentID, func(w *domain.Wallet) error {
		return w.Credit(amount, currency, reference)
	})
}

// Hold earmarks funds: moves amount from available to held.
func (l *WalletLedger) Hold(ctx context.Context, agentID string, amount int64) (*domain.Wallet, error) {
	return l.mutate(ctx, agentID, func(w *domain.Wallet) error {
		if !w.Exists() {
			return apperror.ErrNotFound("wallet", agentID)
		}
		return w.Hold(amount)
	})
}

// Release moves held funds back to available (cancellation, failure, expiry).
func (l *WalletLedger) Release(ctx context.Context, agentID string, amount int64) (*domain.Wallet, error) {
	return l.mutate(ctx, agentID, func(w *domain.Wallet) error {
		if !w.Exists() {
			return apperror.ErrNotFound("wallet", agentID)
		}
		return w.ReleaseHold(amount)
	})
}

// Settle finalizes a transfer: debits the sender's held balance and credits
// the receiver's available balance. The two legs share a settlement id and
// append as one logical pair; if the credit leg fails, the debit is
// compensated by restoring the sender's held funds.
func (l *WalletLedger) Settle(ctx context.Context, fromAgentID, toAgentID string, amount int64) (string, error) {
	settlementID := uuid.New().String()

	_, err := l.mutate(ctx, fromAgentID, func(w *domain.Wallet) error {
		if !w.Exists() {
			return apperror.ErrNotFound("wallet", fromAgentID)
		}
		return w.SettleDebit(settlementID, toAgentID, amount)
	})
	if err != nil {
		return "", err
	}

	_, err = l.mutate(ctx, toAgentID, func(w *domain.Wallet) error {
		return w.SettleCredit(settlementID, fromAgentID, amount)
	})
	if err == nil {
		l.log.Info().
			Str("settlement_id", settlementID).
			Str("from", fromAgentID).
			Str("to", toAgentID).
			Int64("amount", amount).
			Msg("settlement finalized")
		return settlementID, nil
	}

	// Compensate the committed debit leg.
	if _, compErr := l.mutate(ctx, fromAgentID, func(w *domain.Wallet) error {
		return w.ReverseSettlement(settlementID, toAgentID, amount)
	}); compErr != nil {
		l.log.Error().Err(compErr).
			Str("settlement_id", settlementID).
			Str("from", fromAgentID).
			Msg("settlement reversal failed")
		return "", apperror.ErrCompensationFailed("settlement reversal", compErr)
	}

	l.log.Warn().Err(err).
		Str("settlement_id", settlementID).
		Str("to", toAgentID).
		Msg("credit leg failed, debit reversed")
	return "", err
}

// mutate runs one command against an agent's wallet with conflict retry.
func (l *WalletLedger) mutate(ctx context.Context, agentID string, fn func(*domain.Wallet) error) (*domain.Wallet, error) {
	var out *domain.Wallet
	err := withConflictRetry(func() error {
		w, err := l.load(ctx, agentID)
		if err != nil {
			return err
		}
		if err := fn(w); err != nil {
			return err
		}
		if err := l.persist(ctx, w); err != nil {
			return err
		}
		out = w
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (l *WalletLedger) load(ctx context.Context, agentID string) (*domain.Wallet, error) {
	streamID := domain.WalletStreamID(agentID)

	if l.snaps != nil {
		snap, err := l.snaps.Load(ctx, streamID)
		if err != nil {
			l.log.Warn().Err(err).Str("agent_id", agentID).Msg("wallet snapshot load failed, replaying full history")
		} else if snap != nil {
			tail, err := l.events.LoadFrom(ctx, streamID, snap.Version)
			if err != nil {
				return nil, apperror.InternalError(fmt.Errorf("load wallet tail: %w", err))
			}
			w, err := domain.RehydrateWallet(snap.State, tail)
			if err != nil {
				return nil, apperror.InternalError(err)
			}
			return w, nil
		}
	}

	history, err := l.events.Load(ctx, streamID)
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load wallet history: %w", err))
	}
	w, err := domain.NewWalletFromHistory(agentID, history)
	if err != nil {
		return nil, apperror.InternalError(err)
	}
	return w, nil
}

func (l *WalletLedger) persist(ctx context.Context, w *domain.Wallet) error {
	pending := w.Pending()
	if len(pending) == 0 {
		return nil
	}
	newVersion, err := l.events.Append(ctx, domain.WalletStreamID(w.AgentID), w.Version, pending)
	if err != nil {
		return err
	}
	prevVersion := w.Version
	w.MarkCommitted(newVersion)
	l.maybeSnapshot(ctx, w, prevVersion)
	return nil
}

// maybeSnapshot saves a snapshot when the stream crosses a snapshot
// interval boundary. Best-effort.
func (l *WalletLedger) maybeSnapshot(ctx context.Context, w *domain.Wallet, prevVersion uint64) {
	if l.snaps == nil || l.snapshotEvery <= 0 {
		return
	}
	every := uint64(l.snapshotEvery)
	if w.Version/every == prevVersion/every {
		return
	}
	state, err := w.Snapshot()
	if err != nil {
		l.log.Warn().Err(err).Str("agent_id", w.AgentID).Msg("wallet snapshot marshal failed")
		return
	}
	snap := ports.Snapshot{AggregateID: domain.WalletStreamID(w.AgentID), State: state, Version: w.Version}
	if err := l.snaps.Save(ctx, snap); err != nil {
		l.log.Warn().Err(err).Str("agent_id", w.AgentID).Msg("wallet snapshot save failed")
	}
}
