package service

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// EscrowEngine coordinates conditional fund holds between agents. Escrow
// state lives in the event log; the money itself stays held in the sender's
// wallet until a release, resolution or expiry moves it.
type EscrowEngine struct {
	events   ports.EventStore
	wallets  *WalletLedger
	expiry   ports.ExpiryIndex
	notifier ports.Notifier
	log      zerolog.Logger
	now      func() time.Time
}

// NewEscrowEngine creates an EscrowEngine. expiry and notifier may be nil.
func NewEscrowEngine(events ports.EventStore, wallets *WalletLedger, expiry ports.ExpiryIndex, notifier ports.Notifier, log zerolog.Logger) *EscrowEngine {
	return &EscrowEngine{
		events:   events,
		wallets:  wallets,
		expiry:   expiry,
		notifier: notifier,
		log:      log,
		now:      time.Now,
	}
}

// SetClock overrides the engine's time source.
func (s *EscrowEngine) SetClock(now func() time.Time) {
	s.now = now
}

// CreateEscrowParams carries the service-level inputs for Create.
type CreateEscrowParams struct {
	TransactionID   string
	SenderAgentID   string
	ReceiverAgentID string
	Amount          int64
	Currency        string
	Conditions      map[string]bool
	ExpiresAt       time.Time
}

// Create opens a new escrow in the created state.
func (s *EscrowEngine) Create(ctx context.Context, p CreateEscrowParams) (*domain.Escrow, error) {
	escrowID := uuid.New().String()
	e, err := domain.NewEscrow(domain.CreateEscrowParams{
		EscrowID:        escrowID,
		TransactionID:   p.TransactionID,
		SenderAgentID:   p.SenderAgentID,
		ReceiverAgentID: p.ReceiverAgentID,
		Amount:          p.Amount,
		Currency:        p.Currency,
		Conditions:      p.Conditions,
		ExpiresAt:       p.ExpiresAt,
		Now:             s.now(),
	})
	if err != nil {
		return nil, err
	}

	newVersion, err := s.events.Append(ctx, domain.EscrowStreamID(escrowID), 0, e.Pending())
	if err != nil {
		return nil, err
	}
	e.MarkCommitted(newVersion)

	if s.expiry != nil {
		if err := s.expiry.Track(ctx, escrowID, e.ExpiresAt); err != nil {
			s.log.Warn().Err(err).Str("escrow_id", escrowID).Msg("expiry tracking failed")
		}
	}
	s.notify("escrow.created", escrowID, map[string]string{
		"transaction_id": e.TransactionID,
		"sender":         e.SenderAgentID,
		"receiver":       e.ReceiverAgentID,
		"amount":         strconv.FormatInt(e.Amount, 10),
	})
	s.log.Info().Str("escrow_id", escrowID).Str("transaction_id", e.TransactionID).Int64("amount", e.Amount).Msg("escrow created")
	return e, nil
}

// Get returns the current escrow state.
func (s *EscrowEngine) Get(ctx context.Context, escrowID string) (*domain.Escrow, error) {
	return s.load(ctx, escrowID)
}

// Deposit funds an escrow from the depositor's wallet. The wallet hold is
// taken first; if the escrow rejects the deposit the hold is released again.
// Idempotent per depositID.
func (s *EscrowEngine) Deposit(ctx context.Context, escrowID, depositID, depositor string, amount int64) (*domain.Escrow, error) {
	e, err := s.load(ctx, escrowID)
	if err != nil {
		return nil, err
	}
	if e.AppliedDeposits[depositID] {
		return e, nil
	}

	if _, err := s.wallets.Hold(ctx, depositor, amount); err != nil {
		return nil, err
	}

	duplicate := false
	e, err = s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		if err := e.Deposit(depositID, depositor, amount); err != nil {
			return err
		}
		duplicate = len(e.Pending()) == 0
		return nil
	})
	if err != nil || duplicate {
		// The escrow did not take the funds: give the hold back.
		if _, relErr := s.wallets.Release(ctx, depositor, amount); relErr != nil {
			s.log.Error().Err(relErr).Str("escrow_id", escrowID).Str("depositor", depositor).Msg("deposit hold release failed")
			return nil, apperror.ErrCompensationFailed("deposit hold release", relErr)
		}
		if err != nil {
			return nil, err
		}
		return e, nil
	}

	s.notifyDeposit(e, depositID, amount)
	return e, nil
}

// FundFromHold funds an escrow with money the caller already holds in the
// depositor's wallet. No new hold is taken; the caller keeps responsibility
// for the existing one if the deposit fails.
func (s *EscrowEngine) FundFromHold(ctx context.Context, escrowID, depositID, depositor string, amount int64) (*domain.Escrow, error) {
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		return e.Deposit(depositID, depositor, amount)
	})
	if err != nil {
		return nil, err
	}
	s.notifyDeposit(e, depositID, amount)
	return e, nil
}

// FulfillCondition marks one release condition as met.
func (s *EscrowEngine) FulfillCondition(ctx context.Context, escrowID, condition, by string) (*domain.Escrow, error) {
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		return e.FulfillCondition(condition, by)
	})
	if err != nil {
		return nil, err
	}
	if e.ConditionsMet() {
		s.notify("escrow.conditions_met", escrowID, nil)
	}
	return e, nil
}

// Release settles the escrow. From funded, the whole funded amount moves
// from the sender's held balance to the receiver. From resolved, funds move
// per the recorded allocation. Releasing an already-released escrow returns
// its current state without moving anything.
func (s *EscrowEngine) Release(ctx context.Context, escrowID, releasedBy, reason string, override bool) (*domain.Escrow, error) {
	var prevStatus domain.EscrowStatus
	released := false
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		prevStatus = e.Status
		if err := e.Release(releasedBy, reason, override); err != nil {
			return err
		}
		released = len(e.Pending()) > 0
		return nil
	})
	if err != nil {
		return nil, err
	}
	if !released {
		return e, nil
	}

	// The release event is committed; now move the money.
	switch prevStatus {
	case domain.EscrowStatusFunded:
		if _, err := s.wallets.Settle(ctx, e.SenderAgentID, e.ReceiverAgentID, e.FundedAmount); err != nil {
			s.log.Error().Err(err).Str("escrow_id", escrowID).Msg("release settlement failed")
			return nil, apperror.ErrCompensationFailed("escrow release settlement", err)
		}
	case domain.EscrowStatusResolved:
		alloc := e.ResolutionAllocation
		if alloc.ReceiverAmount > 0 {
			if _, err := s.wallets.Settle(ctx, e.SenderAgentID, e.ReceiverAgentID, alloc.ReceiverAmount); err != nil {
				s.log.Error().Err(err).Str("escrow_id", escrowID).Msg("resolution payout failed")
				return nil, apperror.ErrCompensationFailed("escrow resolution payout", err)
			}
		}
		if alloc.SenderAmount > 0 {
			if _, err := s.wallets.Release(ctx, e.SenderAgentID, alloc.SenderAmount); err != nil {
				s.log.Error().Err(err).Str("escrow_id", escrowID).Msg("resolution refund failed")
				return nil, apperror.ErrCompensationFailed("escrow resolution refund", err)
			}
		}
	}

	s.removeFromExpiryIndex(ctx, escrowID)
	s.notify("escrow.released", escrowID, map[string]string{
		"released_by": releasedBy,
		"amount":      strconv.FormatInt(e.FundedAmount, 10),
	})
	s.log.Info().Str("escrow_id", escrowID).Str("released_by", releasedBy).Msg("escrow released")
	return e, nil
}

// Dispute freezes a fully funded escrow pending arbitration.
func (s *EscrowEngine) Dispute(ctx context.Context, escrowID, disputedBy, reason, evidence string) (*domain.Escrow, error) {
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		return e.Dispute(disputedBy, reason, evidence)
	})
	if err != nil {
		return nil, err
	}
	s.notify("escrow.disputed", escrowID, map[string]string{"disputed_by": disputedBy, "reason": reason})
	s.log.Info().Str("escrow_id", escrowID).Str("disputed_by", disputedBy).Msg("escrow disputed")
	return e, nil
}

// Resolve records the arbitration outcome for a disputed escrow. The payout
// itself happens on the subsequent Release.
func (s *EscrowEngine) Resolve(ctx context.Context, escrowID, resolvedBy string, resolutionType domain.ResolutionType, allocation domain.Allocation) (*domain.Escrow, error) {
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		return e.Resolve(resolvedBy, resolutionType, allocation)
	})
	if err != nil {
		return nil, err
	}
	s.notify("escrow.resolved", escrowID, map[string]string{
		"resolved_by":     resolvedBy,
		"resolution_type": string(resolutionType),
		"sender_amount":   strconv.FormatInt(allocation.SenderAmount, 10),
		"receiver_amount": strconv.FormatInt(allocation.ReceiverAmount, 10),
	})
	s.log.Info().Str("escrow_id", escrowID).Str("resolution_type", string(resolutionType)).Msg("escrow dispute resolved")
	return e, nil
}

// Expire transitions a due escrow to expired and returns any funded amount
// to the sender's available balance. Terminal and disputed escrows report
// expired == false without error, so the sweep can call this blindly.
func (s *EscrowEngine) Expire(ctx context.Context, escrowID string) (*domain.Escrow, bool, error) {
	expired := false
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		var err error
		expired, err = e.Expire(s.now())
		return err
	})
	if err != nil {
		return nil, false, err
	}
	if !expired {
		s.removeFromExpiryIndex(ctx, escrowID)
		return e, false, nil
	}

	if e.FundedAmount > 0 {
		if _, err := s.wallets.Release(ctx, e.SenderAgentID, e.FundedAmount); err != nil {
			s.log.Error().Err(err).Str("escrow_id", escrowID).Msg("expiry refund failed")
			return nil, false, apperror.ErrCompensationFailed("escrow expiry refund", err)
		}
	}

	s.removeFromExpiryIndex(ctx, escrowID)
	s.notify("escrow.expired", escrowID, map[string]string{
		"returned_amount": strconv.FormatInt(e.FundedAmount, 10),
	})
	s.log.Info().Str("escrow_id", escrowID).Int64("returned_amount", e.FundedAmount).Msg("escrow expired")
	return e, true, nil
}

// Cancel aborts an unfunded escrow.
func (s *EscrowEngine) Cancel(ctx context.Context, escrowID, cancelledBy, reason string) (*domain.Escrow, error) {
	e, err := s.mutate(ctx, escrowID, func(e *domain.Escrow) error {
		return e.Cancel(cancelledBy, reason)
	})
	if err != nil {
		return nil, err
	}
	s.removeFromExpiryIndex(ctx, escrowID)
	s.notify("escrow.cancelled", escrowID, map[string]string{"cancelled_by": cancelledBy})
	return e, nil
}

// --- internals ---

func (s *EscrowEngine) mutate(ctx context.Context, escrowID string, fn func(*domain.Escrow) error) (*domain.Escrow, error) {
	var out *domain.Escrow
	err := withConflictRetry(func() error {
		e, err := s.load(ctx, escrowID)
		if err != nil {
			return err
		}
		if err := fn(e); err != nil {
			return err
		}
		pending := e.Pending()
		if len(pending) > 0 {
			newVersion, err := s.events.Append(ctx, domain.EscrowStreamID(escrowID), e.Version, pending)
			if err != nil {
				return err
			}
			e.MarkCommitted(newVersion)
		}
		out = e
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *EscrowEngine) load(ctx context.Context, escrowID string) (*domain.Escrow, error) {
	history, err := s.events.Load(ctx, domain.EscrowStreamID(escrowID))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load escrow history: %w", err))
	}
	if len(history) == 0 {
		return nil, apperror.ErrNotFound("escrow", escrowID)
	}
	return domain.NewEscrowFromHistory(escrowID, history)
}

func (s *EscrowEngine) removeFromExpiryIndex(ctx context.Context, escrowID string) {
	if s.expiry == nil {
		return
	}
	if err := s.expiry.Remove(ctx, escrowID); err != nil {
		s.log.Warn().Err(err).Str("escrow_id", escrowID).Msg("expiry index removal failed")
	}
}

func (s *EscrowEngine) notifyDeposit(e *domain.Escrow, depositID string, amount int64) {
	s.notify("escrow.deposited", e.EscrowID, map[string]string{
		"deposit_id": depositID,
		"amount":     strconv.FormatInt(amount, 10),
		"funded":     strconv.FormatInt(e.FundedAmount, 10),
	})
	if e.Status == domain.EscrowStatusFunded {
		s.notify("escrow.funded", e.EscrowID, map[string]string{
			"amount": strconv.FormatInt(e.FundedAmount, 10),
		})
	}
}

func (s *EscrowEngine) notify(kind, escrowID string, data map[string]string) {
	if s.notifier == nil {
		return
	}
	s.notifier.Notify(ports.NotificationEvent{
		Kind:        kind,
		AggregateID: escrowID,
		Data:        data,
		OccurredAt:  s.now().UTC(),
	})
}
