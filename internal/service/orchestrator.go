package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/pkg/apperror"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// TransactionOrchestrator drives the payment lifecycle: hold funds at
// initiation, run compliance at validation, settle directly or through an
// escrow, and report terminal outcomes to the reputation engine. All
// cross-aggregate steps are sagas with explicit compensation.
type TransactionOrchestrator struct {
	events     ports.EventStore
	wallets    *WalletLedger
	escrows    *EscrowEngine
	reputation *ReputationEngine
	compliance ports.ComplianceChecker
	notifier   ports.Notifier
	fees       FeeSchedule
	collector  string
	escrowTTL  time.Duration
	log        zerolog.Logger
	now        func() time.Time
}

// OrchestratorParams carries the constructor dependencies.
type OrchestratorParams struct {
	Events     ports.EventStore
	Wallets    *WalletLedger
	Escrows    *EscrowEngine
	Reputation *ReputationEngine
	Compliance ports.ComplianceChecker
	Notifier   ports.Notifier
	Fees       FeeSchedule
	Collector  string
	EscrowTTL  time.Duration
	Log        zerolog.Logger
}

// NewTransactionOrchestrator creates a TransactionOrchestrator.
func NewTransactionOrchestrator(p OrchestratorParams) *TransactionOrchestrator {
	if p.EscrowTTL <= 0 {
		p.EscrowTTL = 24 * time.Hour
	}
	return &TransactionOrchestrator{
		events:     p.Events,
		wallets:    p.Wallets,
		escrows:    p.Escrows,
		reputation: p.Reputation,
		compliance: p.Compliance,
		notifier:   p.Notifier,
		fees:       p.Fees,
		collector:  p.Collector,
		escrowTTL:  p.EscrowTTL,
		log:        p.Log,
		now:        time.Now,
	}
}

// InitiateParams carries the inputs for Initiate.
type InitiateParams struct {
	FromAgentID      string
	ToAgentID        string
	Amount           int64
	Currency         string
	Type             domain.TransactionType
	Metadata         map[string]string
	EscrowConditions map[string]bool
	EscrowExpiresAt  time.Time
}

// Initiate creates a transaction and holds amount plus fee in the sender's
// wallet. If the hold cannot be satisfied no transaction is created.
func (o *TransactionOrchestrator) Initiate(ctx context.Context, p InitiateParams) (*domain.Transaction, error) {
	transactionID := uuid.New().String()
	fee := o.fees.Fee(p.Amount)

	// Escrow creation inputs travel in the transaction metadata so they
	// survive the reload at validation time.
	metadata := p.Metadata
	if p.Type == domain.TransactionTypeEscrow {
		metadata = o.withEscrowInputs(metadata, p)
	}

	tx, err := domain.NewTransaction(transactionID, p.FromAgentID, p.ToAgentID, p.Amount, p.Currency, p.Type, fee, metadata)
	if err != nil {
		return nil, err
	}

	if _, err := o.wallets.Hold(ctx, p.FromAgentID, tx.HoldAmount()); err != nil {
		return nil, err
	}

	newVersion, err := o.events.Append(ctx, domain.TransactionStreamID(transactionID), 0, tx.Pending())
	if err != nil {
		// The hold is in place but the transaction never existed: give it back.
		if _, relErr := o.wallets.Release(ctx, p.FromAgentID, tx.HoldAmount()); relErr != nil {
			return nil, apperror.ErrCompensationFailed("initiation hold release", relErr)
		}
		return nil, err
	}
	tx.MarkCommitted(newVersion)

	o.notify("transaction.initiated", transactionID, map[string]string{
		"from":   p.FromAgentID,
		"to":     p.ToAgentID,
		"amount": strconv.FormatInt(p.Amount, 10),
		"fee":    strconv.FormatInt(fee, 10),
		"type":   string(p.Type),
	})
	o.log.Info().Str("transaction_id", transactionID).Str("type", string(p.Type)).
		Int64("amount", p.Amount).Int64("fee", fee).Msg("transaction initiated")
	return tx, nil
}

func (o *TransactionOrchestrator) withEscrowInputs(metadata map[string]string, p InitiateParams) map[string]string {
	out := make(map[string]string, len(metadata)+len(p.EscrowConditions)+1)
	for k, v := range metadata {
		out[k] = v
	}
	expiresAt := p.EscrowExpiresAt
	if expiresAt.IsZero() {
		expiresAt = o.now().Add(o.escrowTTL)
	}
	out["escrow_expires_at"] = expiresAt.UTC().Format(time.RFC3339)
	for name := range p.EscrowConditions {
		out["escrow_condition:"+name] = "pending"
	}
	return out
}

// Get returns the current transaction state.
func (o *TransactionOrchestrator) Get(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	return o.load(ctx, transactionID)
}

// Validate runs the external compliance check. On pass, a direct transaction
// becomes validated; an escrow transaction additionally gets its escrow
// created, funded from the existing hold, and moves to processing. On
// rejection the transaction fails and the hold is compensated.
func (o *TransactionOrchestrator) Validate(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	tx, err := o.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if tx.Status != domain.TransactionStatusInitiated {
		return nil, apperror.StateConflict(fmt.Sprintf("cannot validate transaction in status %s", tx.Status))
	}

	result, err := o.compliance.Check(ctx, ports.TransactionContext{
		TransactionID: transactionID,
		FromAgentID:   tx.FromAgentID,
		ToAgentID:     tx.ToAgentID,
		Amount:        tx.Amount,
		Currency:      tx.Currency,
		Type:          tx.Type,
	})
	if err != nil {
		// Compliance infrastructure failure is recoverable: the transaction
		// fails and the hold comes back.
		o.log.Warn().Err(err).Str("transaction_id", transactionID).Msg("compliance check unavailable")
		if failErr := o.failAndCompensate(ctx, tx, "compliance check unavailable", nil); failErr != nil {
			return nil, failErr
		}
		return tx, apperror.ErrComplianceRejected([]string{"compliance_unavailable"})
	}
	if !result.Passed {
		o.log.Info().Strs("flags", result.Flags).Str("transaction_id", transactionID).Msg("compliance rejected transaction")
		if failErr := o.failAndCompensate(ctx, tx, "compliance rejected", map[string]string{"flags": fmt.Sprintf("%v", result.Flags)}); failErr != nil {
			return nil, failErr
		}
		return tx, apperror.ErrComplianceRejected(result.Flags)
	}

	if err := tx.MarkValidated(result.Flags); err != nil {
		return nil, err
	}

	if tx.Type == domain.TransactionTypeEscrow {
		escrow, err := o.escrows.Create(ctx, CreateEscrowParams{
			TransactionID:   transactionID,
			SenderAgentID:   tx.FromAgentID,
			ReceiverAgentID: tx.ToAgentID,
			Amount:          tx.Amount,
			Currency:        tx.Currency,
			Conditions:      escrowConditionsFromMetadata(tx.Metadata),
			ExpiresAt:       o.escrowExpiryFromMetadata(tx.Metadata),
		})
		if err != nil {
			return nil, err
		}
		// The initiation hold already covers amount + fee; the amount part
		// now backs the escrow.
		if _, err := o.escrows.FundFromHold(ctx, escrow.EscrowID, transactionID, tx.FromAgentID, tx.Amount); err != nil {
			return nil, err
		}
		if err := tx.MarkProcessing(escrow.EscrowID); err != nil {
			return nil, err
		}
	}

	if err := o.persist(ctx, tx); err != nil {
		return nil, err
	}
	o.notify("transaction.validated", transactionID, map[string]string{"escrow_id": tx.EscrowID})
	o.log.Info().Str("transaction_id", transactionID).Str("escrow_id", tx.EscrowID).Msg("transaction validated")
	return tx, nil
}

// Complete settles the transaction. Direct transactions settle amount to the
// receiver; escrow transactions require the linked escrow to be released
// first. The fee settles to the platform collector and both parties get a
// terminal outcome recorded: success, or disputed when the linked escrow
// went through a dispute.
func (o *TransactionOrchestrator) Complete(ctx context.Context, transactionID string, metadata map[string]string) (*domain.Transaction, error) {
	tx, err := o.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}

	outcome := domain.OutcomeSuccess
	switch tx.Type {
	case domain.TransactionTypeDirect:
		if tx.Status != domain.TransactionStatusValidated {
			return nil, apperror.StateConflict(fmt.Sprintf("cannot complete direct transaction in status %s", tx.Status))
		}
		// Processing and completion batch into one append for a direct
		// transaction: there is no intermediate step to wait on.
		if err := tx.MarkProcessing(""); err != nil {
			return nil, err
		}
		if err := tx.Complete(metadata); err != nil {
			return nil, err
		}
		if err := o.persist(ctx, tx); err != nil {
			return nil, err
		}
		if _, err := o.wallets.Settle(ctx, tx.FromAgentID, tx.ToAgentID, tx.Amount); err != nil {
			return nil, apperror.ErrCompensationFailed("direct settlement", err)
		}
	case domain.TransactionTypeEscrow:
		if tx.Status != domain.TransactionStatusProcessing {
			return nil, apperror.StateConflict(fmt.Sprintf("cannot complete escrow transaction in status %s", tx.Status))
		}
		escrow, err := o.escrows.Get(ctx, tx.EscrowID)
		if err != nil {
			return nil, err
		}
		// A resolved escrow still pays out through Release, so completion
		// waits for released even after arbitration.
		if escrow.Status != domain.EscrowStatusReleased {
			return nil, apperror.StateConflict(fmt.Sprintf("linked escrow is %s, not released", escrow.Status))
		}
		if escrow.DisputedBy != "" {
			outcome = domain.OutcomeDisputed
		}
		if err := tx.Complete(metadata); err != nil {
			return nil, err
		}
		if err := o.persist(ctx, tx); err != nil {
			return nil, err
		}
	}

	if err := o.settleFee(ctx, tx); err != nil {
		return nil, err
	}
	o.recordOutcomes(ctx, tx, outcome)
	o.notify("transaction.completed", transactionID, map[string]string{"amount": strconv.FormatInt(tx.Amount, 10)})
	o.log.Info().Str("transaction_id", transactionID).Msg("transaction completed")
	return tx, nil
}

// Fail moves a non-terminal transaction to failed, releases whatever the
// transaction still holds in the sender's wallet and records a failed
// outcome for both parties.
func (o *TransactionOrchestrator) Fail(ctx context.Context, transactionID, reason string, metadata map[string]string) (*domain.Transaction, error) {
	tx, err := o.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := o.failAndCompensate(ctx, tx, reason, metadata); err != nil {
		return nil, err
	}
	o.recordOutcomes(ctx, tx, domain.OutcomeFailed)
	return tx, nil
}

// Cancel aborts a transaction that has not started processing. The hold
// comes back in full and no reputation outcome is recorded.
func (o *TransactionOrchestrator) Cancel(ctx context.Context, transactionID, reason string) (*domain.Transaction, error) {
	tx, err := o.load(ctx, transactionID)
	if err != nil {
		return nil, err
	}
	if err := tx.Cancel(reason); err != nil {
		return nil, err
	}
	if err := o.persist(ctx, tx); err != nil {
		return nil, err
	}
	if _, err := o.wallets.Release(ctx, tx.FromAgentID, tx.HoldAmount()); err != nil {
		return nil, apperror.ErrCompensationFailed("cancellation hold release", err)
	}
	o.notify("transaction.cancelled", transactionID, map[string]string{"reason": reason})
	o.log.Info().Str("transaction_id", transactionID).Str("reason", reason).Msg("transaction cancelled")
	return tx, nil
}

// HandleEscrowExpiry fails the transaction behind an expired escrow and
// records a timeout outcome for both parties. The escrow's own refund has
// already happened; whatever the refund did not cover, typically the fee,
// remains to release.
func (o *TransactionOrchestrator) HandleEscrowExpiry(ctx context.Context, escrowID string) error {
	escrow, err := o.escrows.Get(ctx, escrowID)
	if err != nil {
		return err
	}
	if escrow.TransactionID == "" {
		return nil
	}
	tx, err := o.load(ctx, escrow.TransactionID)
	if err != nil {
		if apperror.IsNotFound(err) {
			return nil
		}
		return err
	}
	// An escrow can name any transaction ID. Only the escrow the transaction
	// itself is processing through may fail it.
	if tx.EscrowID != escrowID {
		return nil
	}
	if tx.IsTerminal() {
		return nil
	}
	if err := tx.Fail("escrow expired", nil); err != nil {
		return err
	}
	if err := o.persist(ctx, tx); err != nil {
		return err
	}
	if remainder := tx.HoldAmount() - escrow.FundedAmount; remainder > 0 {
		if _, err := o.wallets.Release(ctx, tx.FromAgentID, remainder); err != nil {
			return apperror.ErrCompensationFailed("expiry hold release", err)
		}
	}
	o.recordOutcomes(ctx, tx, domain.OutcomeTimeout)
	o.notify("transaction.failed", tx.TransactionID, map[string]string{"reason": "escrow expired"})
	o.log.Info().Str("transaction_id", tx.TransactionID).Str("escrow_id", escrowID).Msg("transaction failed on escrow expiry")
	return nil
}

// --- internals ---

// failAndCompensate marks the transaction failed and releases the portion of
// the initiation hold the transaction still owns. Once an escrow is funded,
// the amount belongs to the escrow lifecycle and only the fee is released.
func (o *TransactionOrchestrator) failAndCompensate(ctx context.Context, tx *domain.Transaction, reason string, metadata map[string]string) error {
	if err := tx.Fail(reason, metadata); err != nil {
		return err
	}
	if err := o.persist(ctx, tx); err != nil {
		return err
	}

	releaseAmount := tx.HoldAmount()
	if tx.EscrowID != "" {
		releaseAmount = tx.Fee
	}
	if releaseAmount > 0 {
		if _, err := o.wallets.Release(ctx, tx.FromAgentID, releaseAmount); err != nil {
			return apperror.ErrCompensationFailed("failure hold release", err)
		}
	}
	o.notify("transaction.failed", tx.TransactionID, map[string]string{"reason": reason})
	o.log.Info().Str("transaction_id", tx.TransactionID).Str("reason", reason).Msg("transaction failed")
	return nil
}

func (o *TransactionOrchestrator) settleFee(ctx context.Context, tx *domain.Transaction) error {
	if tx.Fee == 0 || o.collector == "" {
		return nil
	}
	if _, err := o.wallets.Settle(ctx, tx.FromAgentID, o.collector, tx.Fee); err != nil {
		return apperror.ErrCompensationFailed("fee settlement", err)
	}
	return nil
}

// recordOutcomes reports a terminal outcome for both parties. Best-effort:
// reputation recording never fails a settled transaction.
func (o *TransactionOrchestrator) recordOutcomes(ctx context.Context, tx *domain.Transaction, outcome domain.Outcome) {
	for _, agentID := range []string{tx.FromAgentID, tx.ToAgentID} {
		if _, err := o.reputation.RecordTransaction(ctx, agentID, tx.TransactionID, outcome, tx.Amount, nil); err != nil {
			o.log.Warn().Err(err).Str("agent_id", agentID).Str("transaction_id", tx.TransactionID).Msg("reputation recording failed")
		}
	}
}

func (o *TransactionOrchestrator) load(ctx context.Context, transactionID string) (*domain.Transaction, error) {
	history, err := o.events.Load(ctx, domain.TransactionStreamID(transactionID))
	if err != nil {
		return nil, apperror.InternalError(fmt.Errorf("load transaction history: %w", err))
	}
	if len(history) == 0 {
		return nil, apperror.ErrNotFound("transaction", transactionID)
	}
	return domain.NewTransactionFromHistory(transactionID, history)
}

func (o *TransactionOrchestrator) persist(ctx context.Context, tx *domain.Transaction) error {
	pending := tx.Pending()
	if len(pending) == 0 {
		return nil
	}
	newVersion, err := o.events.Append(ctx, domain.TransactionStreamID(tx.TransactionID), tx.Version, pending)
	if err != nil {
		return err
	}
	tx.MarkCommitted(newVersion)
	return nil
}

func (o *TransactionOrchestrator) notify(kind, transactionID string, data map[string]string) {
	if o.notifier == nil {
		return
	}
	o.notifier.Notify(ports.NotificationEvent{
		Kind:        kind,
		AggregateID: transactionID,
		Data:        data,
		OccurredAt:  o.now().UTC(),
	})
}

func escrowConditionsFromMetadata(metadata map[string]string) map[string]bool {
	var conditions map[string]bool
	for key := range metadata {
		if name, ok := strings.CutPrefix(key, "escrow_condition:"); ok {
			if conditions == nil {
				conditions = make(map[string]bool)
			}
			conditions[name] = false
		}
	}
	return conditions
}

func (o *TransactionOrchestrator) escrowExpiryFromMetadata(metadata map[string]string) time.Time {
	if raw, ok := metadata["escrow_expires_at"]; ok {
		if at, err := time.Parse(time.RFC3339, raw); err == nil {
			return at
		}
	}
	return o.now().Add(o.escrowTTL)
}
