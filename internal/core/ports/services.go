package ports

import (
	"context"
	"time"

	"agent-settlement-engine/internal/core/domain"
)

// TransactionContext is the boundary view of a transaction handed to the
// compliance collaborator.
type TransactionContext struct {
	TransactionID string
	FromAgentID   string
	ToAgentID     string
	Amount        int64
	Currency      string
	Type          domain.TransactionType
}

// ComplianceResult is the outcome of an external compliance/risk check.
type ComplianceResult struct {
	Passed bool
	Flags  []string
}

// ComplianceChecker is the external compliance collaborator, invoked
// synchronously during transaction validation. Check failures are
// recoverable: the orchestrator converts them into a failed transaction
// with wallet compensation.
type ComplianceChecker interface {
	Check(ctx context.Context, txCtx TransactionContext) (ComplianceResult, error)
}

// NotificationEvent describes a state transition for downstream consumers.
type NotificationEvent struct {
	Kind        string            `json:"kind"`
	AggregateID string            `json:"aggregate_id"`
	Data        map[string]string `json:"data,omitempty"`
	OccurredAt  time.Time         `json:"occurred_at"`
}

// Notifier dispatches state-transition notifications. Fire-and-forget:
// implementations must never block domain operations on delivery and
// failures are best-effort only.
type Notifier interface {
	Notify(event NotificationEvent)
}

// ExpiryIndex tracks open escrows by expiry time so a periodic sweep can
// find the ones that are due.
type ExpiryIndex interface {
	Track(ctx context.Context, escrowID string, expiresAt time.Time) error
	Remove(ctx context.Context, escrowID string) error
	// Due returns up to limit escrow ids whose expiry is at or before now.
	Due(ctx context.Context, now time.Time, limit int) ([]string, error)
}
