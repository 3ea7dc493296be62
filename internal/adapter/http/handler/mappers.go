package handler

import (
	"time"

	"agent-settlement-engine/internal/adapter/http/dto"
	"agent-settlement-engine/internal/core/domain"
)

func toWalletResponse(w *domain.Wallet) dto.WalletResponse {
	return dto.WalletResponse{
		AgentID:          w.AgentID,
		Currency:         w.Currency,
		AvailableBalance: w.AvailableBalance,
		HeldBalance:      w.HeldBalance,
		TotalBalance:     w.TotalBalance,
	}
}

func toTransactionResponse(tx *domain.Transaction) dto.TransactionResponse {
	return dto.TransactionResponse{
		TransactionID: tx.TransactionID,
		FromAgentID:   tx.FromAgentID,
		ToAgentID:     tx.ToAgentID,
		Amount:        tx.Amount,
		Fee:           tx.Fee,
		Currency:      tx.Currency,
		Type:          string(tx.Type),
		Status:        string(tx.Status),
		EscrowID:      tx.EscrowID,
		FailureReason: tx.FailureReason,
		Metadata:      tx.Metadata,
	}
}

func toEscrowResponse(e *domain.Escrow) dto.EscrowResponse {
	return dto.EscrowResponse{
		EscrowID:        e.EscrowID,
		TransactionID:   e.TransactionID,
		SenderAgentID:   e.SenderAgentID,
		ReceiverAgentID: e.ReceiverAgentID,
		Amount:          e.Amount,
		FundedAmount:    e.FundedAmount,
		Currency:        e.Currency,
		Status:          string(e.Status),
		Conditions:      e.Conditions,
		ExpiresAt:       e.ExpiresAt.UTC().Format(time.RFC3339),
	}
}

func toReputationResponse(r *domain.ReputationRecord) dto.ReputationResponse {
	return dto.ReputationResponse{
		AgentID:                r.AgentID,
		Score:                  r.Score,
		TrustLevel:             string(domain.TrustLevelFor(r.Score)),
		TotalTransactions:      r.TotalTransactions,
		SuccessfulTransactions: r.SuccessfulTransactions,
		FailedTransactions:     r.FailedTransactions,
		DisputedTransactions:   r.DisputedTransactions,
	}
}

func toTrustPolicyResponse(p domain.TrustPolicy) dto.TrustPolicyResponse {
	return dto.TrustPolicyResponse{
		CombinedScore:     p.CombinedScore,
		RequireEscrow:     p.RequireEscrow,
		InstantSettlement: p.InstantSettlement,
		MaxAmount:         p.MaxAmount,
		ManualReview:      p.ManualReview,
	}
}

func conditionsFromNames(names []string) map[string]bool {
	if len(names) == 0 {
		return nil
	}
	conditions := make(map[string]bool, len(names))
	for _, name := range names {
		conditions[name] = false
	}
	return conditions
}
