package dto

// CreditRequest is the request body for crediting an agent wallet.
type CreditRequest struct {
	Amount    int64  `json:"amount" binding:"required,gt=0"`
	Currency  string `json:"currency" binding:"required,len=3"`
	Reference string `json:"reference" binding:"max=100"`
}

// HoldRequest is the request body for placing or releasing a wallet hold.
type HoldRequest struct {
	Amount int64 `json:"amount" binding:"required,gt=0"`
}

// WalletResponse is the response body for wallet state.
type WalletResponse struct {
	AgentID          string `json:"agent_id"`
	Currency         string `json:"currency"`
	AvailableBalance int64  `json:"available_balance"`
	HeldBalance      int64  `json:"held_balance"`
	TotalBalance     int64  `json:"total_balance"`
}

// InitiateTransactionRequest is the request body for initiating a transaction.
type InitiateTransactionRequest struct {
	FromAgentID      string            `json:"from_agent_id" binding:"required,safe_id,max=100"`
	ToAgentID        string            `json:"to_agent_id" binding:"required,safe_id,max=100"`
	Amount           int64             `json:"amount" binding:"required,gt=0"`
	Currency         string            `json:"currency" binding:"required,len=3"`
	Type             string            `json:"type" binding:"required,oneof=direct escrow"`
	Metadata         map[string]string `json:"metadata,omitempty"`
	EscrowConditions []string          `json:"escrow_conditions,omitempty"`
	EscrowExpiresAt  *string           `json:"escrow_expires_at,omitempty"` // RFC3339
}

// FailTransactionRequest is the request body for failing a transaction.
type FailTransactionRequest struct {
	Reason   string            `json:"reason" binding:"required,max=500"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// CancelTransactionRequest is the request body for cancelling a transaction.
type CancelTransactionRequest struct {
	Reason string `json:"reason" binding:"required,max=500"`
}

// TransactionResponse is the response body for transaction state.
type TransactionResponse struct {
	TransactionID string            `json:"transaction_id"`
	FromAgentID   string            `json:"from_agent_id"`
	ToAgentID     string            `json:"to_agent_id"`
	Amount        int64             `json:"amount"`
	Fee           int64             `json:"fee"`
	Currency      string            `json:"currency"`
	Type          string            `json:"type"`
	Status        string            `json:"status"`
	EscrowID      string            `json:"escrow_id,omitempty"`
	FailureReason string            `json:"failure_reason,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
}

// CreateEscrowRequest is the request body for opening a standalone escrow.
type CreateEscrowRequest struct {
	TransactionID   string   `json:"transaction_id,omitempty"`
	SenderAgentID   string   `json:"sender_agent_id" binding:"required,safe_id,max=100"`
	ReceiverAgentID string   `json:"receiver_agent_id" binding:"required,safe_id,max=100"`
	Amount          int64    `json:"amount" binding:"required,gt=0"`
	Currency        string   `json:"currency" binding:"required,len=3"`
	Conditions      []string `json:"conditions,omitempty"`
	ExpiresAt       string   `json:"expires_at" binding:"required"` // RFC3339
}

// DepositRequest is the request body for funding an escrow.
type DepositRequest struct {
	DepositID string `json:"deposit_id" binding:"required,safe_id,max=100"`
	Depositor string `json:"depositor" binding:"required,safe_id,max=100"`
	Amount    int64  `json:"amount" binding:"required,gt=0"`
}

// FulfillConditionRequest is the request body for marking a condition met.
type FulfillConditionRequest struct {
	Condition   string `json:"condition" binding:"required,max=100"`
	FulfilledBy string `json:"fulfilled_by" binding:"required,safe_id,max=100"`
}

// ReleaseEscrowRequest is the request body for releasing escrowed funds.
type ReleaseEscrowRequest struct {
	ReleasedBy string `json:"released_by" binding:"required,safe_id,max=100"`
	Reason     string `json:"reason" binding:"max=500"`
	Override   bool   `json:"override,omitempty"`
}

// DisputeEscrowRequest is the request body for disputing an escrow.
type DisputeEscrowRequest struct {
	DisputedBy string `json:"disputed_by" binding:"required,safe_id,max=100"`
	Reason     string `json:"reason" binding:"required,max=500"`
	Evidence   string `json:"evidence,omitempty" binding:"max=2000"`
}

// ResolveEscrowRequest is the request body for resolving a disputed escrow.
type ResolveEscrowRequest struct {
	ResolvedBy     string `json:"resolved_by" binding:"required,safe_id,max=100"`
	ResolutionType string `json:"resolution_type" binding:"required,oneof=release_to_receiver return_to_sender split"`
	SenderAmount   int64  `json:"sender_amount" binding:"gte=0"`
	ReceiverAmount int64  `json:"receiver_amount" binding:"gte=0"`
}

// CancelEscrowRequest is the request body for cancelling an unfunded escrow.
type CancelEscrowRequest struct {
	CancelledBy string `json:"cancelled_by" binding:"required,safe_id,max=100"`
	Reason      string `json:"reason" binding:"max=500"`
}

// EscrowResponse is the response body for escrow state.
type EscrowResponse struct {
	EscrowID        string          `json:"escrow_id"`
	TransactionID   string          `json:"transaction_id,omitempty"`
	SenderAgentID   string          `json:"sender_agent_id"`
	ReceiverAgentID string          `json:"receiver_agent_id"`
	Amount          int64           `json:"amount"`
	FundedAmount    int64           `json:"funded_amount"`
	Currency        string          `json:"currency"`
	Status          string          `json:"status"`
	Conditions      map[string]bool `json:"conditions,omitempty"`
	ExpiresAt       string          `json:"expires_at"`
}

// ReputationResponse is the response body for an agent's reputation.
type ReputationResponse struct {
	AgentID                string  `json:"agent_id"`
	Score                  float64 `json:"score"`
	TrustLevel             string  `json:"trust_level"`
	TotalTransactions      int64   `json:"total_transactions"`
	SuccessfulTransactions int64   `json:"successful_transactions"`
	FailedTransactions     int64   `json:"failed_transactions"`
	DisputedTransactions   int64   `json:"disputed_transactions"`
}

// TrustPolicyResponse is the response body for a pairwise trust evaluation.
type TrustPolicyResponse struct {
	CombinedScore     float64 `json:"combined_score"`
	RequireEscrow     bool    `json:"require_escrow"`
	InstantSettlement bool    `json:"instant_settlement"`
	MaxAmount         int64   `json:"max_amount"`
	ManualReview      bool    `json:"manual_review"`
}
