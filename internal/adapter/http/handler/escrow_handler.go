package handler

import (
	"fmt"
	"time"

	"agent-settlement-engine/internal/adapter/http/dto"
	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/service"
	"agent-settlement-engine/pkg/apperror"
	"agent-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// EscrowHandler handles escrow endpoints.
type EscrowHandler struct {
	escrows *service.EscrowEngine
}

// NewEscrowHandler creates a new EscrowHandler.
func NewEscrowHandler(escrows *service.EscrowEngine) *EscrowHandler {
	return &EscrowHandler{escrows: escrows}
}

// Create handles POST /api/v1/escrows.
func (h *EscrowHandler) Create(c *gin.Context) {
	var req dto.CreateEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	expiresAt, err := time.Parse(time.RFC3339, req.ExpiresAt)
	if err != nil {
		response.Error(c, apperror.Validation(fmt.Sprintf("expires_at: %v", err)))
		return
	}

	e, err := h.escrows.Create(c.Request.Context(), service.CreateEscrowParams{
		TransactionID:   req.TransactionID,
		SenderAgentID:   req.SenderAgentID,
		ReceiverAgentID: req.ReceiverAgentID,
		Amount:          req.Amount,
		Currency:        req.Currency,
		Conditions:      conditionsFromNames(req.Conditions),
		ExpiresAt:       expiresAt,
	})
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toEscrowResponse(e))
}

// Get handles GET /api/v1/escrows/:id.
func (h *EscrowHandler) Get(c *gin.Context) {
	e, err := h.escrows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}

// Deposit handles POST /api/v1/escrows/:id/deposit.
func (h *EscrowHandler) Deposit(c *gin.Context) {
	var req dto.DepositRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	e, err := h.escrows.Deposit(c.Request.Context(), c.Param("id"), req.DepositID, req.Depositor, req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}

// FulfillCondition handles POST /api/v1/escrows/:id/conditions.
func (h *EscrowHandler) FulfillCondition(c *gin.Context) {
	var req dto.FulfillConditionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	e, err := h.escrows.FulfillCondition(c.Request.Context(), c.Param("id"), req.Condition, req.FulfilledBy)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}

// Release handles POST /api/v1/escrows/:id/release.
func (h *EscrowHandler) Release(c *gin.Context) {
	var req dto.ReleaseEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	e, err := h.escrows.Release(c.Request.Context(), c.Param("id"), req.ReleasedBy, req.Reason, req.Override)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}

// Dispute handles POST /api/v1/escrows/:id/dispute.
func (h *EscrowHandler) Dispute(c *gin.Context) {
	var req dto.DisputeEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	e, err := h.escrows.Dispute(c.Request.Context(), c.Param("id"), req.DisputedBy, req.Reason, req.Evidence)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}

// Resolve handles POST /api/v1/escrows/:id/resolve.
func (h *EscrowHandler) Resolve(c *gin.Context) {
	var req dto.ResolveEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	current, err := h.escrows.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}

	resolutionType := domain.ResolutionType(req.ResolutionType)
	senderAmount, receiverAmount := req.SenderAmount, req.ReceiverAmount
	switch resolutionType {
	case domain.ResolutionReleaseToReceiver:
		senderAmount, receiverAmount = 0, current.FundedAmount
	case domain.ResolutionReturnToSender:
		senderAmount, receiverAmount = current.FundedAmount, 0
	}
	allocation, err := domain.NewAllocation(senderAmount, receiverAmount, current.FundedAmount)
	if err != nil {
		response.Error(c, err)
		return
	}

	e, err := h.escrows.Resolve(c.Request.Context(), c.Param("id"), req.ResolvedBy, resolutionType, allocation)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}

// Cancel handles POST /api/v1/escrows/:id/cancel.
func (h *EscrowHandler) Cancel(c *gin.Context) {
	var req dto.CancelEscrowRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	e, err := h.escrows.Cancel(c.Request.Context(), c.Param("id"), req.CancelledBy, req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toEscrowResponse(e))
}
