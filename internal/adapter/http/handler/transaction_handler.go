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

// TransactionHandler handles transaction lifecycle endpoints.
type TransactionHandler struct {
	orch *service.TransactionOrchestrator
}

// NewTransactionHandler creates a new TransactionHandler.
func NewTransactionHandler(orch *service.TransactionOrchestrator) *TransactionHandler {
	return &TransactionHandler{orch: orch}
}

// Initiate handles POST /api/v1/transactions.
func (h *TransactionHandler) Initiate(c *gin.Context) {
	var req dto.InitiateTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	params := service.InitiateParams{
		FromAgentID:      req.FromAgentID,
		ToAgentID:        req.ToAgentID,
		Amount:           req.Amount,
		Currency:         req.Currency,
		Type:             domain.TransactionType(req.Type),
		Metadata:         req.Metadata,
		EscrowConditions: conditionsFromNames(req.EscrowConditions),
	}
	if req.EscrowExpiresAt != nil {
		expiresAt, err := time.Parse(time.RFC3339, *req.EscrowExpiresAt)
		if err != nil {
			response.Error(c, apperror.Validation(fmt.Sprintf("escrow_expires_at: %v", err)))
			return
		}
		params.EscrowExpiresAt = expiresAt
	}

	tx, err := h.orch.Initiate(c.Request.Context(), params)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, toTransactionResponse(tx))
}

// Get handles GET /api/v1/transactions/:id.
func (h *TransactionHandler) Get(c *gin.Context) {
	tx, err := h.orch.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}

// Validate handles POST /api/v1/transactions/:id/validate.
func (h *TransactionHandler) Validate(c *gin.Context) {
	tx, err := h.orch.Validate(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}

// Complete handles POST /api/v1/transactions/:id/complete.
func (h *TransactionHandler) Complete(c *gin.Context) {
	var metadata map[string]string
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&metadata); err != nil {
			response.Error(c, apperror.Validation(err.Error()))
			return
		}
	}

	tx, err := h.orch.Complete(c.Request.Context(), c.Param("id"), metadata)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}

// Fail handles POST /api/v1/transactions/:id/fail.
func (h *TransactionHandler) Fail(c *gin.Context) {
	var req dto.FailTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	tx, err := h.orch.Fail(c.Request.Context(), c.Param("id"), req.Reason, req.Metadata)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}

// Cancel handles POST /api/v1/transactions/:id/cancel.
func (h *TransactionHandler) Cancel(c *gin.Context) {
	var req dto.CancelTransactionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	tx, err := h.orch.Cancel(c.Request.Context(), c.Param("id"), req.Reason)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTransactionResponse(tx))
}
