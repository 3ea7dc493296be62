package handler

import (
	"net/http"

	"agent-settlement-engine/internal/adapter/http/dto"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/internal/service"
	"agent-settlement-engine/pkg/apperror"
	"agent-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// WalletHandler handles wallet endpoints.
type WalletHandler struct {
	wallets *service.WalletLedger
}

// NewWalletHandler creates a new WalletHandler.
func NewWalletHandler(wallets *service.WalletLedger) *WalletHandler {
	return &WalletHandler{wallets: wallets}
}

// GetBalance handles GET /api/v1/wallets/:agent_id.
func (h *WalletHandler) GetBalance(c *gin.Context) {
	w, err := h.wallets.Balance(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(w))
}

// Credit handles POST /api/v1/wallets/:agent_id/credit.
func (h *WalletHandler) Credit(c *gin.Context) {
	var req dto.CreditRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}
	dto.SanitizeStruct(&req)

	w, err := h.wallets.Credit(c.Request.Context(), c.Param("agent_id"), req.Amount, req.Currency, req.Reference)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(w))
}

// Hold handles POST /api/v1/wallets/:agent_id/hold.
func (h *WalletHandler) Hold(c *gin.Context) {
	var req dto.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	w, err := h.wallets.Hold(c.Request.Context(), c.Param("agent_id"), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(w))
}

// ReleaseHold handles POST /api/v1/wallets/:agent_id/release.
func (h *WalletHandler) ReleaseHold(c *gin.Context) {
	var req dto.HoldRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, apperror.Validation(err.Error()))
		return
	}

	w, err := h.wallets.Release(c.Request.Context(), c.Param("agent_id"), req.Amount)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toWalletResponse(w))
}

// HealthCheck handles GET /health — deep health check verifying all dependencies.
func HealthCheck(checkers ...ports.HealthChecker) gin.HandlerFunc {
	return func(c *gin.Context) {
		type depStatus struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		}

		deps := make(map[string]depStatus)
		allHealthy := true

		for _, checker := range checkers {
			if err := checker.Ping(c.Request.Context()); err != nil {
				deps[checker.Name()] = depStatus{Status: "unhealthy", Error: err.Error()}
				allHealthy = false
			} else {
				deps[checker.Name()] = depStatus{Status: "healthy"}
			}
		}

		status := "healthy"
		httpCode := http.StatusOK
		if !allHealthy {
			status = "degraded"
			httpCode = http.StatusServiceUnavailable
		}

		c.JSON(httpCode, gin.H{
			"status":       status,
			"dependencies": deps,
		})
	}
}
