package handler

import (
	"agent-settlement-engine/internal/service"
	"agent-settlement-engine/pkg/apperror"
	"agent-settlement-engine/pkg/response"

	"github.com/gin-gonic/gin"
)

// ReputationHandler handles reputation and trust endpoints.
type ReputationHandler struct {
	reputation *service.ReputationEngine
}

// NewReputationHandler creates a new ReputationHandler.
func NewReputationHandler(reputation *service.ReputationEngine) *ReputationHandler {
	return &ReputationHandler{reputation: reputation}
}

// Get handles GET /api/v1/reputation/:agent_id.
func (h *ReputationHandler) Get(c *gin.Context) {
	r, err := h.reputation.Get(c.Request.Context(), c.Param("agent_id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toReputationResponse(r))
}

// EvaluateTrust handles GET /api/v1/trust?agent_a=X&agent_b=Y.
func (h *ReputationHandler) EvaluateTrust(c *gin.Context) {
	agentA := c.Query("agent_a")
	agentB := c.Query("agent_b")
	if agentA == "" || agentB == "" {
		response.Error(c, apperror.Validation("agent_a and agent_b query parameters are required"))
		return
	}

	policy, err := h.reputation.EvaluateTrust(c.Request.Context(), agentA, agentB)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, toTrustPolicyResponse(policy))
}
