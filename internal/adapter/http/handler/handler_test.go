package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"agent-settlement-engine/internal/adapter/eventlog/memory"
	"agent-settlement-engine/internal/core/domain"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/internal/core/ports/mocks"
	"agent-settlement-engine/internal/service"
	"agent-settlement-engine/pkg/apperror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type apiFixture struct {
	router     *gin.Engine
	wallets    *service.WalletLedger
	compliance *mocks.MockComplianceChecker
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()
	ctrl := gomock.NewController(t)
	store := memory.NewEventStore()
	wallets := service.NewWalletLedger(store, nil, 0, zerolog.Nop())
	escrows := service.NewEscrowEngine(store, wallets, nil, nil, zerolog.Nop())
	reputation := service.NewReputationEngine(store, domain.DefaultReputationWeights(), zerolog.Nop())
	compliance := mocks.NewMockComplianceChecker(ctrl)

	orch := service.NewTransactionOrchestrator(service.OrchestratorParams{
		Events:     store,
		Wallets:    wallets,
		Escrows:    escrows,
		Reputation: reputation,
		Compliance: compliance,
		Fees:       service.FeeSchedule{Rate: 0.025, MinFee: 50, MaxFee: 10_000, ExemptionThreshold: 100},
		Collector:  "platform-fees",
		EscrowTTL:  time.Hour,
		Log:        zerolog.Nop(),
	})

	router := SetupRouter(RouterDeps{
		Wallets:      wallets,
		Escrows:      escrows,
		Orchestrator: orch,
		Reputation:   reputation,
		Logger:       zerolog.Nop(),
	})
	return &apiFixture{router: router, wallets: wallets, compliance: compliance}
}

func (f *apiFixture) do(t *testing.T, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	f.router.ServeHTTP(w, req)
	return w
}

func data(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	d, ok := resp["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %s", w.Body.String())
	return d
}

// --- Wallet endpoints ---

func TestWalletAPI_CreditAndBalance(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{
		"amount": 5000, "currency": "USD", "reference": "seed",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/wallets/alice", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(5000), d["available_balance"])
	assert.Equal(t, "USD", d["currency"])
}

func TestWalletAPI_BalanceUnknownAgent(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/wallets/ghost", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)

	var resp map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, apperror.CodeNotFound, resp["error_code"])
	assert.NotEmpty(t, resp["request_id"])
}

func TestWalletAPI_HoldAndRelease(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 1000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/wallets/alice/hold", gin.H{"amount": 400})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(400), data(t, w)["held_balance"])

	w = f.do(t, http.MethodPost, "/api/v1/wallets/alice/release", gin.H{"amount": 400})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, float64(0), data(t, w)["held_balance"])
}

func TestWalletAPI_CreditValidation(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": -5, "currency": "USD"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Transaction endpoints ---

func TestTransactionAPI_DirectLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.compliance.EXPECT().Check(gomock.Any(), gomock.Any()).
		Return(ports.ComplianceResult{Passed: true}, nil).AnyTimes()
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 20000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/transactions", gin.H{
		"from_agent_id": "alice", "to_agent_id": "bob",
		"amount": 10000, "currency": "USD", "type": "direct",
	})
	require.Equal(t, http.StatusCreated, w.Code)
	d := data(t, w)
	txID := d["transaction_id"].(string)
	assert.Equal(t, "initiated", d["status"])
	assert.Equal(t, float64(250), d["fee"])

	w = f.do(t, http.MethodPost, "/api/v1/transactions/"+txID+"/validate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "validated", data(t, w)["status"])

	w = f.do(t, http.MethodPost, "/api/v1/transactions/"+txID+"/complete", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "completed", data(t, w)["status"])

	w = f.do(t, http.MethodGet, "/api/v1/wallets/bob", nil)
	assert.Equal(t, float64(10000), data(t, w)["available_balance"])
}

func TestTransactionAPI_InitiateRejectsBadType(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/transactions", gin.H{
		"from_agent_id": "alice", "to_agent_id": "bob",
		"amount": 1000, "currency": "USD", "type": "wire",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTransactionAPI_CancelReleasesHold(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 20000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/transactions", gin.H{
		"from_agent_id": "alice", "to_agent_id": "bob",
		"amount": 10000, "currency": "USD", "type": "direct",
	})
	txID := data(t, w)["transaction_id"].(string)

	w = f.do(t, http.MethodPost, "/api/v1/transactions/"+txID+"/cancel", gin.H{"reason": "buyer changed mind"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "cancelled", data(t, w)["status"])

	w = f.do(t, http.MethodGet, "/api/v1/wallets/alice", nil)
	assert.Equal(t, float64(20000), data(t, w)["available_balance"])
}

func TestTransactionAPI_ComplianceRejection(t *testing.T) {
	f := newAPIFixture(t)
	f.compliance.EXPECT().Check(gomock.Any(), gomock.Any()).
		Return(ports.ComplianceResult{Passed: false, Flags: []string{"amount_exceeds_limit"}}, nil)
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 20000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/transactions", gin.H{
		"from_agent_id": "alice", "to_agent_id": "bob",
		"amount": 10000, "currency": "USD", "type": "direct",
	})
	txID := data(t, w)["transaction_id"].(string)

	w = f.do(t, http.MethodPost, "/api/v1/transactions/"+txID+"/validate", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

// --- Escrow endpoints ---

func escrowExpiry() string {
	return time.Now().Add(24 * time.Hour).UTC().Format(time.RFC3339)
}

func TestEscrowAPI_FullLifecycle(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 5000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/escrows", gin.H{
		"sender_agent_id": "alice", "receiver_agent_id": "bob",
		"amount": 3000, "currency": "USD",
		"conditions": []string{"delivery_confirmed"},
		"expires_at": escrowExpiry(),
	})
	require.Equal(t, http.StatusCreated, w.Code)
	escrowID := data(t, w)["escrow_id"].(string)

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/deposit", gin.H{
		"deposit_id": "dep-1", "depositor": "alice", "amount": 3000,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "funded", data(t, w)["status"])

	// Release blocked until the condition is met.
	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release", gin.H{"released_by": "bob"})
	assert.Equal(t, http.StatusConflict, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/conditions", gin.H{
		"condition": "delivery_confirmed", "fulfilled_by": "bob",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release", gin.H{"released_by": "bob"})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "released", data(t, w)["status"])

	w = f.do(t, http.MethodGet, "/api/v1/wallets/bob", nil)
	assert.Equal(t, float64(3000), data(t, w)["available_balance"])
}

func TestEscrowAPI_DisputeAndSplitResolution(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 5000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/escrows", gin.H{
		"sender_agent_id": "alice", "receiver_agent_id": "bob",
		"amount": 1000, "currency": "USD", "expires_at": escrowExpiry(),
	})
	escrowID := data(t, w)["escrow_id"].(string)
	f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/deposit", gin.H{
		"deposit_id": "dep-1", "depositor": "alice", "amount": 1000,
	})

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/dispute", gin.H{
		"disputed_by": "bob", "reason": "partial delivery",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "disputed", data(t, w)["status"])

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/resolve", gin.H{
		"resolved_by": "arbiter-1", "resolution_type": "split",
		"sender_amount": 400, "receiver_amount": 600,
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "resolved", data(t, w)["status"])

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/release", gin.H{"released_by": "arbiter-1"})
	require.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/api/v1/wallets/bob", nil)
	assert.Equal(t, float64(600), data(t, w)["available_balance"])
	w = f.do(t, http.MethodGet, "/api/v1/wallets/alice", nil)
	assert.Equal(t, float64(4400), data(t, w)["available_balance"])
}

func TestEscrowAPI_ResolveUnbalancedAllocation(t *testing.T) {
	f := newAPIFixture(t)
	f.do(t, http.MethodPost, "/api/v1/wallets/alice/credit", gin.H{"amount": 5000, "currency": "USD"})

	w := f.do(t, http.MethodPost, "/api/v1/escrows", gin.H{
		"sender_agent_id": "alice", "receiver_agent_id": "bob",
		"amount": 1000, "currency": "USD", "expires_at": escrowExpiry(),
	})
	escrowID := data(t, w)["escrow_id"].(string)
	f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/deposit", gin.H{
		"deposit_id": "dep-1", "depositor": "alice", "amount": 1000,
	})
	f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/dispute", gin.H{
		"disputed_by": "bob", "reason": "partial delivery",
	})

	w = f.do(t, http.MethodPost, "/api/v1/escrows/"+escrowID+"/resolve", gin.H{
		"resolved_by": "arbiter-1", "resolution_type": "split",
		"sender_amount": 400, "receiver_amount": 700,
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestEscrowAPI_CreateRejectsBadExpiry(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodPost, "/api/v1/escrows", gin.H{
		"sender_agent_id": "alice", "receiver_agent_id": "bob",
		"amount": 1000, "currency": "USD", "expires_at": "tomorrow",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

// --- Reputation endpoints ---

func TestReputationAPI_UnknownAgentHasInitialScore(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/reputation/newcomer", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(domain.InitialScore), d["score"])
	assert.Equal(t, "neutral", d["trust_level"])
}

func TestReputationAPI_TrustRequiresBothAgents(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/trust?agent_a=alice", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestReputationAPI_TrustPolicy(t *testing.T) {
	f := newAPIFixture(t)

	w := f.do(t, http.MethodGet, "/api/v1/trust?agent_a=alice&agent_b=bob", nil)
	require.Equal(t, http.StatusOK, w.Code)
	d := data(t, w)
	assert.Equal(t, float64(domain.InitialScore), d["combined_score"])
	assert.Equal(t, true, d["require_escrow"])
}

// --- Health endpoint ---

type healthyChecker struct{}

func (healthyChecker) Ping(ctx context.Context) error { return nil }
func (healthyChecker) Name() string                   { return "postgresql" }

type brokenChecker struct{}

func (brokenChecker) Ping(ctx context.Context) error { return errors.New("connection refused") }
func (brokenChecker) Name() string                   { return "redis" }

func TestHealthCheck_AllHealthy(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck(healthyChecker{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"healthy"`)
}

func TestHealthCheck_Degraded(t *testing.T) {
	router := gin.New()
	router.GET("/health", HealthCheck(healthyChecker{}, brokenChecker{}))

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"status":"degraded"`)
}
