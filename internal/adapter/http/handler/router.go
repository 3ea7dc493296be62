package handler

import (
	"agent-settlement-engine/internal/adapter/http/middleware"
	redisStore "agent-settlement-engine/internal/adapter/storage/redis"
	"agent-settlement-engine/internal/core/ports"
	"agent-settlement-engine/internal/service"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// RouterDeps holds all dependencies needed to set up routes.
type RouterDeps struct {
	Wallets        *service.WalletLedger
	Escrows        *service.EscrowEngine
	Orchestrator   *service.TransactionOrchestrator
	Reputation     *service.ReputationEngine
	RateLimitStore *redisStore.RateLimitStore // nil = rate limiting disabled
	HealthCheckers []ports.HealthChecker
	Logger         zerolog.Logger
}

// SetupRouter initialises the Gin engine with all routes and middleware.
func SetupRouter(deps RouterDeps) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()

	// Global middleware
	r.Use(middleware.Recovery(deps.Logger))
	r.Use(middleware.RequestID())
	r.Use(middleware.RequestLogger(deps.Logger))
	r.Use(middleware.MaxBodySize(1 << 20)) // 1 MB request body limit

	// Health check (deep — verifies PostgreSQL + Redis)
	r.GET("/health", HealthCheck(deps.HealthCheckers...))

	// Rate limit rules
	rules := middleware.DefaultRateLimitRules()

	// Helper: return rate limiter middleware if store is available, else noop.
	rl := func(group string) gin.HandlerFunc {
		if deps.RateLimitStore == nil {
			return func(c *gin.Context) { c.Next() }
		}
		rule, ok := rules[group]
		if !ok {
			return func(c *gin.Context) { c.Next() }
		}
		return middleware.RateLimiter(deps.RateLimitStore, group, rule, deps.Logger)
	}

	// API v1 routes
	v1 := r.Group("/api/v1")

	walletHandler := NewWalletHandler(deps.Wallets)
	wallets := v1.Group("/wallets")
	{
		wallets.GET("/:agent_id", rl("queries"), walletHandler.GetBalance)
		wallets.POST("/:agent_id/credit", rl("wallets"), walletHandler.Credit)
		wallets.POST("/:agent_id/hold", rl("wallets"), walletHandler.Hold)
		wallets.POST("/:agent_id/release", rl("wallets"), walletHandler.ReleaseHold)
	}

	transactionHandler := NewTransactionHandler(deps.Orchestrator)
	transactions := v1.Group("/transactions")
	{
		transactions.POST("", rl("transactions"), transactionHandler.Initiate)
		transactions.GET("/:id", rl("queries"), transactionHandler.Get)
		transactions.POST("/:id/validate", rl("transactions"), transactionHandler.Validate)
		transactions.POST("/:id/complete", rl("transactions"), transactionHandler.Complete)
		transactions.POST("/:id/fail", rl("transactions"), transactionHandler.Fail)
		transactions.POST("/:id/cancel", rl("transactions"), transactionHandler.Cancel)
	}

	escrowHandler := NewEscrowHandler(deps.Escrows)
	escrows := v1.Group("/escrows")
	{
		escrows.POST("", rl("escrows"), escrowHandler.Create)
		escrows.GET("/:id", rl("queries"), escrowHandler.Get)
		escrows.POST("/:id/deposit", rl("escrows"), escrowHandler.Deposit)
		escrows.POST("/:id/conditions", rl("escrows"), escrowHandler.FulfillCondition)
		escrows.POST("/:id/release", rl("escrows"), escrowHandler.Release)
		escrows.POST("/:id/dispute", rl("escrows"), escrowHandler.Dispute)
		escrows.POST("/:id/resolve", rl("escrows"), escrowHandler.Resolve)
		escrows.POST("/:id/cancel", rl("escrows"), escrowHandler.Cancel)
	}

	reputationHandler := NewReputationHandler(deps.Reputation)
	reputation := v1.Group("/reputation")
	{
		reputation.GET("/:agent_id", rl("queries"), reputationHandler.Get)
	}
	v1.GET("/trust", rl("queries"), reputationHandler.EvaluateTrust)

	return r
}
