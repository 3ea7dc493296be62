// Package compliance provides a rule-based implementation of the
// compliance port: amount ceiling, currency allowlist, and a review flag
// for large transactions. A production deployment would swap in a client
// for an external screening service behind the same port.
package compliance

import (
	"context"
	"strings"

	"agent-settlement-engine/config"
	"agent-settlement-engine/internal/core/ports"

	"github.com/rs/zerolog"
)

// RuleChecker implements ports.ComplianceChecker with static rules.
type RuleChecker struct {
	maxAmount       int64
	reviewThreshold int64
	currencies      map[string]bool
	log             zerolog.Logger
}

// NewRuleChecker creates a RuleChecker from configuration.
func NewRuleChecker(cfg config.ComplianceConfig, log zerolog.Logger) *RuleChecker {
	currencies := make(map[string]bool, len(cfg.AllowedCurrencies))
	for _, c := range cfg.AllowedCurrencies {
		currencies[strings.ToUpper(c)] = true
	}
	return &RuleChecker{
		maxAmount:       cfg.MaxAmount,
		reviewThreshold: cfg.ReviewThreshold,
		currencies:      currencies,
		log:             log,
	}
}

// Check evaluates the transaction against the rule set. Rules that fail the
// check reject outright; the review threshold only flags.
func (c *RuleChecker) Check(_ context.Context, txCtx ports.TransactionContext) (ports.ComplianceResult, error) {
	var flags []string
	passed := true

	if c.maxAmount > 0 && txCtx.Amount > c.maxAmount {
		flags = append(flags, "amount_exceeds_limit")
		passed = false
	}
	if len(c.currencies) > 0 && !c.currencies[strings.ToUpper(txCtx.Currency)] {
		flags = append(flags, "currency_not_allowed")
		passed = false
	}
	if passed && c.reviewThreshold > 0 && txCtx.Amount >= c.reviewThreshold {
		flags = append(flags, "manual_review_recommended")
	}

	if !passed {
		c.log.Info().
			Str("transaction_id", txCtx.TransactionID).
			Strs("flags", flags).
			Msg("compliance check rejected transaction")
	}
	return ports.ComplianceResult{Passed: passed, Flags: flags}, nil
}
