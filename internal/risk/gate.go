// Package risk decides whether a verification request may proceed. The gate
// combines a per-phone rate limit with an additive fraud score; either one
// can deny the request.
package risk

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/model"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

// Deny reasons carried on the gate decision.
const (
	ReasonFraudBlocked = "fraud_blocked"
	ReasonRateLimited  = "rate_limited"
)

// Decision is the gate's verdict for one request.
type Decision struct {
	Allowed    bool
	Reason     string
	FraudScore float64
	RiskLevel  string
	RetryAfter time.Duration // set when rate limited
}

// Gate evaluates fraud risk and rate limits ahead of any provider dispatch.
type Gate struct {
	cfg        *config.RiskConfig
	rateLimits store.RateLimitStore
	fraud      store.FraudStore
	now        func() time.Time
}

func NewGate(cfg *config.Config, rateLimits store.RateLimitStore, fraud store.FraudStore) *Gate {
	return &Gate{
		cfg:        &cfg.Risk,
		rateLimits: rateLimits,
		fraud:      fraud,
		now:        time.Now,
	}
}

// Evaluate runs the fraud scorer and then the rate limiter. A fraud block
// wins over a rate limit, so a blocked number reports fraud_blocked even
// when its counter is also exhausted. On allow the per-phone history is
// updated so later scores see this request.
func (g *Gate) Evaluate(ctx context.Context, phone string, reqCtx model.RequestContext) (*Decision, error) {
	decision := &Decision{Allowed: true, RiskLevel: model.RiskLevelForScore(0)}

	if g.cfg.FraudDetection {
		score, err := g.Score(ctx, phone, reqCtx)
		if err != nil {
			return nil, fmt.Errorf("fraud scoring failed: %w", err)
		}
		decision.FraudScore = score
		decision.RiskLevel = model.RiskLevelForScore(score)

		if score > g.cfg.BlockThreshold {
			decision.Allowed = false
			decision.Reason = ReasonFraudBlocked
			util.Warn("Verification blocked by fraud scorer",
				zap.String("phone_number", phone),
				zap.Float64("fraud_score", score),
				zap.String("risk_level", decision.RiskLevel))
			return decision, nil
		}
	}

	if g.cfg.RateLimiting {
		count, resetAt, err := g.rateLimits.Hit(ctx, phone, g.cfg.RateLimitWindow)
		if err != nil {
			return nil, fmt.Errorf("rate limit check failed: %w", err)
		}

		if count > g.cfg.RateLimitMax {
			decision.Allowed = false
			decision.Reason = ReasonRateLimited
			decision.RetryAfter = time.Until(resetAt)
			if decision.RetryAfter < 0 {
				decision.RetryAfter = 0
			}
			util.Warn("Verification rate limited",
				zap.String("phone_number", phone),
				zap.Int("count", count),
				zap.Duration("retry_after", decision.RetryAfter))
			return decision, nil
		}
	}

	if g.cfg.FraudDetection {
		if err := g.fraud.RecordAttempt(ctx, phone, g.now()); err != nil {
			// History update is advisory; the request already passed.
			util.Warn("Failed to record fraud history",
				zap.String("phone_number", phone),
				zap.Error(err))
		}
	}

	return decision, nil
}

// Score computes the additive fraud score for a request without mutating any
// state. An explicitly blocked number scores 1.0 outright.
func (g *Gate) Score(ctx context.Context, phone string, reqCtx model.RequestContext) (float64, error) {
	sig, err := g.fraud.Signal(ctx, phone)
	if err != nil {
		return 0, err
	}

	if sig.Blocked {
		return 1.0, nil
	}

	score := 0.0

	if sig.Attempts > g.cfg.DensityThreshold {
		score += g.cfg.DensityWeight
	}

	if !sig.LastAttempt.IsZero() && g.now().Sub(sig.LastAttempt) < g.cfg.RapidRetryWindow {
		score += g.cfg.RapidRetryWeight
	}

	if util.SuspiciousAgent(reqCtx.UserAgent) {
		score += g.cfg.SuspiciousUAWeight
	}

	if g.ipRisky(reqCtx.IPAddress) {
		score += g.cfg.IPRiskWeight
	}

	if score > 1.0 {
		score = 1.0
	}
	return score, nil
}

// ipRisky is a stub for an IP reputation feed. Until one is wired it treats
// every address as mildly unknown, matching the fixed weight contribution.
func (g *Gate) ipRisky(ip string) bool {
	return ip != ""
}

// Block flags a phone so every subsequent request scores 1.0.
func (g *Gate) Block(ctx context.Context, phone string) error {
	return g.fraud.SetBlocked(ctx, phone, true)
}

// Unblock clears the explicit block flag.
func (g *Gate) Unblock(ctx context.Context, phone string) error {
	return g.fraud.SetBlocked(ctx, phone, false)
}
