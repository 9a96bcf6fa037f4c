package risk

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
	"verification-service/internal/model"
	"verification-service/internal/store/memory"
)

func testGate(t *testing.T) (*Gate, *memory.FraudStore, *memory.RateLimitStore) {
	t.Helper()
	cfg := &config.Config{
		Risk: config.RiskConfig{
			RateLimiting:       true,
			FraudDetection:     true,
			RateLimitMax:       5,
			RateLimitWindow:    5 * time.Minute,
			BlockThreshold:     0.8,
			DensityWeight:      0.3,
			DensityThreshold:   5,
			RapidRetryWeight:   0.2,
			RapidRetryWindow:   time.Minute,
			SuspiciousUAWeight: 0.3,
			IPRiskWeight:       0.1,
		},
	}
	fraud := memory.NewFraudStore()
	limits := memory.NewRateLimitStore()
	return NewGate(cfg, limits, fraud), fraud, limits
}

func TestGateAllowsCleanRequest(t *testing.T) {
	gate, _, _ := testGate(t)

	decision, err := gate.Evaluate(context.Background(), "+14155550123", model.RequestContext{
		IPAddress: "203.0.113.1",
		UserAgent: "Mozilla/5.0",
	})
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Empty(t, decision.Reason)
	assert.InDelta(t, 0.1, decision.FraudScore, 0.001)
	assert.Equal(t, "low", decision.RiskLevel)
}

func TestGateBlockedNumberScoresMax(t *testing.T) {
	gate, fraud, _ := testGate(t)
	ctx := context.Background()
	require.NoError(t, fraud.SetBlocked(ctx, "+14155550123", true))

	decision, err := gate.Evaluate(ctx, "+14155550123", model.RequestContext{})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonFraudBlocked, decision.Reason)
	assert.Equal(t, 1.0, decision.FraudScore)
	assert.Equal(t, "high", decision.RiskLevel)
}

func TestGateSuspiciousAgentWeighsIn(t *testing.T) {
	gate, _, _ := testGate(t)

	score, err := gate.Score(context.Background(), "+14155550123", model.RequestContext{
		IPAddress: "203.0.113.1",
		UserAgent: "python-requests bot/2.0",
	})
	require.NoError(t, err)
	assert.InDelta(t, 0.4, score, 0.001) // suspicious UA + unknown IP
}

func TestGateAdditiveScoreBlocksAtThreshold(t *testing.T) {
	gate, fraud, _ := testGate(t)
	ctx := context.Background()
	phone := "+14155550123"

	// Build history: many attempts, the last one seconds ago.
	now := time.Now()
	for i := 0; i < 6; i++ {
		require.NoError(t, fraud.RecordAttempt(ctx, phone, now))
	}

	score, err := gate.Score(ctx, phone, model.RequestContext{
		IPAddress: "203.0.113.1",
		UserAgent: "scraper-agent",
	})
	require.NoError(t, err)
	// density 0.3 + rapid retry 0.2 + suspicious UA 0.3 + IP 0.1
	assert.InDelta(t, 0.9, score, 0.001)

	decision, err := gate.Evaluate(ctx, phone, model.RequestContext{
		IPAddress: "203.0.113.1",
		UserAgent: "scraper-agent",
	})
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonFraudBlocked, decision.Reason)
}

func TestGateScoreClampedToOne(t *testing.T) {
	gate, fraud, _ := testGate(t)
	ctx := context.Background()
	phone := "+14155550123"

	now := time.Now()
	for i := 0; i < 10; i++ {
		require.NoError(t, fraud.RecordAttempt(ctx, phone, now))
	}

	// Force every factor on, then crank the weights past 1.0 combined.
	gate.cfg.DensityWeight = 0.6
	gate.cfg.SuspiciousUAWeight = 0.6

	score, err := gate.Score(ctx, phone, model.RequestContext{
		IPAddress: "203.0.113.1",
		UserAgent: "automated-client",
	})
	require.NoError(t, err)
	assert.Equal(t, 1.0, score)
}

func TestGateRateLimitBoundary(t *testing.T) {
	gate, _, _ := testGate(t)
	ctx := context.Background()
	phone := "+14155550123"
	reqCtx := model.RequestContext{IPAddress: "203.0.113.1", UserAgent: "Mozilla/5.0"}

	// Exactly max requests pass.
	for i := 0; i < 5; i++ {
		decision, err := gate.Evaluate(ctx, phone, reqCtx)
		require.NoError(t, err)
		assert.True(t, decision.Allowed, "request %d should pass", i+1)
	}

	// The next one is denied with a positive retry hint.
	decision, err := gate.Evaluate(ctx, phone, reqCtx)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonRateLimited, decision.Reason)
	assert.Greater(t, decision.RetryAfter, time.Duration(0))
}

func TestGateRateLimitIsolatedPerPhone(t *testing.T) {
	gate, _, _ := testGate(t)
	ctx := context.Background()
	reqCtx := model.RequestContext{IPAddress: "203.0.113.1", UserAgent: "Mozilla/5.0"}

	for i := 0; i < 6; i++ {
		_, err := gate.Evaluate(ctx, "+14155550100", reqCtx)
		require.NoError(t, err)
	}

	decision, err := gate.Evaluate(ctx, "+14155550101", reqCtx)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestGateFraudBlockWinsOverRateLimit(t *testing.T) {
	gate, fraud, _ := testGate(t)
	ctx := context.Background()
	phone := "+14155550123"
	reqCtx := model.RequestContext{IPAddress: "203.0.113.1", UserAgent: "Mozilla/5.0"}

	for i := 0; i < 6; i++ {
		_, err := gate.Evaluate(ctx, phone, reqCtx)
		require.NoError(t, err)
	}
	require.NoError(t, fraud.SetBlocked(ctx, phone, true))

	decision, err := gate.Evaluate(ctx, phone, reqCtx)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, ReasonFraudBlocked, decision.Reason)
}

func TestGateDisabledChecksAllowEverything(t *testing.T) {
	gate, fraud, _ := testGate(t)
	gate.cfg.RateLimiting = false
	gate.cfg.FraudDetection = false
	ctx := context.Background()
	phone := "+14155550123"
	require.NoError(t, fraud.SetBlocked(ctx, phone, true))

	for i := 0; i < 20; i++ {
		decision, err := gate.Evaluate(ctx, phone, model.RequestContext{UserAgent: "bot"})
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}
}
