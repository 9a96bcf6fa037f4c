// Package redisstore implements the rate-limit and fraud-signal ports on
// Redis so gate decisions are shared across service instances.
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/model"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

const (
	rateLimitPrefix  = "rate_limit:verify:"
	fraudPrefix      = "fraud:phone:"
	resendLockPrefix = "resend_lock:"
)

// RateLimitStore implements store.RateLimitStore with a fixed window
// anchored at the first request. INCR and the conditional EXPIRE run in one
// Lua script so concurrent first hits cannot leave the key without a TTL.
type RateLimitStore struct {
	client *client.RedisClient
}

func NewRateLimitStore(client *client.RedisClient) *RateLimitStore {
	return &RateLimitStore{client: client}
}

// hitScript increments the counter and sets the TTL only on the hit that
// opened the window. Returns {count, remaining_ms}.
const hitScript = `
    local count = redis.call('INCR', KEYS[1])
    if count == 1 then
        redis.call('PEXPIRE', KEYS[1], ARGV[1])
        return {count, tonumber(ARGV[1])}
    end
    local ttl = redis.call('PTTL', KEYS[1])
    if ttl < 0 then
        redis.call('PEXPIRE', KEYS[1], ARGV[1])
        ttl = tonumber(ARGV[1])
    end
    return {count, ttl}
`

func (s *RateLimitStore) Hit(ctx context.Context, phone string, window time.Duration) (int, time.Time, error) {
	key := rateLimitPrefix + phone

	result, err := s.client.Eval(ctx, hitScript, []string{key}, window.Milliseconds())
	if err != nil {
		util.Error("Failed to increment rate limit counter",
			zap.String("phone_number", phone),
			zap.Duration("window", window),
			zap.Error(err))
		return 0, time.Time{}, fmt.Errorf("failed to increment rate limit counter: %w", err)
	}

	resultSlice, ok := result.([]interface{})
	if !ok || len(resultSlice) != 2 {
		return 0, time.Time{}, fmt.Errorf("unexpected result format from rate limit script")
	}

	count := int(resultSlice[0].(int64))
	remaining := time.Duration(resultSlice[1].(int64)) * time.Millisecond
	resetAt := time.Now().Add(remaining)

	util.Debug("Rate limit counter incremented",
		zap.String("phone_number", phone),
		zap.Int("count", count),
		zap.Duration("window_remaining", remaining))

	return count, resetAt, nil
}

func (s *RateLimitStore) Peek(ctx context.Context, phone string) (model.RateLimitWindow, error) {
	key := rateLimitPrefix + phone

	countStr, err := s.client.Get(ctx, key)
	if err != nil {
		if err.Error() == fmt.Sprintf("key not found: %s", key) {
			return model.RateLimitWindow{}, store.ErrNotFound
		}
		return model.RateLimitWindow{}, fmt.Errorf("failed to get rate limit counter: %w", err)
	}

	count, err := strconv.Atoi(countStr)
	if err != nil {
		return model.RateLimitWindow{}, fmt.Errorf("invalid counter format: %w", err)
	}

	ttl, err := s.client.TTL(ctx, key)
	if err != nil {
		return model.RateLimitWindow{}, fmt.Errorf("failed to get rate limit ttl: %w", err)
	}

	return model.RateLimitWindow{
		Count:   count,
		ResetAt: time.Now().Add(ttl),
	}, nil
}

// ResendLock guards the resend cooldown, keyed by phone number. Acquire
// returns false when another resend claimed the cooldown first.
type ResendLock struct {
	client *client.RedisClient
}

func NewResendLock(client *client.RedisClient) *ResendLock {
	return &ResendLock{client: client}
}

func (l *ResendLock) Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	lockKey := resendLockPrefix + key
	ok, err := l.client.SetNX(ctx, lockKey, "locked", ttl)
	if err != nil {
		util.Error("Failed to set resend lock",
			zap.String("key", key),
			zap.Duration("ttl", ttl),
			zap.Error(err))
		return false, fmt.Errorf("failed to set resend lock: %w", err)
	}
	return ok, nil
}
