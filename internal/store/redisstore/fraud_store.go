package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/client"
	"verification-service/internal/model"
	"verification-service/internal/util"
)

// fraudSignalTTL bounds how long per-phone history survives without new
// activity. Stale history should not penalize a phone forever.
const fraudSignalTTL = 24 * time.Hour

// FraudStore implements store.FraudStore on a Redis hash per phone.
type FraudStore struct {
	client *client.RedisClient
}

func NewFraudStore(client *client.RedisClient) *FraudStore {
	return &FraudStore{client: client}
}

func (s *FraudStore) Signal(ctx context.Context, phone string) (model.FraudSignal, error) {
	key := fraudPrefix + phone

	fields, err := s.client.HGetAll(ctx, key)
	if err != nil {
		util.Error("Failed to read fraud signal",
			zap.String("phone_number", phone),
			zap.Error(err))
		return model.FraudSignal{}, fmt.Errorf("failed to read fraud signal: %w", err)
	}

	var sig model.FraudSignal
	if v, ok := fields["attempts"]; ok {
		if n, err := strconv.Atoi(v); err == nil {
			sig.Attempts = n
		}
	}
	if v, ok := fields["last_attempt"]; ok {
		if unixMs, err := strconv.ParseInt(v, 10, 64); err == nil {
			sig.LastAttempt = time.UnixMilli(unixMs)
		}
	}
	if v, ok := fields["blocked"]; ok {
		sig.Blocked = v == "1"
	}

	return sig, nil
}

func (s *FraudStore) RecordAttempt(ctx context.Context, phone string, at time.Time) error {
	key := fraudPrefix + phone

	pipe := s.client.TxPipeline()
	pipe.HIncrBy(ctx, key, "attempts", 1)
	pipe.HSet(ctx, key, "last_attempt", at.UnixMilli())
	pipe.Expire(ctx, key, fraudSignalTTL)
	if _, err := pipe.Exec(ctx); err != nil {
		util.Error("Failed to record fraud attempt",
			zap.String("phone_number", phone),
			zap.Error(err))
		return fmt.Errorf("failed to record fraud attempt: %w", err)
	}

	return nil
}

func (s *FraudStore) SetBlocked(ctx context.Context, phone string, blocked bool) error {
	key := fraudPrefix + phone

	val := "0"
	if blocked {
		val = "1"
	}
	if err := s.client.HSet(ctx, key, "blocked", val); err != nil {
		util.Error("Failed to set fraud block flag",
			zap.String("phone_number", phone),
			zap.Bool("blocked", blocked),
			zap.Error(err))
		return fmt.Errorf("failed to set fraud block flag: %w", err)
	}

	util.Info("Fraud block flag updated",
		zap.String("phone_number", phone),
		zap.Bool("blocked", blocked))
	return nil
}
