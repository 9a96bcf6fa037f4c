// Package scyllastore persists verification attempts durably in ScyllaDB.
// Attempts are partitioned by a murmur3 bucket of the verification ID to
// keep partitions narrow at scale.
package scyllastore

import (
	"context"
	"fmt"
	"time"

	"github.com/gocql/gocql"
	"go.uber.org/zap"

	"verification-service/internal/bucketing"
	"verification-service/internal/model"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

// AttemptStore implements store.AttemptStore on top of ScyllaDB.
type AttemptStore struct {
	client  *ScyllaClient
	buckets *bucketing.Manager
}

func NewAttemptStore(client *ScyllaClient, buckets *bucketing.Manager) *AttemptStore {
	return &AttemptStore{
		client:  client,
		buckets: buckets,
	}
}

func (r *AttemptStore) Put(ctx context.Context, attempt *model.VerificationAttempt) error {
	bucket := r.buckets.AttemptBucket(attempt.ID)

	query := r.client.Prepared.UpsertAttempt.Bind(
		bucket, attempt.ID, attempt.PhoneNumber, string(attempt.Channel),
		string(attempt.Status), attempt.FailReason, attempt.CodeHash,
		attempt.TimeoutSecs, attempt.CreatedAt, attempt.ExpiresAt,
		attempt.AttemptCount, attempt.MaxAttempts).WithContext(ctx)

	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		util.Error("Failed to upsert verification attempt",
			zap.String("verification_id", attempt.ID),
			zap.Error(err))
		return fmt.Errorf("failed to upsert verification attempt: %w", err)
	}

	return nil
}

func (r *AttemptStore) Get(ctx context.Context, id string) (*model.VerificationAttempt, error) {
	bucket := r.buckets.AttemptBucket(id)
	attempt := &model.VerificationAttempt{}
	var channel, status string

	query := r.client.Prepared.GetAttempt.Bind(bucket, id).WithContext(ctx)

	err := r.client.ScanWithRetry(query,
		&attempt.ID, &attempt.PhoneNumber, &channel, &status,
		&attempt.FailReason, &attempt.CodeHash, &attempt.TimeoutSecs,
		&attempt.CreatedAt, &attempt.ExpiresAt,
		&attempt.AttemptCount, &attempt.MaxAttempts)

	if err != nil {
		if err == gocql.ErrNotFound {
			return nil, store.ErrNotFound
		}
		util.Error("Failed to get verification attempt",
			zap.String("verification_id", id),
			zap.Error(err))
		return nil, fmt.Errorf("failed to get verification attempt: %w", err)
	}

	attempt.Channel = model.Channel(channel)
	attempt.Status = model.Status(status)
	return attempt, nil
}

func (r *AttemptStore) Delete(ctx context.Context, id string) error {
	bucket := r.buckets.AttemptBucket(id)

	query := r.client.Prepared.DeleteAttempt.Bind(bucket, id).WithContext(ctx)
	if err := r.client.ExecuteWithRetry(query, 2); err != nil {
		return fmt.Errorf("failed to delete verification attempt: %w", err)
	}
	return nil
}

// ExpirePending scans for pending attempts past their deadline and flips them
// to expired in unlogged batches. Runs off the hot path, from the reaper.
func (r *AttemptStore) ExpirePending(ctx context.Context, now time.Time) (int, error) {
	iter := r.client.Session.Query(`
        SELECT attempt_bucket, attempt_id FROM verification_attempts
        WHERE status = ? AND expires_at < ? ALLOW FILTERING`,
		string(model.StatusPending), now.UTC()).WithContext(ctx).Iter()

	var bucket int
	var id string
	expiredCount := 0

	batch := r.client.Session.NewBatch(gocql.UnloggedBatch)
	batchSize := 0

	for iter.Scan(&bucket, &id) {
		batch.Query(`UPDATE verification_attempts SET status = ? WHERE attempt_bucket = ? AND attempt_id = ?`,
			string(model.StatusExpired), bucket, id)
		batchSize++

		if batchSize >= 100 {
			if err := r.client.ExecuteBatch(batch); err != nil {
				util.Error("Failed to execute batch expiry for attempts", zap.Error(err))
				iter.Close()
				return expiredCount, fmt.Errorf("failed to expire attempts: %w", err)
			}
			expiredCount += batchSize
			batch = r.client.Session.NewBatch(gocql.UnloggedBatch)
			batchSize = 0
		}
	}

	if batchSize > 0 {
		if err := r.client.ExecuteBatch(batch); err != nil {
			util.Error("Failed to execute final batch expiry for attempts", zap.Error(err))
			iter.Close()
			return expiredCount, fmt.Errorf("failed to expire attempts: %w", err)
		}
		expiredCount += batchSize
	}

	if err := iter.Close(); err != nil {
		util.Error("Failed to close iterator for attempt expiry", zap.Error(err))
		return expiredCount, fmt.Errorf("failed to expire attempts: %w", err)
	}

	if expiredCount > 0 {
		util.Info("Expired stale verification attempts", zap.Int("expired_count", expiredCount))
	}
	return expiredCount, nil
}
