// Package clickhousestore appends audit entries to ClickHouse. Phone numbers
// are envelope-encrypted per row and indexed only by their SHA-256 digest.
package clickhousestore

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"

	"verification-service/internal/bucketing"
	"verification-service/internal/client"
	"verification-service/internal/encryption"
	"verification-service/internal/hashing"
	"verification-service/internal/model"
	"verification-service/internal/util"
)

const insertAuditQuery = `
    INSERT INTO verification_audit (
        entry_id, event_date, event_time, phone_hash, phone_encrypted,
        channel, action, outcome, ip_address, user_agent,
        verification_id, fraud_score, risk_level, metadata
    )`

// AuditStore implements store.AuditStore on ClickHouse.
type AuditStore struct {
	client     *client.ClickHouseClient
	encryption *encryption.Manager
	buckets    *bucketing.Manager
}

func NewAuditStore(ch *client.ClickHouseClient, enc *encryption.Manager, buckets *bucketing.Manager) *AuditStore {
	return &AuditStore{
		client:     ch,
		encryption: enc,
		buckets:    buckets,
	}
}

func (s *AuditStore) Append(ctx context.Context, entry *model.AuditEntry) error {
	encrypted, err := s.encryption.EncryptPhone(ctx, entry.PhoneNumber)
	if err != nil {
		return fmt.Errorf("failed to encrypt audit phone: %w", err)
	}
	encryptedJSON, err := json.Marshal(encrypted)
	if err != nil {
		return fmt.Errorf("failed to encode encrypted phone: %w", err)
	}

	metadata := entry.Metadata
	if metadata == nil {
		metadata = map[string]string{}
	}

	row := []interface{}{
		entry.ID,
		s.buckets.DateBucket(entry.Timestamp),
		entry.Timestamp.UTC(),
		hashing.PhoneHash(entry.PhoneNumber),
		string(encryptedJSON),
		string(entry.Channel),
		string(entry.Action),
		string(entry.Outcome),
		entry.IPAddress,
		entry.UserAgent,
		entry.VerificationID,
		entry.FraudScore,
		entry.RiskLevel,
		metadata,
	}

	if err := s.client.BatchInsert(ctx, insertAuditQuery, [][]interface{}{row}); err != nil {
		util.Error("Failed to append audit entry",
			zap.String("entry_id", entry.ID),
			zap.String("action", string(entry.Action)),
			zap.Error(err))
		return fmt.Errorf("failed to append audit entry: %w", err)
	}

	return nil
}
