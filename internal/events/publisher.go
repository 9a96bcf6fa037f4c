// Package events publishes verification lifecycle events to Kafka for
// downstream consumers (analytics, alerting).
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/bucketing"
	"verification-service/internal/client"
	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/model"
	"verification-service/internal/util"
)

// Event is the wire shape of a lifecycle event. The phone number travels only
// as a digest.
type Event struct {
	Type           string    `json:"type"`
	VerificationID string    `json:"verification_id"`
	PhoneHash      string    `json:"phone_hash"`
	Channel        string    `json:"channel"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
}

const (
	TypeInitiated = "verification.initiated"
	TypeVerified  = "verification.verified"
	TypeFailed    = "verification.failed"
	TypeExpired   = "verification.expired"
	TypeResent    = "verification.resent"
	TypeCancelled = "verification.cancelled"
)

// Publisher writes lifecycle events to the configured topic, keyed by a
// per-phone bucket so one phone's events stay in partition order.
type Publisher struct {
	producer *client.KafkaProducer
	topic    string
	buckets  *bucketing.Manager
}

func NewPublisher(producer *client.KafkaProducer, cfg *config.Config, buckets *bucketing.Manager) *Publisher {
	return &Publisher{
		producer: producer,
		topic:    cfg.Kafka.Topic,
		buckets:  buckets,
	}
}

// Publish emits one lifecycle event. Failures are logged and swallowed: the
// event stream is best-effort and never blocks a verification decision.
func (p *Publisher) Publish(ctx context.Context, eventType string, attempt *model.VerificationAttempt) {
	evt := Event{
		Type:           eventType,
		VerificationID: attempt.ID,
		PhoneHash:      hashing.PhoneHash(attempt.PhoneNumber),
		Channel:        string(attempt.Channel),
		Status:         string(attempt.Status),
		Timestamp:      time.Now().UTC(),
	}

	value, err := json.Marshal(evt)
	if err != nil {
		util.Error("Failed to encode lifecycle event",
			zap.String("type", eventType),
			zap.Error(err))
		return
	}

	key := []byte(fmt.Sprintf("bucket-%s", strconv.Itoa(p.buckets.EventBucket(attempt.PhoneNumber))))

	if err := p.producer.ProduceMessage(ctx, p.topic, key, value, map[string]string{
		"event_type": eventType,
	}); err != nil {
		util.Error("Failed to publish lifecycle event",
			zap.String("type", eventType),
			zap.String("verification_id", attempt.ID),
			zap.Error(err))
		return
	}

	util.Debug("Lifecycle event published",
		zap.String("type", eventType),
		zap.String("verification_id", attempt.ID))
}
