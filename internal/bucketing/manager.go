// Package bucketing spreads verification attempts and audit events across a
// fixed number of partitions so no single phone number can hotspot a Scylla
// partition or a Kafka partition key.
package bucketing

import (
	"hash"
	"sync"
	"time"

	"github.com/spaolacci/murmur3"

	"verification-service/internal/config"
)

type Manager struct {
	attemptBuckets int
	eventBuckets   int
	hasherPool     sync.Pool
}

func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		attemptBuckets: cfg.Bucketing.AttemptBuckets,
		eventBuckets:   cfg.Bucketing.EventBuckets,
	}

	// Pool of hash functions to avoid allocation overhead on the hot path
	m.hasherPool = sync.Pool{
		New: func() interface{} {
			return murmur3.New64()
		},
	}

	return m
}

// AttemptBucket returns the consistent partition for a verification ID
// (0 to attemptBuckets-1).
func (m *Manager) AttemptBucket(verificationID string) int {
	return m.getBucket(verificationID, m.attemptBuckets)
}

// EventBucket returns the partition key bucket for audit/lifecycle events,
// keyed by phone number so one phone's events stay ordered.
func (m *Manager) EventBucket(phone string) int {
	return m.getBucket(phone, m.eventBuckets)
}

// DateBucket returns the UTC date partition for audit rows.
func (m *Manager) DateBucket(at time.Time) string {
	return at.UTC().Format("2006-01-02")
}

func (m *Manager) AttemptBuckets() int {
	return m.attemptBuckets
}

func (m *Manager) EventBuckets() int {
	return m.eventBuckets
}

func (m *Manager) getBucket(key string, numBuckets int) int {
	return int(m.getHash(key) % uint64(numBuckets))
}

func (m *Manager) getHash(key string) uint64 {
	hasher := m.hasherPool.Get().(hash.Hash64)
	defer m.hasherPool.Put(hasher)

	hasher.Reset()
	hasher.Write([]byte(key))
	return hasher.Sum64()
}
