// Package store defines the persistence ports for the verification service.
// Implementations live in sibling packages: memory (process-local, always
// available), redisstore (rate limiting and fraud signals), scyllastore
// (durable attempts), and clickhousestore (append-only audit).
package store

import (
	"context"
	"errors"
	"time"

	"verification-service/internal/model"
)

// ErrNotFound is returned when a lookup misses. Callers distinguish a miss
// from an infrastructure failure with errors.Is.
var ErrNotFound = errors.New("store: not found")

// AttemptStore persists verification attempts keyed by verification ID.
type AttemptStore interface {
	// Put upserts the attempt. The write must be visible to a subsequent
	// Get before Put returns.
	Put(ctx context.Context, attempt *model.VerificationAttempt) error

	// Get returns the attempt or ErrNotFound.
	Get(ctx context.Context, id string) (*model.VerificationAttempt, error)

	// Delete removes the attempt. Deleting a missing ID is not an error.
	Delete(ctx context.Context, id string) error

	// ExpirePending transitions every pending attempt whose deadline is
	// before now to expired and returns how many it touched.
	ExpirePending(ctx context.Context, now time.Time) (int, error)
}

// RateLimitStore tracks the per-phone request counter. The window is fixed
// from the first request: the first hit after expiry starts a fresh window.
type RateLimitStore interface {
	// Hit increments the counter for phone and returns the new count along
	// with when the current window resets.
	Hit(ctx context.Context, phone string, window time.Duration) (count int, resetAt time.Time, err error)

	// Peek returns the current window without incrementing, or ErrNotFound
	// when no window is open.
	Peek(ctx context.Context, phone string) (model.RateLimitWindow, error)
}

// FraudStore keeps the per-phone history the fraud scorer reads.
type FraudStore interface {
	// Signal returns the recorded history for phone. A phone never seen
	// returns a zero signal, not ErrNotFound.
	Signal(ctx context.Context, phone string) (model.FraudSignal, error)

	// RecordAttempt bumps the attempt counter and last-seen time for phone.
	RecordAttempt(ctx context.Context, phone string, at time.Time) error

	// SetBlocked marks or clears the explicit blocklist entry for phone.
	SetBlocked(ctx context.Context, phone string, blocked bool) error
}

// AuditStore is the append-only audit ledger. Entries are never updated or
// deleted through this interface.
type AuditStore interface {
	Append(ctx context.Context, entry *model.AuditEntry) error
}
