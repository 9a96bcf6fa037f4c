package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/model"
	"verification-service/internal/store"
)

func TestAttemptStorePutGet(t *testing.T) {
	s := NewAttemptStore()
	ctx := context.Background()

	attempt := &model.VerificationAttempt{
		ID:          "abc123",
		PhoneNumber: "+14155550123",
		Channel:     model.ChannelSMS,
		Status:      model.StatusPending,
		CreatedAt:   time.Now(),
		ExpiresAt:   time.Now().Add(5 * time.Minute),
		MaxAttempts: 3,
	}
	require.NoError(t, s.Put(ctx, attempt))

	got, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, attempt.PhoneNumber, got.PhoneNumber)
	assert.Equal(t, model.StatusPending, got.Status)

	// Mutating the returned value must not leak back into the store.
	got.Status = model.StatusVerified
	again, err := s.Get(ctx, "abc123")
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, again.Status)
}

func TestAttemptStoreGetMissing(t *testing.T) {
	s := NewAttemptStore()
	_, err := s.Get(context.Background(), "nope")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttemptStoreDeleteIdempotent(t *testing.T) {
	s := NewAttemptStore()
	ctx := context.Background()
	require.NoError(t, s.Put(ctx, &model.VerificationAttempt{ID: "x"}))
	require.NoError(t, s.Delete(ctx, "x"))
	require.NoError(t, s.Delete(ctx, "x"))
	_, err := s.Get(ctx, "x")
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAttemptStoreExpirePending(t *testing.T) {
	s := NewAttemptStore()
	ctx := context.Background()
	now := time.Now()

	require.NoError(t, s.Put(ctx, &model.VerificationAttempt{
		ID: "stale", Status: model.StatusPending, ExpiresAt: now.Add(-time.Minute),
	}))
	require.NoError(t, s.Put(ctx, &model.VerificationAttempt{
		ID: "fresh", Status: model.StatusPending, ExpiresAt: now.Add(time.Minute),
	}))
	require.NoError(t, s.Put(ctx, &model.VerificationAttempt{
		ID: "done", Status: model.StatusVerified, ExpiresAt: now.Add(-time.Minute),
	}))

	n, err := s.ExpirePending(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	stale, err := s.Get(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, model.StatusExpired, stale.Status)

	done, err := s.Get(ctx, "done")
	require.NoError(t, err)
	assert.Equal(t, model.StatusVerified, done.Status)
}

func TestRateLimitWindowCounting(t *testing.T) {
	s := NewRateLimitStore()
	ctx := context.Background()
	base := time.Unix(1700000000, 0)
	current := base
	s.now = func() time.Time { return current }

	window := 5 * time.Minute
	for i := 1; i <= 5; i++ {
		count, resetAt, err := s.Hit(ctx, "+14155550123", window)
		require.NoError(t, err)
		assert.Equal(t, i, count)
		assert.Equal(t, base.Add(window), resetAt)
	}

	// Window is anchored at the first request, not refreshed per hit.
	current = base.Add(4 * time.Minute)
	count, resetAt, err := s.Hit(ctx, "+14155550123", window)
	require.NoError(t, err)
	assert.Equal(t, 6, count)
	assert.Equal(t, base.Add(window), resetAt)

	// After expiry the next hit opens a fresh window at count 1.
	current = base.Add(window)
	count, resetAt, err = s.Hit(ctx, "+14155550123", window)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
	assert.Equal(t, current.Add(window), resetAt)
}

func TestRateLimitPerPhoneIsolation(t *testing.T) {
	s := NewRateLimitStore()
	ctx := context.Background()

	count, _, err := s.Hit(ctx, "+14155550100", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	count, _, err = s.Hit(ctx, "+14155550101", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestRateLimitPeek(t *testing.T) {
	s := NewRateLimitStore()
	ctx := context.Background()

	_, err := s.Peek(ctx, "+14155550123")
	assert.ErrorIs(t, err, store.ErrNotFound)

	_, _, err = s.Hit(ctx, "+14155550123", time.Minute)
	require.NoError(t, err)

	w, err := s.Peek(ctx, "+14155550123")
	require.NoError(t, err)
	assert.Equal(t, 1, w.Count)
}

func TestFraudStoreSignal(t *testing.T) {
	s := NewFraudStore()
	ctx := context.Background()

	sig, err := s.Signal(ctx, "+14155550123")
	require.NoError(t, err)
	assert.Zero(t, sig.Attempts)
	assert.False(t, sig.Blocked)

	at := time.Now()
	require.NoError(t, s.RecordAttempt(ctx, "+14155550123", at))
	require.NoError(t, s.RecordAttempt(ctx, "+14155550123", at.Add(time.Second)))

	sig, err = s.Signal(ctx, "+14155550123")
	require.NoError(t, err)
	assert.Equal(t, 2, sig.Attempts)
	assert.Equal(t, at.Add(time.Second), sig.LastAttempt)

	require.NoError(t, s.SetBlocked(ctx, "+14155550123", true))
	sig, err = s.Signal(ctx, "+14155550123")
	require.NoError(t, err)
	assert.True(t, sig.Blocked)
	assert.Equal(t, 2, sig.Attempts)
}

func TestAuditStoreAppendOrder(t *testing.T) {
	s := NewAuditStore()
	ctx := context.Background()

	for _, action := range []model.AuditAction{model.ActionInitiate, model.ActionVerify, model.ActionCancel} {
		require.NoError(t, s.Append(ctx, &model.AuditEntry{
			ID:     string(action),
			Action: action,
		}))
	}

	entries := s.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, model.ActionInitiate, entries[0].Action)
	assert.Equal(t, model.ActionVerify, entries[1].Action)
	assert.Equal(t, model.ActionCancel, entries[2].Action)
}
