// Package memory provides process-local implementations of the store ports.
// They back the service in development and in deployments that run without
// Redis or Scylla; all state is lost on restart.
package memory

import (
	"context"
	"sync"
	"time"

	"verification-service/internal/model"
	"verification-service/internal/store"
)

// AttemptStore is an in-memory store.AttemptStore.
type AttemptStore struct {
	mu       sync.RWMutex
	attempts map[string]model.VerificationAttempt
}

func NewAttemptStore() *AttemptStore {
	return &AttemptStore{attempts: make(map[string]model.VerificationAttempt)}
}

func (s *AttemptStore) Put(_ context.Context, attempt *model.VerificationAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts[attempt.ID] = *attempt
	return nil
}

func (s *AttemptStore) Get(_ context.Context, id string) (*model.VerificationAttempt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.attempts[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	copied := a
	return &copied, nil
}

func (s *AttemptStore) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.attempts, id)
	return nil
}

func (s *AttemptStore) ExpirePending(_ context.Context, now time.Time) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	expired := 0
	for id, a := range s.attempts {
		if a.Status == model.StatusPending && now.After(a.ExpiresAt) {
			a.Status = model.StatusExpired
			s.attempts[id] = a
			expired++
		}
	}
	return expired, nil
}

// RateLimitStore is an in-memory store.RateLimitStore with fixed windows
// anchored at the first request.
type RateLimitStore struct {
	mu      sync.Mutex
	windows map[string]model.RateLimitWindow
	now     func() time.Time
}

func NewRateLimitStore() *RateLimitStore {
	return &RateLimitStore{
		windows: make(map[string]model.RateLimitWindow),
		now:     time.Now,
	}
}

func (s *RateLimitStore) Hit(_ context.Context, phone string, window time.Duration) (int, time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	w, ok := s.windows[phone]
	if !ok || !now.Before(w.ResetAt) {
		w = model.RateLimitWindow{Count: 1, ResetAt: now.Add(window)}
	} else {
		w.Count++
	}
	s.windows[phone] = w
	return w.Count, w.ResetAt, nil
}

func (s *RateLimitStore) Peek(_ context.Context, phone string) (model.RateLimitWindow, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	w, ok := s.windows[phone]
	if !ok || !s.now().Before(w.ResetAt) {
		return model.RateLimitWindow{}, store.ErrNotFound
	}
	return w, nil
}

// FraudStore is an in-memory store.FraudStore.
type FraudStore struct {
	mu      sync.Mutex
	signals map[string]model.FraudSignal
}

func NewFraudStore() *FraudStore {
	return &FraudStore{signals: make(map[string]model.FraudSignal)}
}

func (s *FraudStore) Signal(_ context.Context, phone string) (model.FraudSignal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.signals[phone], nil
}

func (s *FraudStore) RecordAttempt(_ context.Context, phone string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := s.signals[phone]
	sig.Attempts++
	sig.LastAttempt = at
	s.signals[phone] = sig
	return nil
}

func (s *FraudStore) SetBlocked(_ context.Context, phone string, blocked bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sig := s.signals[phone]
	sig.Blocked = blocked
	s.signals[phone] = sig
	return nil
}

// AuditStore is an in-memory store.AuditStore. Entries accumulate in append
// order; Entries returns a snapshot for inspection.
type AuditStore struct {
	mu      sync.Mutex
	entries []model.AuditEntry
}

func NewAuditStore() *AuditStore {
	return &AuditStore{}
}

func (s *AuditStore) Append(_ context.Context, entry *model.AuditEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, *entry)
	return nil
}

// Entries returns a copy of all appended entries in order.
func (s *AuditStore) Entries() []model.AuditEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.AuditEntry, len(s.entries))
	copy(out, s.entries)
	return out
}
