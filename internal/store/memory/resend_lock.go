package memory

import (
	"context"
	"sync"
	"time"
)

// ResendLock is a process-local resend cooldown guard, used when Redis is
// not configured.
type ResendLock struct {
	mu    sync.Mutex
	until map[string]time.Time
	now   func() time.Time
}

func NewResendLock() *ResendLock {
	return &ResendLock{
		until: make(map[string]time.Time),
		now:   time.Now,
	}
}

func (l *ResendLock) Acquire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if deadline, ok := l.until[key]; ok && now.Before(deadline) {
		return false, nil
	}
	l.until[key] = now.Add(ttl)
	return true, nil
}
