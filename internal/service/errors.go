package service

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors returned by the orchestrator. Handlers map these onto HTTP
// status codes with errors.Is / errors.As.
var (
	ErrInvalidChannel   = errors.New("unsupported verification method")
	ErrNotFound         = errors.New("verification not found")
	ErrFraudBlocked     = errors.New("request blocked by risk policy")
	ErrProviderFailure  = errors.New("verification dispatch failed")
	ErrResendCooldown   = errors.New("resend is cooling down")
	ErrAlreadyFinalized = errors.New("verification already finalized")
)

// RateLimitError carries the retry hint alongside the denial.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("too many verification attempts, retry in %s", e.RetryAfter.Round(time.Second))
}
