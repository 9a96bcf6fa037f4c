package model

import (
	"strings"
	"time"
)

// -------------------- CHANNELS & STATUSES --------------------

// Channel is the delivery mechanism for a verification code.
type Channel string

const (
	ChannelSMS       Channel = "sms"
	ChannelVoice     Channel = "voice"
	ChannelFlashcall Channel = "flashcall"
	ChannelWhatsApp  Channel = "whatsapp"
)

// ValidChannel reports whether c is a supported delivery channel.
func ValidChannel(c Channel) bool {
	switch c {
	case ChannelSMS, ChannelVoice, ChannelFlashcall, ChannelWhatsApp:
		return true
	}
	return false
}

// Status is the lifecycle state of a verification attempt. Transitions are
// monotonic: pending moves to exactly one of the terminal states and never
// reopens.
type Status string

const (
	StatusPending  Status = "pending"
	StatusVerified Status = "verified"
	StatusFailed   Status = "failed"
	StatusExpired  Status = "expired"
)

// Terminal reports whether the status can no longer change.
func (s Status) Terminal() bool {
	return s == StatusVerified || s == StatusFailed || s == StatusExpired
}

// ResponseCode is the outcome of a single code check, mirroring the
// provider's response vocabulary.
type ResponseCode string

const (
	CodeAccepted    ResponseCode = "accepted"
	CodeRejected    ResponseCode = "rejected"
	CodeExpired     ResponseCode = "expired"
	CodeMaxAttempts ResponseCode = "max_attempts"
)

// Failure reasons recorded on terminal attempts.
const (
	ReasonMaxAttempts = "max_attempts"
	ReasonCancelled   = "cancelled"
	ReasonSuperseded  = "superseded"
	ReasonProvider    = "provider_failed"
)

// MockIDPrefix namespaces attempts created by the local mock generator so
// the verify path can pick a code path without a separate flag.
const MockIDPrefix = "mock_"

// -------------------- VERIFICATION ATTEMPT --------------------

// VerificationAttempt is the central entity: one outstanding (or settled)
// phone verification.
type VerificationAttempt struct {
	ID           string    `json:"verification_id" db:"attempt_id"`
	PhoneNumber  string    `json:"phone_number" db:"phone_number"`
	Channel      Channel   `json:"method" db:"channel"`
	Status       Status    `json:"status" db:"status"`
	FailReason   string    `json:"fail_reason,omitempty" db:"fail_reason"`
	CodeHash     string    `json:"-" db:"code_hash"` // argon2 hash of a custom code, never plaintext
	TimeoutSecs  int       `json:"timeout_secs" db:"timeout_secs"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	ExpiresAt    time.Time `json:"expires_at" db:"expires_at"`
	AttemptCount int       `json:"attempts" db:"attempt_count"`
	MaxAttempts  int       `json:"max_attempts" db:"max_attempts"`
}

// Mock reports whether this attempt was produced by the local mock
// generator rather than the external provider.
func (a *VerificationAttempt) Mock() bool {
	return strings.HasPrefix(a.ID, MockIDPrefix)
}

// ExpiredAt reports whether the attempt's code deadline has passed at now.
func (a *VerificationAttempt) ExpiredAt(now time.Time) bool {
	return now.After(a.ExpiresAt)
}

// -------------------- AUDIT LOG --------------------

// AuditAction is what the caller asked for.
type AuditAction string

const (
	ActionInitiate AuditAction = "initiate"
	ActionVerify   AuditAction = "verify"
	ActionResend   AuditAction = "resend"
	ActionCancel   AuditAction = "cancel"
)

// AuditOutcome is how the action ended.
type AuditOutcome string

const (
	OutcomeSuccess AuditOutcome = "success"
	OutcomeFailed  AuditOutcome = "failed"
	OutcomeBlocked AuditOutcome = "blocked"
)

// AuditEntry is one append-only record of an initiate/verify/resend/cancel
// action. Entries are never mutated or deleted inside this service.
type AuditEntry struct {
	ID             string            `json:"id" db:"entry_id"`
	PhoneNumber    string            `json:"phone_number" db:"phone_number"`
	Channel        Channel           `json:"method" db:"channel"`
	Action         AuditAction       `json:"action" db:"action"`
	Outcome        AuditOutcome      `json:"outcome" db:"outcome"`
	IPAddress      string            `json:"ip_address" db:"ip_address"`
	UserAgent      string            `json:"user_agent" db:"user_agent"`
	VerificationID string            `json:"verification_id,omitempty" db:"verification_id"`
	FraudScore     float64           `json:"fraud_score,omitempty" db:"fraud_score"`
	RiskLevel      string            `json:"risk_level,omitempty" db:"risk_level"`
	Metadata       map[string]string `json:"metadata,omitempty" db:"metadata"`
	Timestamp      time.Time         `json:"timestamp" db:"event_time"`
}

// -------------------- RISK --------------------

// RequestContext is the opaque caller context forwarded by an already
// authenticated front door.
type RequestContext struct {
	IPAddress string
	UserAgent string
	SessionID string
}

// FraudSignal is the per-phone history consulted by the fraud scorer. It is
// derived state: only the resulting score and decision are persisted, on the
// audit entry.
type FraudSignal struct {
	Attempts    int
	LastAttempt time.Time
	Blocked     bool
}

// RateLimitWindow is the per-phone rolling counter. Count resets to 1
// whenever the window has elapsed.
type RateLimitWindow struct {
	Count   int
	ResetAt time.Time
}

// RiskLevelForScore buckets a fraud score for audit reporting.
func RiskLevelForScore(score float64) string {
	switch {
	case score > 0.8:
		return "high"
	case score > 0.4:
		return "medium"
	default:
		return "low"
	}
}
