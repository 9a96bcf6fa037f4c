// Package service implements the verification lifecycle: risk-gated
// initiation, code checks with bounded attempts, resend, cancel, and
// expiry.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/audit"
	"verification-service/internal/config"
	"verification-service/internal/events"
	"verification-service/internal/hashing"
	"verification-service/internal/model"
	"verification-service/internal/phone"
	"verification-service/internal/provider"
	"verification-service/internal/risk"
	"verification-service/internal/store"
	"verification-service/internal/util"
)

// ResendLocker guards the resend cooldown. Keys are phone numbers, not
// verification IDs: a resend retires the old ID, so the cooldown must follow
// the chain of attempts for the same phone.
type ResendLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// InitiateRequest starts a new verification.
type InitiateRequest struct {
	Phone       string
	Channel     model.Channel
	CustomCode  string
	TimeoutSecs int
	Context     model.RequestContext
}

// Orchestrator drives a verification attempt through its lifecycle. All
// mutations of one attempt are serialized on a per-ID mutex, so the attempt
// counter and status transitions stay consistent under concurrent checks.
type Orchestrator struct {
	cfg        *config.Config
	attempts   store.AttemptStore
	gate       *risk.Gate
	dispatcher *provider.Dispatcher
	recorder   *audit.Recorder
	publisher  *events.Publisher // nil when Kafka is disabled
	hasher     *hashing.Hasher
	resendLock ResendLocker
	locks      *keyedMutex
	now        func() time.Time
}

func NewOrchestrator(
	cfg *config.Config,
	attempts store.AttemptStore,
	gate *risk.Gate,
	dispatcher *provider.Dispatcher,
	recorder *audit.Recorder,
	publisher *events.Publisher,
	hasher *hashing.Hasher,
	resendLock ResendLocker,
) *Orchestrator {
	return &Orchestrator{
		cfg:        cfg,
		attempts:   attempts,
		gate:       gate,
		dispatcher: dispatcher,
		recorder:   recorder,
		publisher:  publisher,
		hasher:     hasher,
		resendLock: resendLock,
		locks:      newKeyedMutex(),
		now:        time.Now,
	}
}

// Initiate normalizes the phone, runs the risk gate, dispatches a code, and
// persists the pending attempt. The attempt is durable and the audit entry
// written before the caller sees the verification ID.
func (o *Orchestrator) Initiate(ctx context.Context, req InitiateRequest) (*model.VerificationAttempt, error) {
	normalized, err := phone.Normalize(req.Phone)
	if err != nil {
		return nil, err
	}
	if !model.ValidChannel(req.Channel) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidChannel, req.Channel)
	}

	decision, err := o.gate.Evaluate(ctx, string(normalized), req.Context)
	if err != nil {
		return nil, fmt.Errorf("risk evaluation failed: %w", err)
	}

	if !decision.Allowed {
		o.record(ctx, &model.AuditEntry{
			PhoneNumber: string(normalized),
			Channel:     req.Channel,
			Action:      model.ActionInitiate,
			Outcome:     model.OutcomeBlocked,
			IPAddress:   req.Context.IPAddress,
			UserAgent:   req.Context.UserAgent,
			FraudScore:  decision.FraudScore,
			RiskLevel:   decision.RiskLevel,
			Metadata:    map[string]string{"reason": decision.Reason},
		})

		if decision.Reason == risk.ReasonRateLimited {
			return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
		return nil, ErrFraudBlocked
	}

	timeoutSecs := req.TimeoutSecs
	if timeoutSecs <= 0 {
		timeoutSecs = o.cfg.Verification.DefaultTimeoutSecs
	}

	result, err := o.dispatcher.Create(ctx, provider.CreateRequest{
		Phone:       string(normalized),
		Channel:     req.Channel,
		CustomCode:  req.CustomCode,
		TimeoutSecs: timeoutSecs,
	})
	if err != nil {
		o.record(ctx, &model.AuditEntry{
			PhoneNumber: string(normalized),
			Channel:     req.Channel,
			Action:      model.ActionInitiate,
			Outcome:     model.OutcomeFailed,
			IPAddress:   req.Context.IPAddress,
			UserAgent:   req.Context.UserAgent,
			FraudScore:  decision.FraudScore,
			RiskLevel:   decision.RiskLevel,
			Metadata:    map[string]string{"error": "dispatch_failed"},
		})
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	now := o.now().UTC()
	attempt := &model.VerificationAttempt{
		ID:          result.VerificationID,
		PhoneNumber: string(normalized),
		Channel:     req.Channel,
		Status:      model.StatusPending,
		TimeoutSecs: timeoutSecs,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(timeoutSecs) * time.Second),
		MaxAttempts: o.cfg.Verification.MaxAttempts,
	}

	if req.CustomCode != "" {
		hashResult, err := o.hasher.HashCode(req.CustomCode)
		if err != nil {
			return nil, fmt.Errorf("failed to hash custom code: %w", err)
		}
		attempt.CodeHash = hashResult.Encode()
	}

	if err := o.attempts.Put(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to persist verification attempt: %w", err)
	}

	o.record(ctx, &model.AuditEntry{
		PhoneNumber:    attempt.PhoneNumber,
		Channel:        attempt.Channel,
		Action:         model.ActionInitiate,
		Outcome:        model.OutcomeSuccess,
		IPAddress:      req.Context.IPAddress,
		UserAgent:      req.Context.UserAgent,
		VerificationID: attempt.ID,
		FraudScore:     decision.FraudScore,
		RiskLevel:      decision.RiskLevel,
		Metadata:       map[string]string{"provider": o.dispatcher.ProviderName(attempt.ID)},
	})
	o.publish(ctx, events.TypeInitiated, attempt)

	util.Info("Verification initiated",
		zap.String("verification_id", attempt.ID),
		zap.String("channel", string(attempt.Channel)),
		zap.Int("timeout_secs", attempt.TimeoutSecs))

	return attempt, nil
}

// Verify checks a submitted code. Expiry is evaluated lazily before any
// provider call, the attempt counter moves before the outcome is judged, and
// terminal attempts idempotently report their settled outcome.
func (o *Orchestrator) Verify(ctx context.Context, verificationID, code string, reqCtx model.RequestContext) (model.ResponseCode, *model.VerificationAttempt, error) {
	o.locks.Lock(verificationID)
	defer o.locks.Unlock(verificationID)

	attempt, err := o.attempts.Get(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			// Unknown IDs answer like a wrong code; existence is not leaked.
			o.record(ctx, &model.AuditEntry{
				Action:         model.ActionVerify,
				Outcome:        model.OutcomeFailed,
				IPAddress:      reqCtx.IPAddress,
				UserAgent:      reqCtx.UserAgent,
				VerificationID: verificationID,
				Metadata:       map[string]string{"reason": "unknown_verification"},
			})
			return model.CodeRejected, nil, nil
		}
		return "", nil, fmt.Errorf("failed to load verification attempt: %w", err)
	}

	if attempt.Status.Terminal() {
		return o.settledCode(attempt), attempt, nil
	}

	if attempt.ExpiredAt(o.now()) {
		if err := o.finalize(ctx, attempt, model.StatusExpired, "", reqCtx, model.CodeExpired, events.TypeExpired); err != nil {
			return "", nil, err
		}
		return model.CodeExpired, attempt, nil
	}

	newCount := attempt.AttemptCount + 1

	var responseCode model.ResponseCode
	if attempt.CodeHash != "" {
		hashResult, err := hashing.DecodeHashResult(attempt.CodeHash)
		if err != nil {
			return "", nil, fmt.Errorf("stored code hash unreadable: %w", err)
		}
		ok, err := o.hasher.VerifyCode(code, hashResult)
		if err != nil {
			return "", nil, fmt.Errorf("code verification failed: %w", err)
		}
		responseCode = model.CodeRejected
		if ok {
			responseCode = model.CodeAccepted
		}
	} else {
		responseCode, err = o.dispatcher.Check(ctx, verificationID, code)
		if err != nil {
			// The check never ran; leave the counter untouched.
			return "", nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
		}
	}

	attempt.AttemptCount = newCount

	switch responseCode {
	case model.CodeAccepted:
		if err := o.finalize(ctx, attempt, model.StatusVerified, "", reqCtx, model.CodeAccepted, events.TypeVerified); err != nil {
			return "", nil, err
		}
		return model.CodeAccepted, attempt, nil

	case model.CodeExpired:
		if err := o.finalize(ctx, attempt, model.StatusExpired, "", reqCtx, model.CodeExpired, events.TypeExpired); err != nil {
			return "", nil, err
		}
		return model.CodeExpired, attempt, nil

	case model.CodeMaxAttempts:
		if err := o.finalize(ctx, attempt, model.StatusFailed, model.ReasonMaxAttempts, reqCtx, model.CodeMaxAttempts, events.TypeFailed); err != nil {
			return "", nil, err
		}
		return model.CodeMaxAttempts, attempt, nil

	default: // rejected
		if newCount >= attempt.MaxAttempts {
			if err := o.finalize(ctx, attempt, model.StatusFailed, model.ReasonMaxAttempts, reqCtx, model.CodeMaxAttempts, events.TypeFailed); err != nil {
				return "", nil, err
			}
			return model.CodeMaxAttempts, attempt, nil
		}

		if err := o.attempts.Put(ctx, attempt); err != nil {
			return "", nil, fmt.Errorf("failed to persist verification attempt: %w", err)
		}
		o.record(ctx, &model.AuditEntry{
			PhoneNumber:    attempt.PhoneNumber,
			Channel:        attempt.Channel,
			Action:         model.ActionVerify,
			Outcome:        model.OutcomeFailed,
			IPAddress:      reqCtx.IPAddress,
			UserAgent:      reqCtx.UserAgent,
			VerificationID: attempt.ID,
			Metadata:       map[string]string{"response_code": string(model.CodeRejected)},
		})
		return model.CodeRejected, attempt, nil
	}
}

// Resend supersedes a pending attempt with a freshly dispatched one. The
// risk gate runs again, and the resend cooldown bounds how often a caller
// can trigger new deliveries for the same attempt.
func (o *Orchestrator) Resend(ctx context.Context, verificationID string, reqCtx model.RequestContext) (*model.VerificationAttempt, error) {
	o.locks.Lock(verificationID)
	defer o.locks.Unlock(verificationID)

	attempt, err := o.attempts.Get(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load verification attempt: %w", err)
	}

	if attempt.Status.Terminal() {
		return nil, ErrAlreadyFinalized
	}
	if attempt.ExpiredAt(o.now()) {
		if err := o.finalize(ctx, attempt, model.StatusExpired, "", reqCtx, model.CodeExpired, events.TypeExpired); err != nil {
			return nil, err
		}
		return nil, ErrAlreadyFinalized
	}

	acquired, err := o.resendLock.Acquire(ctx, attempt.PhoneNumber, o.cfg.Verification.ResendCooldown)
	if err != nil {
		return nil, fmt.Errorf("resend cooldown check failed: %w", err)
	}
	if !acquired {
		return nil, ErrResendCooldown
	}

	decision, err := o.gate.Evaluate(ctx, attempt.PhoneNumber, reqCtx)
	if err != nil {
		return nil, fmt.Errorf("risk evaluation failed: %w", err)
	}
	if !decision.Allowed {
		o.record(ctx, &model.AuditEntry{
			PhoneNumber:    attempt.PhoneNumber,
			Channel:        attempt.Channel,
			Action:         model.ActionResend,
			Outcome:        model.OutcomeBlocked,
			IPAddress:      reqCtx.IPAddress,
			UserAgent:      reqCtx.UserAgent,
			VerificationID: attempt.ID,
			FraudScore:     decision.FraudScore,
			RiskLevel:      decision.RiskLevel,
			Metadata:       map[string]string{"reason": decision.Reason},
		})
		if decision.Reason == risk.ReasonRateLimited {
			return nil, &RateLimitError{RetryAfter: decision.RetryAfter}
		}
		return nil, ErrFraudBlocked
	}

	result, err := o.dispatcher.Create(ctx, provider.CreateRequest{
		Phone:       attempt.PhoneNumber,
		Channel:     attempt.Channel,
		TimeoutSecs: attempt.TimeoutSecs,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrProviderFailure, err)
	}

	// Retire the old attempt so only the new code can settle.
	attempt.Status = model.StatusFailed
	attempt.FailReason = model.ReasonSuperseded
	if err := o.attempts.Put(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to retire superseded attempt: %w", err)
	}

	now := o.now().UTC()
	fresh := &model.VerificationAttempt{
		ID:          result.VerificationID,
		PhoneNumber: attempt.PhoneNumber,
		Channel:     attempt.Channel,
		Status:      model.StatusPending,
		TimeoutSecs: attempt.TimeoutSecs,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(attempt.TimeoutSecs) * time.Second),
		MaxAttempts: o.cfg.Verification.MaxAttempts,
	}
	if err := o.attempts.Put(ctx, fresh); err != nil {
		return nil, fmt.Errorf("failed to persist verification attempt: %w", err)
	}

	o.record(ctx, &model.AuditEntry{
		PhoneNumber:    fresh.PhoneNumber,
		Channel:        fresh.Channel,
		Action:         model.ActionResend,
		Outcome:        model.OutcomeSuccess,
		IPAddress:      reqCtx.IPAddress,
		UserAgent:      reqCtx.UserAgent,
		VerificationID: fresh.ID,
		FraudScore:     decision.FraudScore,
		RiskLevel:      decision.RiskLevel,
		Metadata:       map[string]string{"superseded_id": attempt.ID},
	})
	o.publish(ctx, events.TypeResent, fresh)

	util.Info("Verification resent",
		zap.String("verification_id", fresh.ID),
		zap.String("superseded_id", attempt.ID))

	return fresh, nil
}

// Cancel retires a pending attempt so its code can never settle.
func (o *Orchestrator) Cancel(ctx context.Context, verificationID string, reqCtx model.RequestContext) (*model.VerificationAttempt, error) {
	o.locks.Lock(verificationID)
	defer o.locks.Unlock(verificationID)

	attempt, err := o.attempts.Get(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load verification attempt: %w", err)
	}

	if attempt.Status.Terminal() {
		return nil, ErrAlreadyFinalized
	}

	attempt.Status = model.StatusFailed
	attempt.FailReason = model.ReasonCancelled
	if err := o.attempts.Put(ctx, attempt); err != nil {
		return nil, fmt.Errorf("failed to persist verification attempt: %w", err)
	}

	o.record(ctx, &model.AuditEntry{
		PhoneNumber:    attempt.PhoneNumber,
		Channel:        attempt.Channel,
		Action:         model.ActionCancel,
		Outcome:        model.OutcomeSuccess,
		IPAddress:      reqCtx.IPAddress,
		UserAgent:      reqCtx.UserAgent,
		VerificationID: attempt.ID,
	})
	o.publish(ctx, events.TypeCancelled, attempt)

	util.Info("Verification cancelled", zap.String("verification_id", attempt.ID))
	return attempt, nil
}

// Status returns the attempt's current state, settling lazy expiry first.
func (o *Orchestrator) Status(ctx context.Context, verificationID string) (*model.VerificationAttempt, error) {
	o.locks.Lock(verificationID)
	defer o.locks.Unlock(verificationID)

	attempt, err := o.attempts.Get(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to load verification attempt: %w", err)
	}

	if attempt.Status == model.StatusPending && attempt.ExpiredAt(o.now()) {
		attempt.Status = model.StatusExpired
		if err := o.attempts.Put(ctx, attempt); err != nil {
			return nil, fmt.Errorf("failed to persist verification attempt: %w", err)
		}
		o.publish(ctx, events.TypeExpired, attempt)
	}

	return attempt, nil
}

// ApplyProviderOutcome settles an attempt from a provider webhook. Terminal
// attempts are left untouched, so replayed webhooks are harmless.
func (o *Orchestrator) ApplyProviderOutcome(ctx context.Context, verificationID string, responseCode model.ResponseCode) error {
	o.locks.Lock(verificationID)
	defer o.locks.Unlock(verificationID)

	attempt, err := o.attempts.Get(ctx, verificationID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return ErrNotFound
		}
		return fmt.Errorf("failed to load verification attempt: %w", err)
	}

	if attempt.Status.Terminal() {
		return nil
	}

	webhookCtx := model.RequestContext{UserAgent: "telnyx-webhook"}
	switch responseCode {
	case model.CodeAccepted:
		return o.finalize(ctx, attempt, model.StatusVerified, "", webhookCtx, model.CodeAccepted, events.TypeVerified)
	case model.CodeExpired:
		return o.finalize(ctx, attempt, model.StatusExpired, "", webhookCtx, model.CodeExpired, events.TypeExpired)
	case model.CodeMaxAttempts:
		return o.finalize(ctx, attempt, model.StatusFailed, model.ReasonMaxAttempts, webhookCtx, model.CodeMaxAttempts, events.TypeFailed)
	default:
		// A rejected webhook carries no transition; the attempt stays open.
		return nil
	}
}

// settledCode maps a terminal attempt back onto the response vocabulary.
func (o *Orchestrator) settledCode(attempt *model.VerificationAttempt) model.ResponseCode {
	switch attempt.Status {
	case model.StatusVerified:
		return model.CodeAccepted
	case model.StatusExpired:
		return model.CodeExpired
	default:
		if attempt.FailReason == model.ReasonMaxAttempts {
			return model.CodeMaxAttempts
		}
		return model.CodeRejected
	}
}

func (o *Orchestrator) finalize(
	ctx context.Context,
	attempt *model.VerificationAttempt,
	status model.Status,
	failReason string,
	reqCtx model.RequestContext,
	responseCode model.ResponseCode,
	eventType string,
) error {
	attempt.Status = status
	attempt.FailReason = failReason
	if err := o.attempts.Put(ctx, attempt); err != nil {
		return fmt.Errorf("failed to persist verification attempt: %w", err)
	}

	outcome := model.OutcomeFailed
	if status == model.StatusVerified {
		outcome = model.OutcomeSuccess
	}
	o.record(ctx, &model.AuditEntry{
		PhoneNumber:    attempt.PhoneNumber,
		Channel:        attempt.Channel,
		Action:         model.ActionVerify,
		Outcome:        outcome,
		IPAddress:      reqCtx.IPAddress,
		UserAgent:      reqCtx.UserAgent,
		VerificationID: attempt.ID,
		Metadata:       map[string]string{"response_code": string(responseCode)},
	})
	o.publish(ctx, eventType, attempt)
	return nil
}

// record writes an audit entry, logging rather than failing the request when
// the ledger write itself errors; the caller's outcome is already decided.
func (o *Orchestrator) record(ctx context.Context, entry *model.AuditEntry) {
	if err := o.recorder.Record(ctx, entry); err != nil {
		util.Error("Audit write failed",
			zap.String("action", string(entry.Action)),
			zap.Error(err))
	}
}

func (o *Orchestrator) publish(ctx context.Context, eventType string, attempt *model.VerificationAttempt) {
	if o.publisher == nil {
		return
	}
	o.publisher.Publish(ctx, eventType, attempt)
}
