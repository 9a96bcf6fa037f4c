// Package provider dispatches verification codes through the Telnyx Verify
// API, with a local mock generator for development and outage fallback.
package provider

import (
	"context"
	"errors"

	"go.uber.org/zap"

	"verification-service/internal/model"
	"verification-service/internal/util"
)

// ErrUnavailable wraps transport-level failures talking to the external
// provider. Callers surface it as a service fault, never as a code
// rejection.
var ErrUnavailable = errors.New("verification provider unavailable")

// CreateRequest asks a provider to deliver a verification code.
type CreateRequest struct {
	Phone       string
	Channel     model.Channel
	CustomCode  string
	TimeoutSecs int
}

// CreateResult identifies the provider-side verification.
type CreateResult struct {
	VerificationID string
}

// Provider delivers verification codes and checks submissions.
type Provider interface {
	Name() string
	Create(ctx context.Context, req CreateRequest) (*CreateResult, error)
	Check(ctx context.Context, verificationID, code string) (model.ResponseCode, error)
}

// Dispatcher routes between the real provider and the mock generator. The
// mock serves when no provider is configured, and optionally as a fallback
// when the real provider fails at dispatch time. Verification IDs are
// namespaced, so checks always land on the provider that created them.
type Dispatcher struct {
	telnyx   *TelnyxProvider // nil when unconfigured
	mock     *MockProvider
	fallback bool
}

func NewDispatcher(telnyx *TelnyxProvider, mock *MockProvider, fallbackEnabled bool) *Dispatcher {
	return &Dispatcher{
		telnyx:   telnyx,
		mock:     mock,
		fallback: fallbackEnabled,
	}
}

// Create dispatches through the configured provider, falling back to the
// mock when enabled.
func (d *Dispatcher) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if d.telnyx == nil {
		util.Debug("No provider configured, using mock dispatch",
			zap.String("channel", string(req.Channel)))
		return d.mock.Create(ctx, req)
	}

	result, err := d.telnyx.Create(ctx, req)
	if err != nil {
		if d.fallback {
			util.Warn("Provider dispatch failed, falling back to mock",
				zap.String("channel", string(req.Channel)),
				zap.Error(err))
			return d.mock.Create(ctx, req)
		}
		return nil, err
	}
	return result, nil
}

// Check routes a code check to whichever provider issued the ID.
func (d *Dispatcher) Check(ctx context.Context, verificationID, code string) (model.ResponseCode, error) {
	return d.providerFor(verificationID).Check(ctx, verificationID, code)
}

// ProviderName reports which provider owns a verification ID.
func (d *Dispatcher) ProviderName(verificationID string) string {
	return d.providerFor(verificationID).Name()
}

func (d *Dispatcher) providerFor(verificationID string) Provider {
	if d.telnyx == nil || isMockID(verificationID) {
		return d.mock
	}
	return d.telnyx
}
