package provider

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"verification-service/internal/model"
	"verification-service/internal/util"
)

// MockProvider simulates code delivery locally. IDs carry a fixed prefix so
// checks can always be routed back here regardless of which provider is
// configured at check time.
type MockProvider struct{}

func NewMockProvider() *MockProvider {
	return &MockProvider{}
}

func (p *MockProvider) Name() string { return "mock" }

func (p *MockProvider) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	id := model.MockIDPrefix + uuid.New().String()

	util.Info("Verification dispatched via mock provider",
		zap.String("verification_id", id),
		zap.String("channel", string(req.Channel)))

	return &CreateResult{VerificationID: id}, nil
}

// Check accepts the well-known development code and, for convenience, any
// six-digit code. Everything else is rejected.
func (p *MockProvider) Check(ctx context.Context, verificationID, code string) (model.ResponseCode, error) {
	if code == "123456" || isSixDigits(code) {
		return model.CodeAccepted, nil
	}
	return model.CodeRejected, nil
}

func isSixDigits(code string) bool {
	if len(code) != 6 {
		return false
	}
	for _, r := range code {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

func isMockID(verificationID string) bool {
	return strings.HasPrefix(verificationID, model.MockIDPrefix)
}
