package handler

import (
	"errors"
	"net/http"

	"verification-service/internal/model"
	"verification-service/internal/phone"
	"verification-service/internal/service"
)

// statusForError maps orchestrator errors onto HTTP status codes.
func statusForError(err error) int {
	var rateLimited *service.RateLimitError
	switch {
	case errors.Is(err, phone.ErrInvalidPhone), errors.Is(err, service.ErrInvalidChannel):
		return http.StatusBadRequest
	case errors.As(err, &rateLimited), errors.Is(err, service.ErrResendCooldown):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrFraudBlocked):
		return http.StatusForbidden
	case errors.Is(err, service.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrAlreadyFinalized):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage is the human-readable error text sent to callers. Internal
// failure detail stays in the logs; clients get a stable generic message.
func clientMessage(err error) string {
	var rateLimited *service.RateLimitError
	switch {
	case errors.Is(err, phone.ErrInvalidPhone):
		return "Invalid phone number format"
	case errors.Is(err, service.ErrInvalidChannel):
		return "Unsupported verification method"
	case errors.As(err, &rateLimited):
		return "Too many verification requests. Please try again later."
	case errors.Is(err, service.ErrResendCooldown):
		return "Please wait before requesting another code"
	case errors.Is(err, service.ErrFraudBlocked):
		return "Verification request cannot be processed"
	case errors.Is(err, service.ErrNotFound):
		return "Verification not found"
	case errors.Is(err, service.ErrAlreadyFinalized):
		return "Verification is already complete"
	default:
		return "Verification service temporarily unavailable"
	}
}

// outcomeMessage keeps the three terminal verify outcomes distinguishable to
// the end user.
func outcomeMessage(code model.ResponseCode) string {
	switch code {
	case model.CodeAccepted:
		return "Phone number verified successfully"
	case model.CodeExpired:
		return "Verification code has expired"
	case model.CodeMaxAttempts:
		return "Maximum verification attempts exceeded"
	default:
		return "Invalid verification code"
	}
}
