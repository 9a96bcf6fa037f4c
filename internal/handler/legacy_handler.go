package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"verification-service/internal/model"
	"verification-service/internal/service"
	"verification-service/internal/util"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"
)

// LegacyHandler serves the original enterprise-2fa surface. Response shapes
// here are frozen for existing integrations; new fields go on the v2 surface.
type LegacyHandler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

func NewLegacyHandler(orchestrator *service.Orchestrator, logger *zap.Logger) *LegacyHandler {
	return &LegacyHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

// RegisterRoutes registers the legacy verification routes
func (h *LegacyHandler) RegisterRoutes(router chi.Router) {
	router.Post("/initiate", h.Initiate)
	router.Post("/verify", h.Verify)
	router.Post("/resend", h.Resend)
	router.Post("/cancel", h.Cancel)
	router.Get("/status/{verificationID}", h.Status)
}

type legacyInitiateRequest struct {
	PhoneNumber string `json:"phoneNumber"`
	Method      string `json:"method"`
	CustomCode  string `json:"customCode,omitempty"`
	TimeoutSecs int    `json:"timeoutSecs,omitempty"`
	UserAgent   string `json:"userAgent,omitempty"`
	IPAddress   string `json:"ipAddress,omitempty"`
	SessionID   string `json:"sessionId,omitempty"`
}

func (h *LegacyHandler) Initiate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := middleware.GetReqID(r.Context())

	var req legacyInitiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":   false,
			"error":     "Invalid request body",
			"requestId": requestID,
		})
		return
	}

	method := req.Method
	if method == "" {
		method = string(model.ChannelSMS)
	}

	attempt, err := h.orchestrator.Initiate(r.Context(), service.InitiateRequest{
		Phone:       req.PhoneNumber,
		Channel:     model.Channel(method),
		CustomCode:  req.CustomCode,
		TimeoutSecs: req.TimeoutSecs,
		Context:     requestContext(r, req.IPAddress, req.UserAgent, req.SessionID),
	})
	if err != nil {
		h.respondInitiateError(w, r, err, requestID, startTime)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"verificationId":    attempt.ID,
		"message":           fmt.Sprintf("Verification code sent via %s", attempt.Channel),
		"estimatedDelivery": estimatedDelivery(attempt.Channel),
		"requestId":         requestID,
		"responseTime":      responseTime(startTime),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
	h.logger.Info("Verification initiated via HTTP",
		util.String("verification_id", attempt.ID),
		util.String("method", string(attempt.Channel)),
		util.Duration("duration", time.Since(startTime)),
	)
}

type legacyVerifyRequest struct {
	VerificationID string `json:"verificationId"`
	Code           string `json:"code"`
	PhoneNumber    string `json:"phoneNumber"`
}

func (h *LegacyHandler) Verify(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req legacyVerifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":   false,
			"verified":  false,
			"error":     "Invalid request body",
			"requestId": requestID,
		})
		return
	}
	if req.VerificationID == "" || req.Code == "" {
		h.respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":   false,
			"verified":  false,
			"error":     "verificationId and code are required",
			"requestId": requestID,
		})
		return
	}

	code, _, err := h.orchestrator.Verify(r.Context(), req.VerificationID, req.Code,
		requestContext(r, "", "", ""))
	if err != nil {
		// Dispatch failures are never reported as a wrong code.
		h.logger.Error("Verify call failed", util.ErrorField(err),
			util.String("verification_id", req.VerificationID))
		h.respondWithJSON(w, http.StatusInternalServerError, map[string]interface{}{
			"success":  false,
			"verified": false,
			"error":    "Verification service temporarily unavailable",
		})
		return
	}

	if code == model.CodeAccepted {
		h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
			"success":        true,
			"verified":       true,
			"verificationId": req.VerificationID,
			"phoneNumber":    req.PhoneNumber,
			"message":        outcomeMessage(code),
			"timestamp":      time.Now().UTC().Format(time.RFC3339),
		})
		return
	}

	h.respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
		"success":  false,
		"verified": false,
		"error":    outcomeMessage(code),
		"details": map[string]interface{}{
			"responseCode":   string(code),
			"verificationId": req.VerificationID,
			"phoneNumber":    req.PhoneNumber,
		},
	})
}

type legacyResendRequest struct {
	VerificationID string `json:"verificationId"`
	UserAgent      string `json:"userAgent,omitempty"`
	IPAddress      string `json:"ipAddress,omitempty"`
	SessionID      string `json:"sessionId,omitempty"`
}

func (h *LegacyHandler) Resend(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()
	requestID := middleware.GetReqID(r.Context())

	var req legacyResendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VerificationID == "" {
		h.respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":   false,
			"error":     "verificationId is required",
			"requestId": requestID,
		})
		return
	}

	attempt, err := h.orchestrator.Resend(r.Context(), req.VerificationID,
		requestContext(r, req.IPAddress, req.UserAgent, req.SessionID))
	if err != nil {
		h.respondInitiateError(w, r, err, requestID, startTime)
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":           true,
		"verificationId":    attempt.ID,
		"message":           fmt.Sprintf("Verification code re-sent via %s", attempt.Channel),
		"estimatedDelivery": estimatedDelivery(attempt.Channel),
		"requestId":         requestID,
		"responseTime":      responseTime(startTime),
		"timestamp":         time.Now().UTC().Format(time.RFC3339),
	})
}

type legacyCancelRequest struct {
	VerificationID string `json:"verificationId"`
}

func (h *LegacyHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	var req legacyCancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VerificationID == "" {
		h.respondWithJSON(w, http.StatusBadRequest, map[string]interface{}{
			"success":   false,
			"error":     "verificationId is required",
			"requestId": requestID,
		})
		return
	}

	attempt, err := h.orchestrator.Cancel(r.Context(), req.VerificationID,
		requestContext(r, "", "", ""))
	if err != nil {
		h.respondWithJSON(w, statusForError(err), map[string]interface{}{
			"success":   false,
			"error":     clientMessage(err),
			"requestId": requestID,
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"verificationId": attempt.ID,
		"status":         string(attempt.Status),
		"message":        "Verification cancelled",
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

func (h *LegacyHandler) Status(w http.ResponseWriter, r *http.Request) {
	requestID := middleware.GetReqID(r.Context())

	verificationID := chi.URLParam(r, "verificationID")
	attempt, err := h.orchestrator.Status(r.Context(), verificationID)
	if err != nil {
		h.respondWithJSON(w, statusForError(err), map[string]interface{}{
			"success":   false,
			"error":     clientMessage(err),
			"requestId": requestID,
		})
		return
	}

	h.respondWithJSON(w, http.StatusOK, map[string]interface{}{
		"success":        true,
		"verificationId": attempt.ID,
		"status":         string(attempt.Status),
		"failReason":     attempt.FailReason,
		"attempts":       attempt.AttemptCount,
		"maxAttempts":    attempt.MaxAttempts,
		"expiresAt":      attempt.ExpiresAt.UTC().Format(time.RFC3339),
		"timestamp":      time.Now().UTC().Format(time.RFC3339),
	})
}

// respondInitiateError renders dispatch-path failures in the legacy shapes:
// validation and risk denials carry a flat error, service failures carry the
// details envelope.
func (h *LegacyHandler) respondInitiateError(w http.ResponseWriter, r *http.Request, err error, requestID string, startTime time.Time) {
	statusCode := statusForError(err)

	var rateLimited *service.RateLimitError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())+1))
	}

	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Verification dispatch failed", util.ErrorField(err),
			util.String("request_id", requestID))
		h.respondWithJSON(w, statusCode, map[string]interface{}{
			"success": false,
			"error":   clientMessage(err),
			"details": map[string]interface{}{
				"message":      clientMessage(err),
				"type":         "provider_failure",
				"requestId":    requestID,
				"responseTime": responseTime(startTime),
				"timestamp":    time.Now().UTC().Format(time.RFC3339),
			},
		})
		return
	}

	h.respondWithJSON(w, statusCode, map[string]interface{}{
		"success":   false,
		"error":     clientMessage(err),
		"requestId": requestID,
	})
}

func (h *LegacyHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

// requestContext folds body-supplied caller context over transport-level
// values. RealIP middleware already rewrote RemoteAddr. Caller strings are
// escaped before they can reach the audit ledger.
func requestContext(r *http.Request, ip, userAgent, sessionID string) model.RequestContext {
	if ip == "" {
		ip = r.RemoteAddr
	}
	if userAgent == "" {
		userAgent = r.UserAgent()
	}
	return model.RequestContext{
		IPAddress: ip,
		UserAgent: util.SanitizeInput(userAgent),
		SessionID: util.SanitizeInput(sessionID),
	}
}

func estimatedDelivery(channel model.Channel) string {
	if channel == model.ChannelSMS {
		return "30-60 seconds"
	}
	return "10-30 seconds"
}

func responseTime(start time.Time) string {
	return fmt.Sprintf("%dms", time.Since(start).Milliseconds())
}
