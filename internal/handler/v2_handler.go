package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"verification-service/internal/audit"
	"verification-service/internal/model"
	"verification-service/internal/service"
	"verification-service/internal/util"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
)

// V2Handler serves the unified verification API. Same orchestrator as the
// legacy surface, uniform response envelope.
type V2Handler struct {
	orchestrator *service.Orchestrator
	indexer      *audit.Indexer
	logger       *zap.Logger
}

// NewV2Handler creates the unified API handler. indexer may be nil when
// Elasticsearch is disabled; audit search then answers 503.
func NewV2Handler(orchestrator *service.Orchestrator, indexer *audit.Indexer, logger *zap.Logger) *V2Handler {
	return &V2Handler{
		orchestrator: orchestrator,
		indexer:      indexer,
		logger:       logger,
	}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Message string      `json:"message,omitempty"`
}

func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

func errorResponse(message string) Response {
	return Response{
		Success: false,
		Error:   message,
	}
}

// RegisterRoutes registers all unified verification routes
func (h *V2Handler) RegisterRoutes(router chi.Router) {
	router.Post("/initiate", h.Initiate)
	router.Post("/verify", h.Verify)
	router.Post("/resend", h.Resend)
	router.Post("/cancel", h.Cancel)
	router.Get("/status/{verificationID}", h.Status)
	router.Get("/audit", h.SearchAudit)
}

type initiateRequest struct {
	PhoneNumber string `json:"phone_number"`
	Method      string `json:"method"`
	CustomCode  string `json:"custom_code,omitempty"`
	TimeoutSecs int    `json:"timeout_secs,omitempty"`
	UserAgent   string `json:"user_agent,omitempty"`
	IPAddress   string `json:"ip_address,omitempty"`
	SessionID   string `json:"session_id,omitempty"`
}

func (h *V2Handler) Initiate(w http.ResponseWriter, r *http.Request) {
	startTime := time.Now()

	var req initiateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
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
		h.respondWithOrchestratorError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(attempt, "Verification code sent"))
	h.logger.Info("Verification initiated via HTTP",
		util.String("verification_id", attempt.ID),
		util.String("method", string(attempt.Channel)),
		util.Duration("duration", time.Since(startTime)),
	)
}

type verifyRequest struct {
	VerificationID string `json:"verification_id"`
	Code           string `json:"code"`
}

type verifyResult struct {
	Verified       bool   `json:"verified"`
	ResponseCode   string `json:"response_code"`
	VerificationID string `json:"verification_id"`
}

func (h *V2Handler) Verify(w http.ResponseWriter, r *http.Request) {
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if req.VerificationID == "" || req.Code == "" {
		h.respondWithError(w, http.StatusBadRequest, "verification_id and code are required")
		return
	}

	code, _, err := h.orchestrator.Verify(r.Context(), req.VerificationID, req.Code,
		requestContext(r, "", "", ""))
	if err != nil {
		h.logger.Error("Verify call failed", util.ErrorField(err),
			util.String("verification_id", req.VerificationID))
		h.respondWithError(w, http.StatusInternalServerError, clientMessage(err))
		return
	}

	result := verifyResult{
		Verified:       code == model.CodeAccepted,
		ResponseCode:   string(code),
		VerificationID: req.VerificationID,
	}
	statusCode := http.StatusOK
	if !result.Verified {
		statusCode = http.StatusBadRequest
	}
	h.respondWithJSON(w, statusCode, Response{
		Success: result.Verified,
		Data:    result,
		Message: outcomeMessage(code),
	})
}

type resendRequest struct {
	VerificationID string `json:"verification_id"`
	UserAgent      string `json:"user_agent,omitempty"`
	IPAddress      string `json:"ip_address,omitempty"`
	SessionID      string `json:"session_id,omitempty"`
}

func (h *V2Handler) Resend(w http.ResponseWriter, r *http.Request) {
	var req resendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VerificationID == "" {
		h.respondWithError(w, http.StatusBadRequest, "verification_id is required")
		return
	}

	attempt, err := h.orchestrator.Resend(r.Context(), req.VerificationID,
		requestContext(r, req.IPAddress, req.UserAgent, req.SessionID))
	if err != nil {
		h.respondWithOrchestratorError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(attempt, "Verification code re-sent"))
}

type cancelRequest struct {
	VerificationID string `json:"verification_id"`
}

func (h *V2Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.VerificationID == "" {
		h.respondWithError(w, http.StatusBadRequest, "verification_id is required")
		return
	}

	attempt, err := h.orchestrator.Cancel(r.Context(), req.VerificationID,
		requestContext(r, "", "", ""))
	if err != nil {
		h.respondWithOrchestratorError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(attempt, "Verification cancelled"))
}

func (h *V2Handler) Status(w http.ResponseWriter, r *http.Request) {
	verificationID := chi.URLParam(r, "verificationID")

	attempt, err := h.orchestrator.Status(r.Context(), verificationID)
	if err != nil {
		h.respondWithOrchestratorError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(attempt, "Verification status retrieved"))
}

// SearchAudit queries the secondary audit index. Operator-facing; phone
// numbers are hashed before they reach the index, so the raw number in the
// query never leaves the process.
func (h *V2Handler) SearchAudit(w http.ResponseWriter, r *http.Request) {
	if h.indexer == nil {
		h.respondWithError(w, http.StatusServiceUnavailable, "Audit search is not available")
		return
	}

	query := audit.SearchQuery{
		Phone:          r.URL.Query().Get("phone"),
		Action:         r.URL.Query().Get("action"),
		Outcome:        r.URL.Query().Get("outcome"),
		VerificationID: r.URL.Query().Get("verification_id"),
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil || limit <= 0 || limit > 100 {
			h.respondWithError(w, http.StatusBadRequest, "Limit must be between 1 and 100")
			return
		}
		query.Limit = limit
	}

	results, err := h.indexer.Search(r.Context(), query)
	if err != nil {
		h.logger.Error("Audit search failed", util.ErrorField(err))
		h.respondWithError(w, http.StatusInternalServerError, "Audit search failed")
		return
	}

	h.respondWithJSON(w, http.StatusOK, successResponse(results, "Audit entries retrieved"))
}

func (h *V2Handler) respondWithOrchestratorError(w http.ResponseWriter, err error) {
	statusCode := statusForError(err)

	var rateLimited *service.RateLimitError
	if errors.As(err, &rateLimited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(rateLimited.RetryAfter.Seconds())+1))
	}
	if statusCode >= http.StatusInternalServerError {
		h.logger.Error("Orchestrator call failed", util.ErrorField(err))
	}

	h.respondWithError(w, statusCode, clientMessage(err))
}

func (h *V2Handler) respondWithError(w http.ResponseWriter, statusCode int, message string) {
	h.respondWithJSON(w, statusCode, errorResponse(message))
}

func (h *V2Handler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}
