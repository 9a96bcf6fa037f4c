package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"verification-service/internal/model"
	"verification-service/internal/service"
	"verification-service/internal/util"

	"go.uber.org/zap"
)

// WebhookHandler consumes Telnyx Verify callbacks and settles the matching
// ledger attempt. Telnyx retries on non-2xx, so everything we cannot act on
// is acknowledged and logged instead of erroring.
type WebhookHandler struct {
	orchestrator *service.Orchestrator
	logger       *zap.Logger
}

func NewWebhookHandler(orchestrator *service.Orchestrator, logger *zap.Logger) *WebhookHandler {
	return &WebhookHandler{
		orchestrator: orchestrator,
		logger:       logger,
	}
}

type telnyxEvent struct {
	Data struct {
		EventType string `json:"event_type"`
		Payload   struct {
			VerificationID string `json:"verification_id"`
			ID             string `json:"id"`
			ResponseCode   string `json:"response_code"`
		} `json:"payload"`
	} `json:"data"`
}

// outcomeForEvent maps a webhook event onto a response code. Events that
// carry no settlement (attempted, rate_limited, unknown) return false.
func outcomeForEvent(evt telnyxEvent) (model.ResponseCode, bool) {
	if evt.Data.Payload.ResponseCode != "" {
		code := model.ResponseCode(evt.Data.Payload.ResponseCode)
		switch code {
		case model.CodeAccepted, model.CodeRejected, model.CodeExpired, model.CodeMaxAttempts:
			return code, true
		}
		return "", false
	}

	switch evt.Data.EventType {
	case "verification.verified":
		return model.CodeAccepted, true
	case "verification.expired":
		return model.CodeExpired, true
	case "verification.failed":
		return model.CodeMaxAttempts, true
	default:
		return "", false
	}
}

func (h *WebhookHandler) HandleVerifyEvent(w http.ResponseWriter, r *http.Request) {
	var evt telnyxEvent
	if err := json.NewDecoder(r.Body).Decode(&evt); err != nil {
		h.respond(w, http.StatusBadRequest, `{"error":"invalid webhook payload"}`)
		return
	}

	verificationID := evt.Data.Payload.VerificationID
	if verificationID == "" {
		verificationID = evt.Data.Payload.ID
	}
	if verificationID == "" {
		h.logger.Warn("Webhook event without verification id",
			util.String("event_type", evt.Data.EventType))
		h.respond(w, http.StatusOK, `{"received":true}`)
		return
	}

	code, actionable := outcomeForEvent(evt)
	if !actionable {
		h.logger.Info("Webhook event acknowledged without action",
			util.String("event_type", evt.Data.EventType),
			util.String("verification_id", verificationID))
		h.respond(w, http.StatusOK, `{"received":true}`)
		return
	}

	if err := h.orchestrator.ApplyProviderOutcome(r.Context(), verificationID, code); err != nil {
		if errors.Is(err, service.ErrNotFound) {
			// Attempt may have been reaped; nothing to settle.
			h.logger.Warn("Webhook for unknown verification",
				util.String("verification_id", verificationID),
				util.String("event_type", evt.Data.EventType))
			h.respond(w, http.StatusOK, `{"received":true}`)
			return
		}
		h.logger.Error("Failed to apply webhook outcome",
			util.ErrorField(err),
			util.String("verification_id", verificationID))
		h.respond(w, http.StatusInternalServerError, `{"error":"failed to process event"}`)
		return
	}

	h.logger.Info("Webhook outcome applied",
		util.String("verification_id", verificationID),
		util.String("event_type", evt.Data.EventType),
		util.String("response_code", string(code)),
	)
	h.respond(w, http.StatusOK, `{"received":true}`)
}

func (h *WebhookHandler) respond(w http.ResponseWriter, statusCode int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	w.Write([]byte(body))
}
