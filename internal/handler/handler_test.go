package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"verification-service/internal/audit"
	"verification-service/internal/config"
	"verification-service/internal/hashing"
	"verification-service/internal/provider"
	"verification-service/internal/risk"
	"verification-service/internal/service"
	"verification-service/internal/store/memory"
)

func newTestRouter(t *testing.T) chi.Router {
	t.Helper()

	cfg := &config.Config{
		Risk: config.RiskConfig{
			RateLimiting:       true,
			FraudDetection:     true,
			RateLimitMax:       5,
			RateLimitWindow:    5 * time.Minute,
			BlockThreshold:     0.8,
			DensityWeight:      0.3,
			DensityThreshold:   5,
			RapidRetryWeight:   0.2,
			RapidRetryWindow:   time.Minute,
			SuspiciousUAWeight: 0.3,
			IPRiskWeight:       0.1,
		},
		Verification: config.VerificationConfig{
			DefaultTimeoutSecs: 300,
			MaxAttempts:        3,
			ResendCooldown:     30 * time.Second,
		},
		Hashing: config.HashingConfig{
			Argon2MemoryCost:   1024,
			Argon2TimeCost:     1,
			Argon2Parallelism:  1,
			PepperRotationDays: 30,
		},
	}

	orch := service.NewOrchestrator(
		cfg,
		memory.NewAttemptStore(),
		risk.NewGate(cfg, memory.NewRateLimitStore(), memory.NewFraudStore()),
		provider.NewDispatcher(nil, provider.NewMockProvider(), true),
		audit.NewRecorder(memory.NewAuditStore(), nil),
		nil,
		hashing.NewHasher(cfg),
		memory.NewResendLock(),
	)

	logger := zap.NewNop()
	return NewRouter(RouterOptions{
		Legacy:  NewLegacyHandler(orch, logger),
		V2:      NewV2Handler(orch, nil, logger),
		Webhook: NewWebhookHandler(orch, logger),
		Healthy: func(context.Context) bool { return true },
	}, logger)
}

func postJSON(t *testing.T, router chi.Router, path string, body map[string]interface{}) *httptest.ResponseRecorder {
	t.Helper()
	payload, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func initiateLegacy(t *testing.T, router chi.Router, phoneNumber string) string {
	t.Helper()
	rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
		"phoneNumber": phoneNumber,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	id, _ := body["verificationId"].(string)
	require.NotEmpty(t, id)
	return id
}

func TestHealthEndpoint(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"healthy"`)
}

func TestLegacyInitiateResponseShape(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
		"phoneNumber": "+14155550123",
		"method":      "sms",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	assert.NotEmpty(t, body["verificationId"])
	assert.Equal(t, "30-60 seconds", body["estimatedDelivery"])
	assert.NotEmpty(t, body["requestId"])
	assert.Contains(t, body, "responseTime")
	assert.Contains(t, body, "timestamp")
}

func TestLegacyInitiateInvalidPhone(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
		"phoneNumber": "123",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["success"])
	assert.Equal(t, "Invalid phone number format", body["error"])
	assert.NotEmpty(t, body["requestId"])
}

func TestLegacyInitiateUnsupportedMethod(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
		"phoneNumber": "+14155550123",
		"method":      "carrier-pigeon",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "Unsupported verification method", body["error"])
}

func TestLegacyRateLimitReturns429(t *testing.T) {
	router := newTestRouter(t)

	for i := 0; i < 5; i++ {
		rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
			"phoneNumber": "+14155550777",
		})
		require.Equal(t, http.StatusOK, rec.Code, "request %d should pass", i+1)
	}

	rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
		"phoneNumber": "+14155550777",
	})
	require.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))
}

func TestLegacyVerifyHappyPath(t *testing.T) {
	router := newTestRouter(t)
	id := initiateLegacy(t, router, "+14155550123")

	rec := postJSON(t, router, "/api/enterprise-2fa/verify", map[string]interface{}{
		"verificationId": id,
		"code":           "123456",
		"phoneNumber":    "+14155550123",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["verified"])
	assert.Equal(t, id, body["verificationId"])
	assert.Equal(t, "+14155550123", body["phoneNumber"])
}

func TestLegacyVerifyWrongCodeShape(t *testing.T) {
	router := newTestRouter(t)
	id := initiateLegacy(t, router, "+14155550123")

	rec := postJSON(t, router, "/api/enterprise-2fa/verify", map[string]interface{}{
		"verificationId": id,
		"code":           "abc",
		"phoneNumber":    "+14155550123",
	})

	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, false, body["verified"])
	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rejected", details["responseCode"])
	assert.Equal(t, id, details["verificationId"])
}

func TestLegacyVerifyUnknownIDRejected(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/enterprise-2fa/verify", map[string]interface{}{
		"verificationId": "mock_nonexistent",
		"code":           "123456",
	})

	// No existence leak: unknown ids answer like a wrong code.
	require.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody(t, rec)
	details, ok := body["details"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "rejected", details["responseCode"])
}

func TestLegacyStatusLookup(t *testing.T) {
	router := newTestRouter(t)
	id := initiateLegacy(t, router, "+14155550123")

	req := httptest.NewRequest(http.MethodGet, "/api/enterprise-2fa/status/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "pending", body["status"])
	assert.Equal(t, float64(3), body["maxAttempts"])
}

func TestLegacyStatusUnknownID(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/enterprise-2fa/status/mock_missing", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestLegacyCancel(t *testing.T) {
	router := newTestRouter(t)
	id := initiateLegacy(t, router, "+14155550123")

	rec := postJSON(t, router, "/api/enterprise-2fa/cancel", map[string]interface{}{
		"verificationId": id,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "failed", body["status"])

	// Cancelling twice conflicts.
	rec = postJSON(t, router, "/api/enterprise-2fa/cancel", map[string]interface{}{
		"verificationId": id,
	})
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestV2InitiateEnvelope(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/v2/2fa/initiate", map[string]interface{}{
		"phone_number": "+14155550123",
		"method":       "voice",
	})

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	assert.Equal(t, true, body["success"])
	data, ok := body["data"].(map[string]interface{})
	require.True(t, ok)
	assert.Equal(t, "voice", data["method"])
	assert.Equal(t, "pending", data["status"])
	assert.NotEmpty(t, data["verification_id"])
}

func TestV2VerifyEnvelope(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/v2/2fa/initiate", map[string]interface{}{
		"phone_number": "+14155550123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	id := data["verification_id"].(string)

	rec = postJSON(t, router, "/api/v2/2fa/verify", map[string]interface{}{
		"verification_id": id,
		"code":            "654321",
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	body := decodeBody(t, rec)
	result := body["data"].(map[string]interface{})
	assert.Equal(t, true, result["verified"])
	assert.Equal(t, "accepted", result["response_code"])
}

func TestV2ResendReturnsFreshAttempt(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/v2/2fa/initiate", map[string]interface{}{
		"phone_number": "+14155550123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	oldID := data["verification_id"].(string)

	rec = postJSON(t, router, "/api/v2/2fa/resend", map[string]interface{}{
		"verification_id": oldID,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	fresh := decodeBody(t, rec)["data"].(map[string]interface{})
	assert.NotEqual(t, oldID, fresh["verification_id"])
	assert.Equal(t, "pending", fresh["status"])
}

func TestV2ResendCooldown(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/api/v2/2fa/initiate", map[string]interface{}{
		"phone_number": "+14155550999",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	data := decodeBody(t, rec)["data"].(map[string]interface{})
	id := data["verification_id"].(string)

	rec = postJSON(t, router, "/api/v2/2fa/resend", map[string]interface{}{
		"verification_id": id,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	fresh := decodeBody(t, rec)["data"].(map[string]interface{})

	rec = postJSON(t, router, "/api/v2/2fa/resend", map[string]interface{}{
		"verification_id": fresh["verification_id"],
	})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
}

func TestV2AuditSearchUnavailableWithoutIndex(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v2/2fa/audit?phone=%2B14155550123", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestWebhookSettlesAttempt(t *testing.T) {
	router := newTestRouter(t)
	id := initiateLegacy(t, router, "+14155550123")

	rec := postJSON(t, router, "/webhooks/telnyx/verify", map[string]interface{}{
		"data": map[string]interface{}{
			"event_type": "verification.verified",
			"payload":    map[string]interface{}{"verification_id": id},
		},
	})
	require.Equal(t, http.StatusOK, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/enterprise-2fa/status/"+id, nil)
	statusRec := httptest.NewRecorder()
	router.ServeHTTP(statusRec, req)
	body := decodeBody(t, statusRec)
	assert.Equal(t, "verified", body["status"])
}

func TestWebhookReplayIsHarmless(t *testing.T) {
	router := newTestRouter(t)
	id := initiateLegacy(t, router, "+14155550123")

	event := map[string]interface{}{
		"data": map[string]interface{}{
			"event_type": "verification.expired",
			"payload":    map[string]interface{}{"verification_id": id},
		},
	}
	for i := 0; i < 3; i++ {
		rec := postJSON(t, router, "/webhooks/telnyx/verify", event)
		require.Equal(t, http.StatusOK, rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/enterprise-2fa/status/"+id, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, "expired", decodeBody(t, rec)["status"])
}

func TestWebhookUnknownEventAcknowledged(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/webhooks/telnyx/verify", map[string]interface{}{
		"data": map[string]interface{}{
			"event_type": "verification.attempted",
			"payload":    map[string]interface{}{"verification_id": "mock_whatever"},
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"received":true`)
}

func TestWebhookUnknownVerificationAcknowledged(t *testing.T) {
	router := newTestRouter(t)

	rec := postJSON(t, router, "/webhooks/telnyx/verify", map[string]interface{}{
		"data": map[string]interface{}{
			"event_type": "verification.verified",
			"payload":    map[string]interface{}{"verification_id": "mock_gone"},
		},
	})
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestNotFoundAndMethodNotAllowed(t *testing.T) {
	router := newTestRouter(t)

	req := httptest.NewRequest(http.MethodGet, "/nope", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	req = httptest.NewRequest(http.MethodDelete, "/api/v2/2fa/initiate", nil)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestRequireHTTPSBlocksPlainRequests(t *testing.T) {
	handler := requireHTTPS(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUpgradeRequired, rec.Code)
}

func TestEstimatedDeliveryPerChannel(t *testing.T) {
	router := newTestRouter(t)

	for i, tc := range []struct {
		method string
		want   string
	}{
		{"sms", "30-60 seconds"},
		{"voice", "10-30 seconds"},
		{"whatsapp", "10-30 seconds"},
	} {
		rec := postJSON(t, router, "/api/enterprise-2fa/initiate", map[string]interface{}{
			"phoneNumber": fmt.Sprintf("+1415555%04d", i),
			"method":      tc.method,
		})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		assert.Equal(t, tc.want, decodeBody(t, rec)["estimatedDelivery"], tc.method)
	}
}
