package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"

	"verification-service/internal/config"
	"verification-service/internal/model"
	"verification-service/internal/util"
)

// channelEndpoints maps delivery channels onto Telnyx Verify API paths.
var channelEndpoints = map[model.Channel]string{
	model.ChannelSMS:       "sms",
	model.ChannelVoice:     "call",
	model.ChannelWhatsApp:  "whatsapp",
	model.ChannelFlashcall: "flashcall",
}

// TelnyxProvider talks to the Telnyx Verify API.
type TelnyxProvider struct {
	apiKey          string
	verifyProfileID string
	baseURL         string
	httpClient      *http.Client
}

// NewTelnyxProvider returns nil when no API key is configured; the
// dispatcher treats that as mock-only mode.
func NewTelnyxProvider(cfg *config.Config) *TelnyxProvider {
	if cfg.Telnyx.APIKey == "" {
		return nil
	}
	return &TelnyxProvider{
		apiKey:          cfg.Telnyx.APIKey,
		verifyProfileID: cfg.Telnyx.VerifyProfileID,
		baseURL:         cfg.Telnyx.APIURL,
		httpClient: &http.Client{
			Timeout: cfg.Telnyx.RequestTimeout,
		},
	}
}

func (p *TelnyxProvider) Name() string { return "telnyx" }

type telnyxCreatePayload struct {
	PhoneNumber     string `json:"phone_number"`
	VerifyProfileID string `json:"verify_profile_id"`
	CustomCode      string `json:"custom_code,omitempty"`
	TimeoutSecs     int    `json:"timeout_secs,omitempty"`
}

type telnyxCreateResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

func (p *TelnyxProvider) Create(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	endpoint, ok := channelEndpoints[req.Channel]
	if !ok {
		return nil, fmt.Errorf("unsupported channel: %s", req.Channel)
	}

	payload := telnyxCreatePayload{
		PhoneNumber:     req.Phone,
		VerifyProfileID: p.verifyProfileID,
		CustomCode:      req.CustomCode,
		TimeoutSecs:     req.TimeoutSecs,
	}

	var resp telnyxCreateResponse
	url := fmt.Sprintf("%s/verifications/%s", p.baseURL, endpoint)
	if err := p.post(ctx, url, payload, &resp); err != nil {
		return nil, err
	}

	if resp.Data.ID == "" {
		return nil, fmt.Errorf("%w: empty verification id in response", ErrUnavailable)
	}

	util.Info("Verification dispatched via Telnyx",
		zap.String("verification_id", resp.Data.ID),
		zap.String("channel", string(req.Channel)))

	return &CreateResult{VerificationID: resp.Data.ID}, nil
}

type telnyxCheckPayload struct {
	Code string `json:"code"`
}

type telnyxCheckResponse struct {
	Data struct {
		ResponseCode string `json:"response_code"`
	} `json:"data"`
}

func (p *TelnyxProvider) Check(ctx context.Context, verificationID, code string) (model.ResponseCode, error) {
	var resp telnyxCheckResponse
	url := fmt.Sprintf("%s/verifications/%s/actions/verify", p.baseURL, verificationID)
	if err := p.post(ctx, url, telnyxCheckPayload{Code: code}, &resp); err != nil {
		return "", err
	}

	switch rc := model.ResponseCode(resp.Data.ResponseCode); rc {
	case model.CodeAccepted, model.CodeRejected, model.CodeExpired, model.CodeMaxAttempts:
		return rc, nil
	default:
		return "", fmt.Errorf("%w: unexpected response_code %q", ErrUnavailable, resp.Data.ResponseCode)
	}
}

func (p *TelnyxProvider) post(ctx context.Context, url string, payload, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode provider request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build provider request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+p.apiKey)

	start := time.Now()
	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return fmt.Errorf("%w: reading response: %v", ErrUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		util.Error("Telnyx API error",
			zap.Int("status", resp.StatusCode),
			zap.Duration("elapsed", time.Since(start)),
			zap.ByteString("body", raw))
		return fmt.Errorf("%w: status %d", ErrUnavailable, resp.StatusCode)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ErrUnavailable, err)
	}
	return nil
}
