package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"verification-service/internal/config"
	"verification-service/internal/model"
)

func telnyxTestConfig(url string) *config.Config {
	return &config.Config{
		Telnyx: config.TelnyxConfig{
			APIKey:          "test-key",
			VerifyProfileID: "profile-1",
			APIURL:          url,
			RequestTimeout:  5 * time.Second,
		},
	}
}

func TestTelnyxCreateHitsChannelEndpoint(t *testing.T) {
	var gotPath, gotAuth string
	var gotPayload map[string]interface{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotPayload))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":{"id":"telnyx-abc-123"}}`))
	}))
	defer srv.Close()

	p := NewTelnyxProvider(telnyxTestConfig(srv.URL))
	require.NotNil(t, p)

	result, err := p.Create(context.Background(), CreateRequest{
		Phone:       "+14155550123",
		Channel:     model.ChannelVoice,
		TimeoutSecs: 300,
	})
	require.NoError(t, err)
	assert.Equal(t, "telnyx-abc-123", result.VerificationID)
	assert.Equal(t, "/verifications/call", gotPath)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "+14155550123", gotPayload["phone_number"])
	assert.Equal(t, "profile-1", gotPayload["verify_profile_id"])
	assert.Equal(t, float64(300), gotPayload["timeout_secs"])
	_, hasCustom := gotPayload["custom_code"]
	assert.False(t, hasCustom, "custom_code should be omitted when empty")
}

func TestTelnyxCreateChannelPaths(t *testing.T) {
	tests := []struct {
		channel model.Channel
		path    string
	}{
		{model.ChannelSMS, "/verifications/sms"},
		{model.ChannelVoice, "/verifications/call"},
		{model.ChannelWhatsApp, "/verifications/whatsapp"},
		{model.ChannelFlashcall, "/verifications/flashcall"},
	}

	for _, tt := range tests {
		t.Run(string(tt.channel), func(t *testing.T) {
			var gotPath string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotPath = r.URL.Path
				_, _ = w.Write([]byte(`{"data":{"id":"v1"}}`))
			}))
			defer srv.Close()

			p := NewTelnyxProvider(telnyxTestConfig(srv.URL))
			_, err := p.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: tt.channel})
			require.NoError(t, err)
			assert.Equal(t, tt.path, gotPath)
		})
	}
}

func TestTelnyxCheckResponseCodes(t *testing.T) {
	for _, code := range []string{"accepted", "rejected", "expired", "max_attempts"} {
		t.Run(code, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/verifications/v-42/actions/verify", r.URL.Path)
				var payload map[string]string
				require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))
				assert.Equal(t, "000000", payload["code"])
				_, _ = w.Write([]byte(`{"data":{"response_code":"` + code + `"}}`))
			}))
			defer srv.Close()

			p := NewTelnyxProvider(telnyxTestConfig(srv.URL))
			got, err := p.Check(context.Background(), "v-42", "000000")
			require.NoError(t, err)
			assert.Equal(t, model.ResponseCode(code), got)
		})
	}
}

func TestTelnyxErrorsSurfaceAsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"errors":[{"detail":"invalid profile"}]}`, http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	p := NewTelnyxProvider(telnyxTestConfig(srv.URL))

	_, err := p.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: model.ChannelSMS})
	assert.ErrorIs(t, err, ErrUnavailable)

	_, err = p.Check(context.Background(), "v-1", "123456")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTelnyxUnreachableHost(t *testing.T) {
	cfg := telnyxTestConfig("http://127.0.0.1:1")
	cfg.Telnyx.RequestTimeout = 500 * time.Millisecond
	p := NewTelnyxProvider(cfg)

	_, err := p.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: model.ChannelSMS})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestTelnyxUnconfiguredReturnsNil(t *testing.T) {
	p := NewTelnyxProvider(&config.Config{})
	assert.Nil(t, p)
}

func TestMockCreatePrefixesID(t *testing.T) {
	p := NewMockProvider()
	result, err := p.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: model.ChannelSMS})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.VerificationID, model.MockIDPrefix))
}

func TestMockCheckLeniency(t *testing.T) {
	p := NewMockProvider()
	ctx := context.Background()

	tests := []struct {
		code string
		want model.ResponseCode
	}{
		{"123456", model.CodeAccepted},
		{"000000", model.CodeAccepted},
		{"987654", model.CodeAccepted},
		{"12345", model.CodeRejected},
		{"1234567", model.CodeRejected},
		{"12345a", model.CodeRejected},
		{"", model.CodeRejected},
	}
	for _, tt := range tests {
		got, err := p.Check(ctx, "mock_x", tt.code)
		require.NoError(t, err)
		assert.Equal(t, tt.want, got, "code %q", tt.code)
	}
}

func TestDispatcherUsesMockWhenUnconfigured(t *testing.T) {
	d := NewDispatcher(nil, NewMockProvider(), true)

	result, err := d.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: model.ChannelSMS})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.VerificationID, model.MockIDPrefix))
	assert.Equal(t, "mock", d.ProviderName(result.VerificationID))
}

func TestDispatcherFallsBackOnProviderFailure(t *testing.T) {
	cfg := telnyxTestConfig("http://127.0.0.1:1")
	cfg.Telnyx.RequestTimeout = 500 * time.Millisecond
	d := NewDispatcher(NewTelnyxProvider(cfg), NewMockProvider(), true)

	result, err := d.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: model.ChannelSMS})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(result.VerificationID, model.MockIDPrefix))
}

func TestDispatcherNoFallbackPropagatesError(t *testing.T) {
	cfg := telnyxTestConfig("http://127.0.0.1:1")
	cfg.Telnyx.RequestTimeout = 500 * time.Millisecond
	d := NewDispatcher(NewTelnyxProvider(cfg), NewMockProvider(), false)

	_, err := d.Create(context.Background(), CreateRequest{Phone: "+14155550123", Channel: model.ChannelSMS})
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestDispatcherRoutesChecksByIDPrefix(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"response_code":"rejected"}}`))
	}))
	defer srv.Close()

	d := NewDispatcher(NewTelnyxProvider(telnyxTestConfig(srv.URL)), NewMockProvider(), true)

	// Mock-issued IDs go to the mock, even with a real provider configured.
	got, err := d.Check(context.Background(), "mock_abc", "123456")
	require.NoError(t, err)
	assert.Equal(t, model.CodeAccepted, got)

	// Provider IDs go to the real provider.
	got, err = d.Check(context.Background(), "telnyx-1", "123456")
	require.NoError(t, err)
	assert.Equal(t, model.CodeRejected, got)
}
