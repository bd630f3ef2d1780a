package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/internal/model"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

var testLogger = zerolog.Nop()

func TestPushProviderSend(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/send", r.URL.Path)
		assert.Equal(t, "Bearer key-123", r.Header.Get("Authorization"))

		var req pushRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "device-token-1", req.To)
		assert.Equal(t, "n-1", req.Data["notification_id"])

		json.NewEncoder(w).Encode(pushResponse{MessageID: "fcm-42", Status: "accepted"})
	}))
	defer srv.Close()

	p := NewPushProvider(PushConfig{GatewayURL: srv.URL, APIKey: "key-123"}, &testLogger)
	res, err := p.Send(context.Background(), "device-token-1", "Hi", "Body", "n-1")
	require.NoError(t, err)
	assert.Equal(t, "fcm-42", res.ProviderMessageID)
	assert.Equal(t, http.StatusOK, res.StatusCode)
	assert.Equal(t, []string{"device-token-1"}, res.Accepted)
}

func TestPushProviderRejection(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	p := NewPushProvider(PushConfig{GatewayURL: srv.URL}, &testLogger)
	_, err := p.Send(context.Background(), "bad-token", "Hi", "Body", "n-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindProviderRejected, apperr.KindOf(err))
}

func TestPushProviderGatewayDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	p := NewPushProvider(PushConfig{GatewayURL: srv.URL}, &testLogger)
	_, err := p.Send(context.Background(), "token", "Hi", "Body", "n-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindDependencyUnavailable, apperr.KindOf(err))
}

func TestEmailProviderInvalidAddress(t *testing.T) {
	p := NewEmailProvider(SMTPConfig{Host: "localhost", Port: 25, From: "noreply@example.com"}, &testLogger)
	_, err := p.Send(context.Background(), "not-an-address", "Hi", "Body", "n-1")
	require.Error(t, err)
	assert.Equal(t, apperr.KindProviderRejected, apperr.KindOf(err))
}

func TestMockProviderAlwaysAccepts(t *testing.T) {
	p := NewMockProvider(model.ChannelEmail, &testLogger)
	res, err := p.Send(context.Background(), "ana@example.com", "Hi", "Body", "n-1")
	require.NoError(t, err)
	assert.NotEmpty(t, res.ProviderMessageID)
	assert.Equal(t, "mock", res.RawResponse)
}
