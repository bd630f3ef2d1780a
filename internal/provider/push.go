package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/model"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

// PushConfig configures the push gateway provider.
type PushConfig struct {
	GatewayURL string
	APIKey     string
	Timeout    time.Duration
}

// PushProvider posts notifications to an FCM-style push gateway. The
// destination is the device token.
type PushProvider struct {
	cfg    PushConfig
	client *http.Client
	logger *zerolog.Logger
}

type pushRequest struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

type pushResponse struct {
	MessageID string `json:"message_id"`
	Status    string `json:"status"`
}

func NewPushProvider(cfg PushConfig, logger *zerolog.Logger) *PushProvider {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	return &PushProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger,
	}
}

func (p *PushProvider) Send(ctx context.Context, destination, subject, body, notificationID string) (*model.SendResult, error) {
	if destination == "" {
		return nil, apperr.ProviderRejected("empty device token", nil)
	}

	payload, err := json.Marshal(pushRequest{
		To:    destination,
		Title: subject,
		Body:  body,
		Data:  map[string]string{"notification_id": notificationID},
	})
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.GatewayURL+"/v1/send", bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if p.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return nil, apperr.DependencyUnavailable("push gateway unreachable", err)
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	switch {
	case resp.StatusCode >= 500:
		return nil, apperr.DependencyUnavailable(fmt.Sprintf("push gateway returned %d", resp.StatusCode), nil)
	case resp.StatusCode >= 400:
		// Invalid or expired token: retrying the same token cannot help.
		return nil, apperr.ProviderRejected(fmt.Sprintf("push gateway rejected request with %d", resp.StatusCode), nil)
	}

	var parsed pushResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apperr.DependencyUnavailable("invalid response from push gateway", err)
	}

	p.logger.Debug().
		Str("notification_id", notificationID).
		Str("provider_message_id", parsed.MessageID).
		Msg("push accepted by gateway")

	return &model.SendResult{
		ProviderMessageID: parsed.MessageID,
		StatusCode:        resp.StatusCode,
		Accepted:          []string{destination},
		RawResponse:       string(raw),
	}, nil
}
