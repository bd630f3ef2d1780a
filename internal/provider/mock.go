package provider

import (
	"context"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/model"
)

// MockProvider logs deliveries instead of sending them. Used when mock
// mode is enabled in config, typically for local development.
type MockProvider struct {
	channel model.Channel
	logger  *zerolog.Logger
}

func NewMockProvider(channel model.Channel, logger *zerolog.Logger) *MockProvider {
	return &MockProvider{channel: channel, logger: logger}
}

func (p *MockProvider) Send(_ context.Context, destination, subject, body, notificationID string) (*model.SendResult, error) {
	p.logger.Info().
		Str("channel", string(p.channel)).
		Str("to", destination).
		Str("subject", subject).
		Str("notification_id", notificationID).
		Int("body_len", len(body)).
		Msg("mock delivery")

	return &model.SendResult{
		ProviderMessageID: uuid.NewString(),
		StatusCode:        http.StatusOK,
		Accepted:          []string{destination},
		RawResponse:       "mock",
	}, nil
}
