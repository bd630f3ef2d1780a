package provider

import (
	"context"
	"fmt"
	"net/http"
	"net/mail"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	gomail "gopkg.in/gomail.v2"

	"github.com/jwalitptl/notifier/internal/model"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
)

// SMTPConfig configures the email provider.
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
}

// EmailProvider delivers over SMTP via gomail. Each Send opens its own
// connection; the consumer's prefetch bound keeps concurrent dials low.
type EmailProvider struct {
	cfg    SMTPConfig
	dialer *gomail.Dialer
	logger *zerolog.Logger
}

func NewEmailProvider(cfg SMTPConfig, logger *zerolog.Logger) *EmailProvider {
	return &EmailProvider{
		cfg:    cfg,
		dialer: gomail.NewDialer(cfg.Host, cfg.Port, cfg.Username, cfg.Password),
		logger: logger,
	}
}

func (p *EmailProvider) Send(ctx context.Context, destination, subject, body, notificationID string) (*model.SendResult, error) {
	if _, err := mail.ParseAddress(destination); err != nil {
		return nil, apperr.ProviderRejected(fmt.Sprintf("invalid email address %q", destination), err)
	}
	if err := ctx.Err(); err != nil {
		return nil, apperr.DependencyUnavailable("send cancelled", err)
	}

	msg := gomail.NewMessage()
	msg.SetHeader("From", p.cfg.From)
	msg.SetHeader("To", destination)
	msg.SetHeader("Subject", subject)
	msg.SetHeader("X-Notification-ID", notificationID)
	msg.SetBody("text/html", body)

	if err := p.dialer.DialAndSend(msg); err != nil {
		if isRecipientRejection(err) {
			return nil, apperr.ProviderRejected("mail server rejected recipient", err)
		}
		return nil, apperr.DependencyUnavailable("mail server unreachable", err)
	}

	providerMsgID := uuid.NewString()
	p.logger.Debug().
		Str("notification_id", notificationID).
		Str("provider_message_id", providerMsgID).
		Msg("email accepted by mail server")

	return &model.SendResult{
		ProviderMessageID: providerMsgID,
		StatusCode:        http.StatusOK,
		Accepted:          []string{destination},
		RawResponse:       "250 accepted",
	}, nil
}

// isRecipientRejection distinguishes permanent SMTP rejections (5xx reply
// codes) from transport failures.
func isRecipientRejection(err error) bool {
	s := err.Error()
	for _, code := range []string{"550", "551", "553", "554"} {
		if strings.Contains(s, code) {
			return true
		}
	}
	return false
}
