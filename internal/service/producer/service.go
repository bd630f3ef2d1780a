// Package producer implements the enqueue side of the pipeline: it accepts
// a delivery request, assigns identifiers, and publishes a durable work
// item to the channel's queue.
package producer

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/notifier/internal/model"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
	"github.com/jwalitptl/notifier/pkg/messaging"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

// EnqueueRequest is a request to deliver one notification.
type EnqueueRequest struct {
	UserID        string            `json:"user_id" binding:"required" validate:"required"`
	TemplateID    string            `json:"template_id" binding:"required" validate:"required"`
	Variables     map[string]string `json:"variables"`
	ChannelTarget string            `json:"channel_target" binding:"required" validate:"required"`
	Channel       model.Channel     `json:"channel" binding:"required" validate:"required"`
	Priority      model.Priority    `json:"priority"`
	CorrelationID string            `json:"correlation_id"`
}

// EnqueueResponse acknowledges a durable publish. It does not guarantee
// eventual delivery; that is observable only through the lifecycle tracker.
type EnqueueResponse struct {
	MessageID      string `json:"message_id"`
	CorrelationID  string `json:"correlation_id"`
	NotificationID string `json:"notification_id"`
	Status         string `json:"status"`
}

type Service struct {
	broker  messaging.Broker
	metrics *metrics.Metrics
	logger  *zerolog.Logger
}

func NewService(broker messaging.Broker, m *metrics.Metrics, logger *zerolog.Logger) *Service {
	return &Service{broker: broker, metrics: m, logger: logger}
}

// Enqueue validates the request and publishes one WorkItem to the
// channel's queue. A successful return means the item is durably queued.
// Publish failures surface to the caller unretried; the caller decides.
func (s *Service) Enqueue(ctx context.Context, req EnqueueRequest) (*EnqueueResponse, error) {
	if err := validate(req); err != nil {
		return nil, err
	}

	item := model.WorkItem{
		MessageID:      uuid.NewString(),
		CorrelationID:  req.CorrelationID,
		NotificationID: uuid.NewString(),
		UserID:         req.UserID,
		TemplateID:     req.TemplateID,
		Variables:      req.Variables,
		ChannelTarget:  req.ChannelTarget,
		Channel:        req.Channel,
		Priority:       req.Priority,
		RetryCount:     0,
		Timestamp:      time.Now().UTC(),
	}
	if item.CorrelationID == "" {
		item.CorrelationID = uuid.NewString()
	}
	if item.Priority == "" {
		item.Priority = model.PriorityNormal
	}

	body, err := json.Marshal(item)
	if err != nil {
		return nil, err
	}

	if err := s.broker.Publish(ctx, item.Channel.Queue(), body); err != nil {
		s.metrics.EnqueueFailed.WithLabelValues(string(item.Channel)).Inc()
		s.logger.Error().Err(err).
			Str("message_id", item.MessageID).
			Str("channel", string(item.Channel)).
			Msg("publish failed")
		return nil, apperr.DependencyUnavailable("broker unavailable", err)
	}

	s.metrics.Enqueued.WithLabelValues(string(item.Channel)).Inc()
	s.logger.Info().
		Str("message_id", item.MessageID).
		Str("correlation_id", item.CorrelationID).
		Str("notification_id", item.NotificationID).
		Str("channel", string(item.Channel)).
		Str("template_id", item.TemplateID).
		Msg("work item queued")

	return &EnqueueResponse{
		MessageID:      item.MessageID,
		CorrelationID:  item.CorrelationID,
		NotificationID: item.NotificationID,
		Status:         "queued",
	}, nil
}

var requestValidator = validator.New()

func validate(req EnqueueRequest) error {
	if err := requestValidator.Struct(req); err != nil {
		return apperr.Validation("invalid enqueue request", err)
	}
	switch {
	case !req.Channel.Valid():
		return apperr.Validation("channel must be email or push", nil)
	case req.Priority != "" && !req.Priority.Valid():
		return apperr.Validation("priority must be high, normal, or low", nil)
	}
	return nil
}
