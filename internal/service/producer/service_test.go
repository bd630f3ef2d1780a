package producer

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/notifier/internal/model"
	apperr "github.com/jwalitptl/notifier/pkg/errors"
	"github.com/jwalitptl/notifier/pkg/messaging/memory"
	"github.com/jwalitptl/notifier/pkg/metrics"
)

var testLogger = zerolog.Nop()

func newService() (*Service, *memory.Broker) {
	broker := memory.New(10)
	return NewService(broker, metrics.NewNop(), &testLogger), broker
}

var validReq = EnqueueRequest{
	UserID:        "u1",
	TemplateID:    "welcome_email",
	Variables:     map[string]string{"name": "Ana"},
	ChannelTarget: "ana@example.com",
	Channel:       model.ChannelEmail,
}

func TestEnqueuePublishesWorkItem(t *testing.T) {
	svc, broker := newService()

	resp, err := svc.Enqueue(context.Background(), validReq)
	require.NoError(t, err)
	assert.Equal(t, "queued", resp.Status)
	assert.NotEmpty(t, resp.MessageID)
	assert.NotEmpty(t, resp.CorrelationID)
	assert.NotEmpty(t, resp.NotificationID)

	bodies := broker.Peek("email.queue")
	require.Len(t, bodies, 1)

	var item model.WorkItem
	require.NoError(t, json.Unmarshal(bodies[0], &item))
	assert.Equal(t, resp.MessageID, item.MessageID)
	assert.Equal(t, resp.NotificationID, item.NotificationID)
	assert.Equal(t, "u1", item.UserID)
	assert.Equal(t, "welcome_email", item.TemplateID)
	assert.Equal(t, "ana@example.com", item.ChannelTarget)
	assert.Equal(t, model.PriorityNormal, item.Priority)
	assert.Equal(t, 0, item.RetryCount)
	assert.False(t, item.Timestamp.IsZero())
}

func TestEnqueueUniqueMessageIDs(t *testing.T) {
	svc, _ := newService()

	first, err := svc.Enqueue(context.Background(), validReq)
	require.NoError(t, err)
	second, err := svc.Enqueue(context.Background(), validReq)
	require.NoError(t, err)

	assert.NotEqual(t, first.MessageID, second.MessageID)
	assert.NotEqual(t, first.NotificationID, second.NotificationID)
}

func TestEnqueuePropagatesCorrelationID(t *testing.T) {
	svc, _ := newService()

	req := validReq
	req.CorrelationID = "corr-123"
	resp, err := svc.Enqueue(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "corr-123", resp.CorrelationID)
}

func TestEnqueueRoutesPushToPushQueue(t *testing.T) {
	svc, broker := newService()

	req := validReq
	req.Channel = model.ChannelPush
	req.ChannelTarget = "device-token-1"
	_, err := svc.Enqueue(context.Background(), req)
	require.NoError(t, err)

	assert.Equal(t, 1, broker.Depth("push.queue"))
	assert.Equal(t, 0, broker.Depth("email.queue"))
}

func TestEnqueueValidation(t *testing.T) {
	svc, broker := newService()

	cases := []struct {
		name   string
		mutate func(*EnqueueRequest)
	}{
		{"missing user_id", func(r *EnqueueRequest) { r.UserID = "" }},
		{"missing template_id", func(r *EnqueueRequest) { r.TemplateID = "" }},
		{"missing channel_target", func(r *EnqueueRequest) { r.ChannelTarget = "" }},
		{"invalid channel", func(r *EnqueueRequest) { r.Channel = "fax" }},
		{"invalid priority", func(r *EnqueueRequest) { r.Priority = "urgent" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := validReq
			tc.mutate(&req)
			_, err := svc.Enqueue(context.Background(), req)
			require.Error(t, err)
			assert.Equal(t, apperr.KindValidation, apperr.KindOf(err))
		})
	}

	// Validation failures must never touch the broker.
	assert.Equal(t, 0, broker.Depth("email.queue"))
	assert.Equal(t, 0, broker.Depth("push.queue"))
}
