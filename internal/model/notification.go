package model

import (
	"time"

	"github.com/google/uuid"
)

// Channel identifies the delivery channel a notification goes out on.
// Each channel has its own broker queue and provider.
type Channel string

const (
	ChannelEmail Channel = "email"
	ChannelPush  Channel = "push"
)

// Queue returns the broker queue name for the channel.
func (c Channel) Queue() string {
	switch c {
	case ChannelPush:
		return "push.queue"
	default:
		return "email.queue"
	}
}

// Valid reports whether the channel is one this pipeline delivers on.
func (c Channel) Valid() bool {
	return c == ChannelEmail || c == ChannelPush
}

// Priority is advisory metadata carried on a WorkItem. It is accepted and
// stored but has no scheduling effect.
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) Valid() bool {
	return p == PriorityHigh || p == PriorityNormal || p == PriorityLow
}

// Status is the lifecycle status of a NotificationRecord.
type Status string

const (
	StatusProcessing Status = "PROCESSING"
	StatusSent       Status = "SENT"
	StatusDelivered  Status = "DELIVERED"
	StatusFailed     Status = "FAILED"
)

// Lifecycle event types appended to a notification's audit trail.
const (
	EventProcessingStarted = "PROCESSING_STARTED"
	EventUserFetched       = "USER_FETCHED"
	EventTemplateFetched   = "TEMPLATE_FETCHED"
	EventRendered          = "RENDERED"
	EventSentToProvider    = "SENT_TO_PROVIDER"
	EventDelivered         = "DELIVERED"
	EventFailed            = "FAILED"
)

// WorkItem is the wire payload published to a channel queue. It is produced
// once and consumed one or more times; every field except RetryCount is
// immutable after publish.
type WorkItem struct {
	MessageID      string            `json:"message_id"`
	CorrelationID  string            `json:"correlation_id"`
	NotificationID string            `json:"notification_id"`
	UserID         string            `json:"user_id"`
	TemplateID     string            `json:"template_id"`
	Variables      map[string]string `json:"variables"`
	ChannelTarget  string            `json:"channel_target"`
	Channel        Channel           `json:"channel"`
	Priority       Priority          `json:"priority"`
	RetryCount     int               `json:"retry_count"`
	Timestamp      time.Time         `json:"timestamp"`
}

// NotificationRecord is the persisted lifecycle record, one per
// notification_id. Created exactly once (idempotently) when a WorkItem is
// first dequeued and mutated only by the consumer.
type NotificationRecord struct {
	NotificationID string     `db:"notification_id" json:"notification_id"`
	UserID         string     `db:"user_id" json:"user_id"`
	TemplateID     string     `db:"template_id" json:"template_id"`
	Status         Status     `db:"status" json:"status"`
	Destination    string     `db:"destination" json:"destination,omitempty"`
	Subject        string     `db:"subject" json:"subject,omitempty"`
	ProviderMsgID  string     `db:"provider_message_id" json:"provider_message_id,omitempty"`
	ProviderStatus int        `db:"provider_status_code" json:"provider_status_code,omitempty"`
	ProviderRaw    string     `db:"provider_raw_response" json:"provider_raw_response,omitempty"`
	Attempts       int        `db:"attempts" json:"attempts"`
	ErrorMessage   string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt      time.Time  `db:"created_at" json:"created_at"`
	SentAt         *time.Time `db:"sent_at" json:"sent_at,omitempty"`
	DeliveredAt    *time.Time `db:"delivered_at" json:"delivered_at,omitempty"`
}

// NotificationEvent is one entry in a notification's append-only audit log.
type NotificationEvent struct {
	ID             uuid.UUID         `db:"id" json:"id"`
	NotificationID string            `db:"notification_id" json:"notification_id"`
	EventType      string            `db:"event_type" json:"event_type"`
	Description    string            `db:"description" json:"description,omitempty"`
	Metadata       map[string]string `db:"-" json:"metadata,omitempty"`
	CreatedAt      time.Time         `db:"created_at" json:"created_at"`
}

// SendResult captures the provider's acceptance of a delivery.
type SendResult struct {
	ProviderMessageID string   `json:"provider_message_id"`
	StatusCode        int      `json:"status_code"`
	Accepted          []string `json:"accepted,omitempty"`
	Rejected          []string `json:"rejected,omitempty"`
	RawResponse       string   `json:"raw_response,omitempty"`
}

// StatusCounts aggregates record counts by status over a trailing window.
type StatusCounts struct {
	Processing int64 `json:"processing"`
	Sent       int64 `json:"sent"`
	Delivered  int64 `json:"delivered"`
	Failed     int64 `json:"failed"`
	Total      int64 `json:"total"`
}
